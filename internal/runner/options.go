package runner

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/vk/taskgrid/internal/task"
)

// Options configures a Runner. The zero value is usable: full parallelism,
// goroutine isolation, no timeout, progress logging on.
type Options struct {
	// MaxConcurrency caps the number of simultaneously in-flight units.
	// Zero selects the available parallelism; values below one are clamped
	// to one with a warning.
	MaxConcurrency int
	// Timeout bounds the drain performed by Results. Anything still in
	// flight past it is force-terminated. Zero means unbounded.
	Timeout time.Duration
	// FastFail aborts the whole run on the first observed failure.
	FastFail bool
	// Isolation selects how units run their work items.
	Isolation task.Isolation
	// DisableProgress suppresses the periodic progress log lines.
	DisableProgress bool
	// LogErrors logs each task failure as it is reaped, in addition to
	// recording it in the registry.
	LogErrors bool
	// Name is the display label used in logs and reports. Defaults to
	// "taskgrid-" plus a short random id.
	Name string
	// Logger receives all runner logging. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Name == "" {
		o.Name = "taskgrid-" + uuid.NewString()[:8]
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = runtime.NumCPU()
	}
	if o.MaxConcurrency < 1 {
		o.Logger.Warn("max concurrency clamped to 1, tasks will not run in parallel",
			"requested", o.MaxConcurrency)
		o.MaxConcurrency = 1
	}
	return o
}
