package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/taskgrid/internal/ctxlog"
	"github.com/vk/taskgrid/internal/manifest"
	"github.com/vk/taskgrid/internal/report"
	"github.com/vk/taskgrid/internal/runner"
	"github.com/vk/taskgrid/internal/task"
)

// Run executes the manifest end to end: load, register, run, report.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("app run started", "manifest", a.config.ManifestPath)

	m, err := manifest.Load(ctx, a.config.ManifestPath)
	if err != nil {
		return err
	}
	if len(m.Tasks) == 0 {
		a.logger.Warn("manifest declares no tasks, nothing to run")
		return nil
	}

	opts, err := a.buildOptions(m)
	if err != nil {
		return err
	}

	r := runner.New(opts)
	if err := r.AddBatch(m.Batch()); err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	a.logger.Info("starting execution", "tasks", r.Len(), "max_concurrency", opts.MaxConcurrency)
	results, err := r.Run(ctx, !a.config.NoVerify)

	var runErr *runner.RunError
	if errors.As(err, &runErr) {
		// The aggregate error already carries the rendered table and every
		// failure's message and trace.
		fmt.Fprintln(a.outW, runErr.Error())
		return fmt.Errorf("%d of %d tasks failed", len(runErr.Failures), len(results))
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(a.outW, report.Render(r.Registry().Labels(), results))
	a.logger.Info("execution finished", "tasks", len(results))
	return nil
}

// buildOptions layers configuration: runner defaults, then the manifest's
// settings block, then explicit CLI overrides.
func (a *App) buildOptions(m *manifest.Manifest) (runner.Options, error) {
	opts := runner.Options{Logger: a.logger}
	if m.Settings != nil {
		if err := m.Settings.Apply(&opts); err != nil {
			return opts, err
		}
	}
	if a.config.Workers > 0 {
		opts.MaxConcurrency = a.config.Workers
	}
	if a.config.FastFail {
		opts.FastFail = true
	}
	if a.config.Timeout != "" {
		d, err := time.ParseDuration(a.config.Timeout)
		if err != nil {
			return opts, fmt.Errorf("invalid timeout %q: %w", a.config.Timeout, err)
		}
		opts.Timeout = d
	}
	if a.config.Isolation != "" {
		iso, err := task.ParseIsolation(a.config.Isolation)
		if err != nil {
			return opts, err
		}
		opts.Isolation = iso
	}
	return opts, nil
}
