package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/taskgrid/internal/ctxlog"
	"github.com/vk/taskgrid/internal/graph"
	"github.com/vk/taskgrid/internal/registry"
	"github.com/vk/taskgrid/internal/task"
)

// Runner lifecycle states.
const (
	stateNotStarted int32 = iota
	stateRunning
	stateClosing
	stateTerminated
)

// maintenanceInterval is the fixed wake interval of the maintenance loop.
const maintenanceInterval = 25 * time.Millisecond

// progressDivisor controls progress logging: one line every time the executed
// count crosses a 1/progressDivisor fraction of the total.
const progressDivisor = 10

// Task is one batch-registration entry for AddBatch.
type Task struct {
	Work      task.WorkItem
	Label     string // optional; defaults to the 0-based registration index
	DependsOn []string
}

// Runner owns the pending queue, the in-flight set, the dependency graph and
// the results registry for a single run. It is single use: once a run has
// started no further tasks can be added, and a fresh Runner is required for
// another run.
type Runner struct {
	opts Options
	log  *slog.Logger
	reg  *registry.Registry
	g    *graph.Graph

	mu         sync.Mutex
	units      map[string]*unit
	pending    []string // FIFO, registration order
	inFlight   map[string]*unit
	succeeded  map[string]struct{}
	failed     map[string]struct{}
	terminated map[string]struct{}
	executed   int

	state       atomic.Int32
	loopDone    chan struct{}
	cancel      context.CancelFunc
	timeStarted time.Time
}

// New creates a Runner with the given options.
func New(opts Options) *Runner {
	opts = opts.withDefaults()
	return &Runner{
		opts:       opts,
		log:        opts.Logger.With("runner", opts.Name),
		reg:        registry.New(),
		g:          graph.New(),
		units:      make(map[string]*unit),
		inFlight:   make(map[string]*unit),
		succeeded:  make(map[string]struct{}),
		failed:     make(map[string]struct{}),
		terminated: make(map[string]struct{}),
		loopDone:   make(chan struct{}),
	}
}

// AddTask registers a work item under label. An empty label is replaced by
// the 0-based registration index. Dependencies are validated immediately and
// the run never starts on an invalid graph.
func (r *Runner) AddTask(work task.WorkItem, label string, dependsOn ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Checked under the lock so a registration racing ExecuteInBackground
	// cannot slip into pending after the initial admission pass.
	if r.state.Load() != stateNotStarted {
		return fmt.Errorf("cannot add tasks: %w", ErrAlreadyStarted)
	}
	if work == nil {
		return ErrNilWork
	}

	if label == "" {
		label = strconv.Itoa(len(r.units))
	}
	if _, ok := r.units[label]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateLabel, label)
	}
	if err := r.g.Add(label, dependsOn); err != nil {
		return err
	}

	r.reg.Init(label, work.Name())
	r.units[label] = newUnit(label, work, r.opts.Isolation, r.reg)
	r.pending = append(r.pending, label)
	return nil
}

// AddBatch registers every entry of the batch, stopping at the first error.
func (r *Runner) AddBatch(batch []Task) error {
	for _, t := range batch {
		if err := r.AddTask(t.Work, t.Label, t.DependsOn...); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteInBackground starts the run: it performs an initial admission pass
// and spawns the maintenance loop, then returns immediately. Cancelling ctx
// force-terminates the run.
func (r *Runner) ExecuteInBackground(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateNotStarted, stateRunning) {
		return fmt.Errorf("%w: create a new Runner to run again", ErrAlreadyStarted)
	}

	ctx = ctxlog.WithLogger(ctx, r.log)
	loopCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.timeStarted = time.Now()
	r.admitLocked(loopCtx)
	r.mu.Unlock()

	r.log.Debug("execution started",
		"tasks", len(r.units),
		"max_concurrency", r.opts.MaxConcurrency,
		"isolation", r.opts.Isolation.String(),
		"fast_fail", r.opts.FastFail)

	go r.maintain(loopCtx)
	return nil
}

// Run executes all registered tasks and blocks for the results. It is
// ExecuteInBackground followed by Results.
func (r *Runner) Run(ctx context.Context, verify bool) (registry.Results, error) {
	if err := r.ExecuteInBackground(ctx); err != nil {
		return nil, err
	}
	return r.Results(verify)
}

// Results blocks until the run drains, bounded by the configured Timeout.
// Anything still in flight past the timeout is force-terminated. The returned
// snapshot is an independent copy; calling Results again after completion
// returns an identical one. With verify set, a *RunError aggregating every
// failure accompanies the snapshot.
func (r *Runner) Results(verify bool) (registry.Results, error) {
	if r.state.Load() == stateNotStarted {
		return nil, ErrNotStarted
	}
	r.state.CompareAndSwap(stateRunning, stateClosing)

	if r.opts.Timeout > 0 {
		select {
		case <-r.loopDone:
		case <-time.After(r.opts.Timeout):
			r.log.Warn("drain timeout exceeded, terminating remaining tasks",
				"timeout", r.opts.Timeout)
			r.forceTerminate(fmt.Errorf("terminated: timeout of %s exceeded", r.opts.Timeout))
			<-r.loopDone
		}
	} else {
		<-r.loopDone
	}

	out := r.reg.Snapshot()
	if verify {
		if err := r.Verify(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Abort immediately force-terminates every in-flight unit, finalizes every
// unfinished label as Terminated and returns a snapshot.
func (r *Runner) Abort() registry.Results {
	if r.state.Load() != stateNotStarted {
		r.forceTerminate(fmt.Errorf("terminated: run aborted"))
		<-r.loopDone
	}
	return r.reg.Snapshot()
}

// forceTerminate moves the runner to the Terminated state and finalizes
// everything that has not finished.
func (r *Runner) forceTerminate(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminateLocked(cause)
}

// IsRunning reports whether the maintenance loop is still advancing the run.
func (r *Runner) IsRunning() bool {
	if r.state.Load() == stateNotStarted {
		return false
	}
	select {
	case <-r.loopDone:
		return false
	default:
		return true
	}
}

// ActiveCount returns the number of units currently in flight.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}

// Len returns the number of registered tasks.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}

// Registry exposes the results registry, primarily for report rendering.
func (r *Runner) Registry() *registry.Registry {
	return r.reg
}

// Name returns the runner's display name.
func (r *Runner) Name() string {
	return r.opts.Name
}
