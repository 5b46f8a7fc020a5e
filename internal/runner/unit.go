package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/vk/taskgrid/internal/ctxlog"
	"github.com/vk/taskgrid/internal/registry"
	"github.com/vk/taskgrid/internal/task"
)

// unit lifecycle states.
const (
	unitCreated int32 = iota
	unitStarted
	unitRunning
	unitFinished
)

// unit wraps one work item for execution. It owns its goroutine (and, for
// process-backed work, the child process) exclusively; the runner holds a
// handle used only to start, join, and terminate it.
type unit struct {
	label     string
	work      task.WorkItem
	isolation task.Isolation
	reg       *registry.Registry

	state     atomic.Int32
	done      chan struct{}
	startTime time.Time
}

func newUnit(label string, work task.WorkItem, isolation task.Isolation, reg *registry.Registry) *unit {
	return &unit{
		label:     label,
		work:      work,
		isolation: isolation,
		reg:       reg,
		done:      make(chan struct{}),
	}
}

// start launches the work item. It fails if the unit is already live; a unit
// runs at most once.
func (u *unit) start(ctx context.Context) error {
	if !u.state.CompareAndSwap(unitCreated, unitStarted) {
		return fmt.Errorf("unit %q: %w", u.label, ErrAlreadyRunning)
	}
	u.startTime = time.Now()
	go u.run(ctx)
	return nil
}

// run invokes the work item and records the outcome. The record write always
// happens here on success, failure, or panic; it is silently discarded only
// when the label was already force-finalized as Terminated.
func (u *unit) run(ctx context.Context) {
	u.state.Store(unitRunning)
	defer func() {
		u.state.Store(unitFinished)
		close(u.done)
	}()

	var (
		result any
		err    error
		trace  string
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
				trace = string(debug.Stack())
			}
		}()
		result, err = u.work.Invoke(ctx)
	}()
	end := time.Now()

	if err != nil {
		result = nil
	}
	if !u.reg.Complete(u.label, u.startTime, end, result, err, trace) {
		ctxlog.FromContext(ctx).Debug("discarding result of terminated unit",
			"label", u.label, "error", err)
	}
}

// join blocks until the unit stops or timeout elapses. A non-positive timeout
// waits indefinitely. It never mutates the record.
func (u *unit) join(timeout time.Duration) bool {
	if timeout <= 0 {
		<-u.done
		return true
	}
	select {
	case <-u.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// terminate forcibly stops a process-backed unit. Goroutine-backed work has
// no kill primitive: the unit is abandoned and its eventual completion, if
// any, is discarded because the record has already been finalized.
func (u *unit) terminate() {
	if u.isolation != task.IsolationProcess {
		return
	}
	if t, ok := u.work.(task.Terminator); ok {
		_ = t.Terminate()
	}
}

// forceFinalize writes a Terminated record for the unit unless one was
// already recorded. Idempotent.
func (u *unit) forceFinalize(cause error) {
	u.reg.Finalize(u.label, u.startTime, cause)
}

// exitStatus returns (0, true) once the unit has definitively stopped,
// regardless of success or failure. It is a liveness signal, not a Unix
// exit code.
func (u *unit) exitStatus() (int, bool) {
	if u.stopped() {
		return 0, true
	}
	return 0, false
}

// stopped reports whether the unit's goroutine has finished.
func (u *unit) stopped() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}
