package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vk/taskgrid/internal/ctxlog"
	"github.com/vk/taskgrid/internal/registry"
)

// maintain is the background maintenance loop. Each iteration reaps stopped
// units, skips labels whose dependencies can no longer succeed, admits ready
// labels up to the concurrency cap, then sleeps a fixed interval. It stops
// when every label has finished or the runner is force-terminated.
func (r *Runner) maintain(ctx context.Context) {
	defer close(r.loopDone)

	for {
		select {
		case <-ctx.Done():
			r.forceTerminate(fmt.Errorf("terminated: %w", ctx.Err()))
			return
		default:
		}

		r.mu.Lock()
		r.reapLocked(ctx)
		if r.state.Load() == stateTerminated {
			r.mu.Unlock()
			return
		}
		r.skipBlockedLocked(ctx)
		r.admitLocked(ctx)
		remaining := len(r.pending) + len(r.inFlight)
		r.mu.Unlock()

		if remaining == 0 {
			r.log.Debug("all tasks finished", "executed", r.executed)
			return
		}
		time.Sleep(maintenanceInterval)
	}
}

// reapLocked moves every stopped in-flight unit into its terminal set and
// applies the fail-fast policy. Caller must hold r.mu.
func (r *Runner) reapLocked(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for label, u := range r.inFlight {
		if !u.stopped() {
			continue
		}
		u.join(0)
		delete(r.inFlight, label)
		r.executed++

		rec, _ := r.reg.Get(label)
		switch {
		case rec.Status == registry.StatusTerminated:
			r.terminated[label] = struct{}{}
		case rec.HasFailed:
			r.failed[label] = struct{}{}
		default:
			r.succeeded[label] = struct{}{}
		}
		r.logProgressLocked()

		if !rec.HasFailed {
			continue
		}
		if r.opts.LogErrors || r.opts.FastFail {
			logger.Error("task failed", "label", label, "error", rec.Error, "trace", rec.Trace)
		}
		if r.opts.FastFail {
			logger.Error("fail-fast enabled, terminating execution", "label", label)
			r.terminateLocked(fmt.Errorf("terminated: fail-fast after failure of %q", label))
			return
		}
	}
}

// skipBlockedLocked finalizes every pending label with a failed or terminated
// dependency as Terminated without starting it. Re-running this once per
// iteration propagates skips transitively across dependency chains. Caller
// must hold r.mu.
func (r *Runner) skipBlockedLocked(ctx context.Context) {
	if len(r.failed)+len(r.terminated) == 0 {
		return
	}
	stopped := make(map[string]struct{}, len(r.failed)+len(r.terminated))
	for label := range r.failed {
		stopped[label] = struct{}{}
	}
	for label := range r.terminated {
		stopped[label] = struct{}{}
	}

	logger := ctxlog.FromContext(ctx)
	kept := r.pending[:0]
	for _, label := range r.pending {
		dep, blocked := r.g.Blocked(label, stopped)
		if !blocked {
			kept = append(kept, label)
			continue
		}
		logger.Warn("skipping task due to upstream failure", "label", label, "dependency", dep)
		r.reg.Finalize(label, time.Time{}, fmt.Errorf("skipped due to upstream failure of %q", dep))
		r.terminated[label] = struct{}{}
	}
	r.pending = kept
}

// admitLocked starts the earliest-registered ready pending labels while the
// in-flight set is below the concurrency cap. Caller must hold r.mu.
func (r *Runner) admitLocked(ctx context.Context) {
	if r.state.Load() == stateTerminated {
		return
	}
	logger := ctxlog.FromContext(ctx)
	for i := 0; i < len(r.pending); {
		if len(r.inFlight) >= r.opts.MaxConcurrency {
			return
		}
		label := r.pending[i]
		if !r.g.Ready(label, r.succeeded) {
			i++
			continue
		}
		u := r.units[label]
		if err := u.start(ctx); err != nil {
			logger.Error("failed to start execution unit", "label", label, "error", err)
			i++
			continue
		}
		logger.Debug("task started", "label", label)
		r.inFlight[label] = u
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
	}
}

// terminateLocked is the shared forced-termination path used by abort,
// fail-fast, drain timeout and context cancellation. It kills what can be
// killed, abandons what cannot, and finalizes every unfinished record as
// Terminated. Caller must hold r.mu.
func (r *Runner) terminateLocked(cause error) {
	r.state.Store(stateTerminated)
	if r.cancel != nil {
		r.cancel()
	}
	for label, u := range r.inFlight {
		u.terminate()
		u.forceFinalize(cause)
		delete(r.inFlight, label)
		r.terminated[label] = struct{}{}
		r.log.Info("terminated in-flight task", "label", label)
	}
	for _, label := range r.pending {
		r.reg.Finalize(label, time.Time{}, cause)
		r.terminated[label] = struct{}{}
	}
	r.pending = nil
}

// logProgressLocked emits one progress line every time the executed count
// crosses a 1/progressDivisor fraction of the total. Caller must hold r.mu.
func (r *Runner) logProgressLocked() {
	total := len(r.units)
	if r.opts.DisableProgress || total == 0 {
		return
	}
	prev := (r.executed - 1) * progressDivisor / total
	cur := r.executed * progressDivisor / total
	if cur == prev && r.executed != total {
		return
	}
	pct := float64(r.executed) / float64(total) * 100
	filled := int(pct / 4)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", 25-filled)
	r.log.Info(fmt.Sprintf("progress: [%s] %d/%d (%.0f%%)", bar, r.executed, total, pct),
		"elapsed", time.Since(r.timeStarted).Round(time.Millisecond))
}
