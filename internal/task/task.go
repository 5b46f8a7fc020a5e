// Package task defines the work-item capability the runner executes: an
// opaque, zero-argument-at-invocation callable with its inputs bound at
// construction time.
package task

import (
	"context"
	"fmt"
)

// WorkItem is a single unit of work registered with the runner. Arguments are
// captured when the item is built; Invoke takes only a context.
type WorkItem interface {
	// Name is the human-readable task name recorded in the results registry.
	Name() string
	// Invoke runs the work and returns its result. Any error (or panic,
	// recovered by the execution unit) marks the task as failed.
	Invoke(ctx context.Context) (any, error)
}

// Terminator is implemented by work items that can be forcibly stopped.
// Goroutine-backed work has no kill primitive and never implements it.
type Terminator interface {
	Terminate() error
}

// Isolation selects how execution units run their work items.
type Isolation int

const (
	// IsolationGoroutine runs each work item on its own goroutine. Shared
	// memory, cheap, but a runaway item can only be abandoned, not killed.
	IsolationGoroutine Isolation = iota
	// IsolationProcess runs process-backed work items (see Command) in a
	// child OS process that supports true forced termination.
	IsolationProcess
)

func (i Isolation) String() string {
	switch i {
	case IsolationProcess:
		return "process"
	default:
		return "goroutine"
	}
}

// ParseIsolation converts a configuration string into an Isolation mode.
func ParseIsolation(s string) (Isolation, error) {
	switch s {
	case "goroutine", "":
		return IsolationGoroutine, nil
	case "process":
		return IsolationProcess, nil
	default:
		return IsolationGoroutine, fmt.Errorf("invalid isolation mode %q: must be 'goroutine' or 'process'", s)
	}
}

// Func adapts a Go function into a WorkItem. Arguments are bound by the
// closure the caller supplies.
type Func struct {
	name string
	fn   func(ctx context.Context) (any, error)
}

// NewFunc wraps fn as a named work item.
func NewFunc(name string, fn func(ctx context.Context) (any, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

// Invoke calls the bound function. A nil function reports an error instead of
// panicking so a misconstructed item still produces a usable record.
func (f *Func) Invoke(ctx context.Context) (any, error) {
	if f.fn == nil {
		return nil, fmt.Errorf("work item %q has no function bound", f.name)
	}
	return f.fn(ctx)
}
