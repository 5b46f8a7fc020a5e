package runner

import "errors"

// Registration and lifecycle errors surfaced synchronously at the API
// boundary. Work-item failures are never returned from these methods; they
// are recovered inside the execution unit and recorded in the registry.
var (
	// ErrNilWork is returned when the registered work item is not invocable.
	ErrNilWork = errors.New("work item is not invocable")
	// ErrDuplicateLabel is returned when a label is registered twice.
	ErrDuplicateLabel = errors.New("duplicate task label")
	// ErrAlreadyStarted is returned by AddTask and ExecuteInBackground once a
	// run has begun. A Runner is single use.
	ErrAlreadyStarted = errors.New("runner has already started execution")
	// ErrNotStarted is returned by Results before any run has begun.
	ErrNotStarted = errors.New("runner has not started execution")
	// ErrStillRunning is returned by Verify while the run is in progress.
	ErrStillRunning = errors.New("execution is still in progress")
	// ErrAlreadyRunning is returned when an execution unit is started twice.
	ErrAlreadyRunning = errors.New("execution unit is already running")
)
