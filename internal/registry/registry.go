// Package registry holds the per-label execution records for one run.
//
// Each label's record is written by exactly one execution unit, plus an
// idempotent force-finalize path used for terminations. The first finalizing
// write wins; a late natural completion of an abandoned unit is discarded.
// Process-backed work reports through the parent-side unit goroutine, so the
// parent process is always the single writer per label.
package registry

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Status classifies how a task ended (or that it has not ended yet).
type Status string

const (
	// StatusPending means the task has not finished: queued, blocked, or in flight.
	StatusPending Status = "Pending"
	// StatusSuccessful means the work item returned without error.
	StatusSuccessful Status = "Successful"
	// StatusFailed means the work item returned an error or panicked.
	StatusFailed Status = "Failed"
	// StatusTerminated means the task was force-stopped or never allowed to
	// run: timeout, abort, fail-fast, or a failed dependency.
	StatusTerminated Status = "Terminated"
)

// Record is the execution record for one label.
type Record struct {
	TaskName        string
	StartTime       time.Time
	EndTime         time.Time
	Duration        string
	DurationSeconds float64
	Result          any
	Error           string
	Trace           string
	Status          Status
	HasFailed       bool
}

// Results is a point-in-time snapshot of all records, keyed by label.
type Results map[string]Record

// Registry is the label-keyed record store for a single run.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	final   map[string]bool
	order   []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		final:   make(map[string]bool),
	}
}

// Init creates the empty Pending record for a freshly registered label.
func (r *Registry) Init(label, taskName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[label]; ok {
		return
	}
	r.records[label] = &Record{TaskName: taskName, Status: StatusPending}
	r.order = append(r.order, label)
}

// Complete records the outcome of a finished work item. A non-nil err marks
// the record Failed even when its message is empty. Complete reports false
// and leaves the record untouched when the label was already force-finalized,
// which is how abandoned units have their late results discarded.
func (r *Registry) Complete(label string, start, end time.Time, result any, err error, trace string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[label]
	if !ok || r.final[label] {
		return false
	}
	failed := err != nil
	status := StatusSuccessful
	errMsg := ""
	if failed {
		status = StatusFailed
		errMsg = err.Error()
	}
	r.fill(rec, start, end, status)
	rec.Result = result
	rec.Error = errMsg
	rec.Trace = trace
	rec.HasFailed = failed
	r.final[label] = true
	return true
}

// Finalize force-terminates a label's record with the given cause. It is
// idempotent: once a record is final, later calls are no-ops.
func (r *Registry) Finalize(label string, startedAt time.Time, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[label]
	if !ok || r.final[label] {
		return false
	}
	r.fill(rec, startedAt, time.Now(), StatusTerminated)
	rec.Result = nil
	rec.Error = cause.Error()
	rec.HasFailed = true
	r.final[label] = true
	return true
}

// fill populates the shared timing fields. Caller must hold the lock.
func (r *Registry) fill(rec *Record, start, end time.Time, status Status) {
	if start.IsZero() {
		start = end
	}
	rec.StartTime = start
	rec.EndTime = end
	rec.Duration, rec.DurationSeconds = formatDuration(end.Sub(start))
	rec.Status = status
}

// Finalized reports whether the label's record has been written.
func (r *Registry) Finalized(label string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.final[label]
}

// Get returns a copy of the label's record.
func (r *Registry) Get(label string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[label]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Labels returns all labels in registration order.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns an immutable copy of the full mapping at call time.
func (r *Registry) Snapshot() Results {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Results, len(r.records))
	for label, rec := range r.records {
		out[label] = *rec
	}
	return out
}

// Len returns the number of registered labels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// formatDuration renders a duration the way reports display it: seconds with
// two decimals, switching to minutes past the one-minute mark. The numeric
// seconds value is returned alongside for machine consumers.
func formatDuration(d time.Duration) (string, float64) {
	secs := math.Round(d.Seconds()*100) / 100
	if secs > 60 {
		return fmt.Sprintf("%.2f min", secs/60), secs
	}
	return fmt.Sprintf("%.2f sec", secs), secs
}
