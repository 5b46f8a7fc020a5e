package runner

import (
	"fmt"
	"strings"

	"github.com/vk/taskgrid/internal/report"
)

// Failure is one failed label inside a RunError.
type Failure struct {
	Label    string
	TaskName string
	Message  string
	Trace    string
}

// RunError aggregates every failed task of a run into a single error carrying
// the rendered results table plus each failing label's message and trace.
type RunError struct {
	Message  string
	Report   string
	Failures []Failure
}

func (e *RunError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteString("\n")
	b.WriteString(e.Report)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\ntask %q failed with error: %s", f.Label, f.Message)
		if f.Trace != "" {
			b.WriteString("\n")
			b.WriteString(f.Trace)
		}
	}
	return b.String()
}

// Verify checks that every record completed successfully. It fails with
// ErrStillRunning while the run is in progress. With failures present it
// returns a *RunError; otherwise it logs the results table and returns nil.
func (r *Runner) Verify() error {
	return r.VerifyMessage("execution failed")
}

// VerifyMessage is Verify with a custom aggregate error message.
func (r *Runner) VerifyMessage(message string) error {
	if r.IsRunning() {
		return ErrStillRunning
	}

	snapshot := r.reg.Snapshot()
	rendered := report.Render(r.reg.Labels(), snapshot)

	var failures []Failure
	for _, label := range r.reg.Labels() {
		rec := snapshot[label]
		if !rec.HasFailed {
			continue
		}
		failures = append(failures, Failure{
			Label:    label,
			TaskName: rec.TaskName,
			Message:  rec.Error,
			Trace:    rec.Trace,
		})
	}

	if len(failures) > 0 {
		return &RunError{Message: message, Report: rendered, Failures: failures}
	}
	r.log.Info("all tasks completed successfully\n" + rendered)
	return nil
}
