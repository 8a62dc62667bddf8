// Package execution resolves a plan from the step registry and runs it:
// checking live state, applying what is missing and rolling back on failure.
package execution

import (
	"errors"
	"time"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// Status is the final outcome of a step within one run.
type Status string

const (
	// StatusSkipped means the step was already satisfied.
	StatusSkipped Status = "skipped"
	// StatusApplied means the step ran and succeeded.
	StatusApplied Status = "applied"
	// StatusFailed means the step's apply failed.
	StatusFailed Status = "failed"
	// StatusRolledBack means the step was applied and then undone.
	StatusRolledBack Status = "rolled_back"
	// StatusNotRun means the step was never attempted.
	StatusNotRun Status = "not_run"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// StepResult captures the outcome of a single step.
type StepResult struct {
	stepID      compiler.StepID
	status      Status
	err         error
	rollbackErr error
	startedAt   time.Time
	finishedAt  time.Time
	diff        compiler.Diff
}

// NewStepResult creates a new StepResult.
func NewStepResult(stepID compiler.StepID, status Status, err error) StepResult {
	return StepResult{
		stepID: stepID,
		status: status,
		err:    err,
	}
}

// StepID returns the ID of the step.
func (r StepResult) StepID() compiler.StepID {
	return r.stepID
}

// Status returns the final status of the step.
func (r StepResult) Status() Status {
	return r.status
}

// Error returns the failure cause, or for a not-run step the reason it was not attempted.
func (r StepResult) Error() error {
	return r.err
}

// RollbackError returns the error from a rollback that did not complete.
func (r StepResult) RollbackError() error {
	return r.rollbackErr
}

// StartedAt returns when the scheduler began the step.
func (r StepResult) StartedAt() time.Time {
	return r.startedAt
}

// FinishedAt returns when the step's last operation returned.
func (r StepResult) FinishedAt() time.Time {
	return r.finishedAt
}

// Duration returns how long the step took.
func (r StepResult) Duration() time.Duration {
	if r.startedAt.IsZero() || r.finishedAt.IsZero() {
		return 0
	}
	return r.finishedAt.Sub(r.startedAt)
}

// Diff returns the change the step made or would make.
func (r StepResult) Diff() compiler.Diff {
	return r.diff
}

// Hint returns the remediation suggestion for a failed step.
func (r StepResult) Hint() string {
	var se *compiler.StepError
	if errors.As(r.err, &se) && se.Suggestion != "" {
		return se.Suggestion
	}
	return compiler.RemediationHint(r.err)
}

// WithStatus returns a copy with the status and error replaced.
func (r StepResult) WithStatus(status Status, err error) StepResult {
	r.status = status
	r.err = err
	return r
}

// WithTimes returns a copy with timestamps set.
func (r StepResult) WithTimes(started, finished time.Time) StepResult {
	r.startedAt = started
	r.finishedAt = finished
	return r
}

// WithFinishedAt returns a copy with the finish time set.
func (r StepResult) WithFinishedAt(finished time.Time) StepResult {
	r.finishedAt = finished
	return r
}

// WithRollbackError returns a copy recording a failed rollback.
func (r StepResult) WithRollbackError(err error) StepResult {
	r.rollbackErr = err
	return r
}

// WithDiff returns a copy with diff set.
func (r StepResult) WithDiff(d compiler.Diff) StepResult {
	r.diff = d
	return r
}
