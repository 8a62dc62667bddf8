package execution

import (
	"errors"
	"time"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// Summary counts step outcomes.
type Summary struct {
	Total      int
	Skipped    int
	Applied    int
	Failed     int
	RolledBack int
	NotRun     int
}

// PlanResult is the outcome of one scheduler run.
type PlanResult struct {
	runID      string
	results    []StepResult
	warnings   []error
	aborted    bool
	cancelled  bool
	abortErr   error
	startedAt  time.Time
	finishedAt time.Time
}

// RunID returns the unique identifier of the run.
func (r *PlanResult) RunID() string {
	return r.runID
}

// Results returns one result per step in plan order.
func (r *PlanResult) Results() []StepResult {
	out := make([]StepResult, len(r.results))
	copy(out, r.results)
	return out
}

// Result returns the result for a step.
func (r *PlanResult) Result(id compiler.StepID) (StepResult, bool) {
	for _, res := range r.results {
		if res.stepID == id {
			return res, true
		}
	}
	return StepResult{}, false
}

// Warnings returns non-fatal problems, such as rollbacks that did not complete.
func (r *PlanResult) Warnings() []error {
	out := make([]error, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// PartialRollback reports whether any rollback failed.
func (r *PlanResult) PartialRollback() bool {
	for _, w := range r.warnings {
		if errors.Is(w, compiler.ErrRollbackFailed) {
			return true
		}
	}
	return false
}

// Aborted reports whether the run stopped early because live state could
// not be queried or the run was cancelled.
func (r *PlanResult) Aborted() bool {
	return r.aborted
}

// Cancelled reports whether the run was cancelled from outside.
func (r *PlanResult) Cancelled() bool {
	return r.cancelled
}

// AbortError returns the cause of an aborted run.
func (r *PlanResult) AbortError() error {
	return r.abortErr
}

// StartedAt returns when the run began.
func (r *PlanResult) StartedAt() time.Time {
	return r.startedAt
}

// FinishedAt returns when the run ended.
func (r *PlanResult) FinishedAt() time.Time {
	return r.finishedAt
}

// Summary counts outcomes by status.
func (r *PlanResult) Summary() Summary {
	s := Summary{Total: len(r.results)}
	for _, res := range r.results {
		switch res.status {
		case StatusSkipped:
			s.Skipped++
		case StatusApplied:
			s.Applied++
		case StatusFailed:
			s.Failed++
		case StatusRolledBack:
			s.RolledBack++
		case StatusNotRun:
			s.NotRun++
		}
	}
	return s
}

// Success reports whether every step ended Skipped or Applied with no
// rollback warnings.
func (r *PlanResult) Success() bool {
	if r.aborted || r.PartialRollback() {
		return false
	}
	for _, res := range r.results {
		if res.status != StatusSkipped && res.status != StatusApplied {
			return false
		}
	}
	return true
}

// ExitCode maps the result to a process exit status: 0 on full success,
// 1 on any failure, partial rollback or abort.
func (r *PlanResult) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}
