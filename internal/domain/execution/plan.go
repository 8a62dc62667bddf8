package execution

import (
	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// PlanEntry is a step in plan order together with what its check found.
type PlanEntry struct {
	step   compiler.Step
	status compiler.StepStatus
	diff   compiler.Diff
	err    error // probe failure; status is then unknown
}

func NewPlanEntry(step compiler.Step, status compiler.StepStatus, diff compiler.Diff) PlanEntry {
	return PlanEntry{step: step, status: status, diff: diff}
}

func (e PlanEntry) Step() compiler.Step         { return e.step }
func (e PlanEntry) Status() compiler.StepStatus { return e.status }
func (e PlanEntry) Diff() compiler.Diff         { return e.diff }
func (e PlanEntry) Err() error                  { return e.err }

// PlanSummary counts plan entries by checked status.
type PlanSummary struct {
	Total      int
	NeedsApply int
	Satisfied  int
	Unknown    int
}

// Plan is the dependency-ordered list of steps for one host. An unchecked
// plan has every entry unknown.
type Plan struct {
	entries []PlanEntry
}

func NewPlan() *Plan {
	return &Plan{}
}

func (p *Plan) Add(entry PlanEntry) {
	p.entries = append(p.entries, entry)
}

func (p *Plan) Len() int {
	return len(p.entries)
}

// Entries returns the entries in execution order.
func (p *Plan) Entries() []PlanEntry {
	return p.entries
}

// HasChanges reports whether applying the plan could touch the host: some
// step needs applying or could not be checked.
func (p *Plan) HasChanges() bool {
	s := p.Summary()
	return s.NeedsApply+s.Unknown > 0
}

// Unavailable returns the first probe failure, or nil.
func (p *Plan) Unavailable() error {
	for _, e := range p.entries {
		if e.err != nil {
			return e.err
		}
	}
	return nil
}

func (p *Plan) Summary() PlanSummary {
	s := PlanSummary{Total: len(p.entries)}
	for _, e := range p.entries {
		switch e.status {
		case compiler.StatusNeedsApply:
			s.NeedsApply++
		case compiler.StatusSatisfied:
			s.Satisfied++
		case compiler.StatusUnknown:
			s.Unknown++
		}
	}
	return s
}
