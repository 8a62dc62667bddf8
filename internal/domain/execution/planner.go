package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// Planner resolves a StepGraph into a Plan, optionally checking live state.
type Planner struct {
	checks bool
}

// NewPlanner creates a Planner that checks every step.
func NewPlanner() *Planner {
	return &Planner{checks: true}
}

// WithChecks returns a Planner that does or does not query live state.
func (p *Planner) WithChecks(checks bool) *Planner {
	return &Planner{checks: checks}
}

// Plan resolves the graph and checks each step. A step whose state cannot
// be queried is recorded as unknown and planning continues, so every probe
// problem is reported at once. Without checks every step is unknown.
func (p *Planner) Plan(ctx context.Context, graph *compiler.StepGraph) (*Plan, error) {
	steps, err := graph.Resolve()
	if err != nil {
		return nil, err
	}

	plan := NewPlan()
	runCtx := compiler.NewRunContext(ctx).WithDryRun(true)

	for _, step := range steps {
		if !p.checks {
			plan.Add(NewPlanEntry(step, compiler.StatusUnknown, compiler.Diff{}))
			continue
		}
		entry, err := p.planStep(step, runCtx)
		if err != nil {
			return nil, fmt.Errorf("plan step %q: %w", step.ID().String(), err)
		}
		plan.Add(entry)
	}

	return plan, nil
}

func (p *Planner) planStep(step compiler.Step, ctx compiler.RunContext) (PlanEntry, error) {
	status, err := step.Check(ctx)
	if err != nil {
		if ctx.Context().Err() != nil {
			return PlanEntry{}, ctx.Context().Err()
		}
		if !errors.Is(err, compiler.ErrProbeUnavailable) {
			err = compiler.NewProbeUnavailableError(step.ID().String(), err)
		}
		return PlanEntry{step: step, status: compiler.StatusUnknown, err: err}, nil
	}

	var diff compiler.Diff
	if status == compiler.StatusNeedsApply {
		diff, err = step.Plan(ctx)
		if err != nil {
			return PlanEntry{}, fmt.Errorf("diff: %w", err)
		}
	}

	return NewPlanEntry(step, status, diff), nil
}
