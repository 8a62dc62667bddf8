package compiler

// CheckFunc reports whether a step's postcondition already holds.
type CheckFunc func(ctx RunContext) (bool, error)

// ActionFunc performs a side effect (apply or rollback).
type ActionFunc func(ctx RunContext) error

// StepSpec is a declarative step assembled from functions.
// It is the building block for custom command steps and for tests; host
// steps with richer behaviour implement Step directly.
type StepSpec struct {
	id          StepID
	deps        []StepID
	check       CheckFunc
	apply       ActionFunc
	rollback    ActionFunc
	idempotent  bool
	diff        Diff
	explanation Explanation
}

// NewStepSpec creates a StepSpec with the given name and dependencies.
func NewStepSpec(name string, dependsOn ...string) (*StepSpec, error) {
	id, err := NewStepID(name)
	if err != nil {
		return nil, err
	}
	deps, err := StepIDs(dependsOn...)
	if err != nil {
		return nil, err
	}
	return &StepSpec{
		id:          id,
		deps:        deps,
		idempotent:  true,
		diff:        NewDiff(DiffTypeAdd, "step", id.String(), "", "applied"),
		explanation: NewExplanation(id.String(), "", nil),
	}, nil
}

// MustStepSpec is NewStepSpec for names known to be valid.
func MustStepSpec(name string, dependsOn ...string) *StepSpec {
	s, err := NewStepSpec(name, dependsOn...)
	if err != nil {
		panic(err)
	}
	return s
}

// WithDependsOn adds dependencies. Invalid names panic, as with MustStepSpec.
func (s *StepSpec) WithDependsOn(names ...string) *StepSpec {
	deps, err := StepIDs(names...)
	if err != nil {
		panic(err)
	}
	s.deps = append(s.deps, deps...)
	return s
}

// WithCheck sets the satisfaction check. Without one the step always applies.
func (s *StepSpec) WithCheck(fn CheckFunc) *StepSpec {
	s.check = fn
	return s
}

// WithApply sets the apply action.
func (s *StepSpec) WithApply(fn ActionFunc) *StepSpec {
	s.apply = fn
	return s
}

// WithRollback sets the rollback action.
func (s *StepSpec) WithRollback(fn ActionFunc) *StepSpec {
	s.rollback = fn
	return s
}

// WithIdempotent marks whether repeated applies are harmless.
func (s *StepSpec) WithIdempotent(idempotent bool) *StepSpec {
	s.idempotent = idempotent
	return s
}

// WithDiff overrides the planned change summary.
func (s *StepSpec) WithDiff(diff Diff) *StepSpec {
	s.diff = diff
	return s
}

// WithExplanation overrides the explanation.
func (s *StepSpec) WithExplanation(exp Explanation) *StepSpec {
	s.explanation = exp
	return s
}

// ID returns the step identifier.
func (s *StepSpec) ID() StepID {
	return s.id
}

// DependsOn returns the step dependencies.
func (s *StepSpec) DependsOn() []StepID {
	return s.deps
}

// Idempotent reports whether repeated applies are harmless.
func (s *StepSpec) Idempotent() bool {
	return s.idempotent
}

// HasRollback reports whether a rollback action was declared.
func (s *StepSpec) HasRollback() bool {
	return s.rollback != nil
}

// Check runs the satisfaction check.
func (s *StepSpec) Check(ctx RunContext) (StepStatus, error) {
	if s.check == nil {
		return StatusNeedsApply, nil
	}
	ok, err := s.check(ctx)
	if err != nil {
		return StatusUnknown, err
	}
	return StatusFromBool(ok), nil
}

// Plan returns the diff for this step.
func (s *StepSpec) Plan(_ RunContext) (Diff, error) {
	return s.diff, nil
}

// Apply runs the apply action.
func (s *StepSpec) Apply(ctx RunContext) error {
	if s.apply == nil {
		return nil
	}
	return s.apply(ctx)
}

// Rollback runs the rollback action; a step without one rolls back as a no-op.
func (s *StepSpec) Rollback(ctx RunContext) error {
	if s.rollback == nil {
		return nil
	}
	return s.rollback(ctx)
}

// Explain provides a human-readable explanation.
func (s *StepSpec) Explain(_ ExplainContext) Explanation {
	return s.explanation
}

var (
	_ RollbackableStep = (*StepSpec)(nil)
	_ IdempotencyAware = (*StepSpec)(nil)
)
