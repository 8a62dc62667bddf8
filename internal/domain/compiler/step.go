package compiler

// Step represents an idempotent unit of provisioning work.
// Each step can check live state, describe its change, apply it and,
// optionally, undo it.
type Step interface {
	// ID returns the unique identifier for this step.
	ID() StepID

	// DependsOn returns the IDs of steps that must complete before this one.
	DependsOn() []StepID

	// Check inspects live system state and reports whether the step's
	// postcondition already holds. It must not mutate anything and must not
	// assume that any earlier step ran in this process.
	Check(ctx RunContext) (StepStatus, error)

	// Plan returns the diff describing what Apply would change.
	Plan(ctx RunContext) (Diff, error)

	// Apply executes the step's changes.
	Apply(ctx RunContext) error

	// Explain returns human-readable context for this step.
	Explain(ctx ExplainContext) Explanation
}

// RollbackableStep extends Step with rollback capability.
type RollbackableStep interface {
	Step

	// Rollback undoes the changes made by Apply.
	// Rolling back a step that was never applied must be a no-op.
	Rollback(ctx RunContext) error
}

// IdempotencyAware is implemented by steps that declare whether repeating
// Apply against an already-changed system is harmless. Steps that do not
// implement it are treated as idempotent.
type IdempotencyAware interface {
	Idempotent() bool
}

// AsRollbackable attempts to cast a step to RollbackableStep.
// Returns nil if the step doesn't implement rollback.
func AsRollbackable(step Step) RollbackableStep {
	if r, ok := step.(RollbackableStep); ok {
		return r
	}
	return nil
}

// IsIdempotent reports whether the step declares itself idempotent.
func IsIdempotent(step Step) bool {
	if a, ok := step.(IdempotencyAware); ok {
		return a.Idempotent()
	}
	return true
}
