package compiler

// StepStatus is the answer a step gives when its live state is checked.
type StepStatus string

const (
	// StatusSatisfied indicates the step's postcondition already holds.
	StatusSatisfied StepStatus = "satisfied"
	// StatusNeedsApply indicates the step needs to be applied.
	StatusNeedsApply StepStatus = "needs-apply"
	// StatusUnknown indicates the state could not be determined.
	StatusUnknown StepStatus = "unknown"
)

// String returns the string representation of the status.
func (s StepStatus) String() string {
	return string(s)
}

// NeedsAction returns true if the step has to run or could not be inspected.
func (s StepStatus) NeedsAction() bool {
	return s != StatusSatisfied
}

// StatusFromBool maps a probe answer to a StepStatus.
func StatusFromBool(satisfied bool) StepStatus {
	if satisfied {
		return StatusSatisfied
	}
	return StatusNeedsApply
}
