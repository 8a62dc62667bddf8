package execution

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// State is a step's position in its lifecycle.
type State string

// Step lifecycle states.
const (
	StatePending        = "pending"
	StateChecking       = "checking"
	StateSatisfied      = "satisfied"
	StateNeedsApply     = "needs_apply"
	StateApplying       = "applying"
	StateApplied        = "applied"
	StateFailed         = "failed"
	StateRollingBack    = "rolling_back"
	StateRolledBack     = "rolled_back"
	StateRollbackFailed = "rollback_failed"
	StateNotRun         = "not_run"
)

// Lifecycle events.
const (
	EventCheck          = "CHECK"
	EventSatisfied      = "SATISFIED"
	EventNeedsApply     = "NEEDS_APPLY"
	EventUnavailable    = "UNAVAILABLE"
	EventApply          = "APPLY"
	EventSucceed        = "SUCCEED"
	EventFail           = "FAIL"
	EventRollback       = "ROLLBACK"
	EventRolledBack     = "ROLLED_BACK"
	EventRollbackFailed = "ROLLBACK_FAILED"
	EventSkip           = "SKIP"
	EventReset          = "RESET"
)

// ErrIllegalTransition is returned when an event does not lead to the
// expected state.
var ErrIllegalTransition = errors.New("illegal step transition")

// stepContext is the statekit context carried by each step machine.
type stepContext struct {
	Step string
}

// lifecycle guards one step's transitions with a statekit machine and
// reports every transition it makes.
type lifecycle struct {
	step   compiler.StepID
	interp *statekit.Interpreter[stepContext]
	emit   func(compiler.StepID, State, error)
}

func newLifecycle(step compiler.StepID, emit func(compiler.StepID, State, error)) (*lifecycle, error) {
	lc := &lifecycle{step: step, emit: emit}
	interp, err := buildStepMachine(step)
	if err != nil {
		return nil, fmt.Errorf("build lifecycle for %s: %w", step, err)
	}
	lc.interp = interp
	lc.interp.Start()
	return lc, nil
}

// fire sends event and verifies the machine landed in want.
func (l *lifecycle) fire(event statekit.Event, want State, cause error) error {
	from := l.State()
	event.Payload = cause
	l.interp.Send(event)
	got := l.State()
	if got != want {
		return fmt.Errorf("%w: step %s: %v on %s gave %s, want %s",
			ErrIllegalTransition, l.step, event.Type, from, got, want)
	}
	if l.emit != nil {
		l.emit(l.step, got, cause)
	}
	return nil
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	return State(l.interp.State().Value)
}

func (l *lifecycle) stop() {
	l.interp.Stop()
}

// buildStepMachine constructs the step lifecycle machine. Terminal states
// accept RESET so a machine can be reused for a rerun.
func buildStepMachine(step compiler.StepID) (*statekit.Interpreter[stepContext], error) {
	machine, err := statekit.NewMachine[stepContext]("step:"+step.String()).
		WithInitial(StatePending).
		WithContext(stepContext{Step: step.String()}).
		State(StatePending).
		On(EventCheck).Target(StateChecking).
		On(EventSkip).Target(StateNotRun).Done().
		State(StateChecking).
		On(EventSatisfied).Target(StateSatisfied).
		On(EventNeedsApply).Target(StateNeedsApply).
		On(EventUnavailable).Target(StateNotRun).
		On(EventSkip).Target(StateNotRun).Done().
		State(StateNeedsApply).
		On(EventApply).Target(StateApplying).
		On(EventSkip).Target(StateNotRun).Done().
		State(StateApplying).
		On(EventSucceed).Target(StateApplied).
		On(EventFail).Target(StateFailed).Done().
		State(StateApplied).
		On(EventRollback).Target(StateRollingBack).
		On(EventReset).Target(StatePending).Done().
		State(StateRollingBack).
		On(EventRolledBack).Target(StateRolledBack).
		On(EventRollbackFailed).Target(StateRollbackFailed).Done().
		State(StateSatisfied).
		On(EventReset).Target(StatePending).Done().
		State(StateFailed).
		On(EventReset).Target(StatePending).Done().
		State(StateRolledBack).
		On(EventReset).Target(StatePending).Done().
		State(StateRollbackFailed).
		On(EventReset).Target(StatePending).Done().
		State(StateNotRun).
		On(EventReset).Target(StatePending).Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}
