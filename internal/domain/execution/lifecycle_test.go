package execution

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/statekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

func TestLifecycle_HappyPath(t *testing.T) {
	t.Parallel()

	var seen []State
	lc, err := newLifecycle(compiler.MustNewStepID("apt:package:nginx"), func(_ compiler.StepID, s State, _ error) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	defer lc.stop()

	assert.Equal(t, State(StatePending), lc.State())
	require.NoError(t, lc.fire(statekit.Event{Type: EventCheck}, StateChecking, nil))
	require.NoError(t, lc.fire(statekit.Event{Type: EventNeedsApply}, StateNeedsApply, nil))
	require.NoError(t, lc.fire(statekit.Event{Type: EventApply}, StateApplying, nil))
	require.NoError(t, lc.fire(statekit.Event{Type: EventSucceed}, StateApplied, nil))
	require.NoError(t, lc.fire(statekit.Event{Type: EventRollback}, StateRollingBack, nil))
	require.NoError(t, lc.fire(statekit.Event{Type: EventRolledBack}, StateRolledBack, nil))

	assert.Equal(t, []State{
		StateChecking, StateNeedsApply, StateApplying, StateApplied, StateRollingBack, StateRolledBack,
	}, seen)
}

func TestLifecycle_IllegalTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup []statekit.Event
		event statekit.Event
		want  State
	}{
		{
			name:  "apply before check",
			event: statekit.Event{Type: EventApply},
			want:  StateApplying,
		},
		{
			name:  "rollback a failed step",
			setup: []statekit.Event{{Type: EventCheck}, {Type: EventNeedsApply}, {Type: EventApply}, {Type: EventFail}},
			event: statekit.Event{Type: EventRollback},
			want:  StateRollingBack,
		},
		{
			name:  "rollback a satisfied step",
			setup: []statekit.Event{{Type: EventCheck}, {Type: EventSatisfied}},
			event: statekit.Event{Type: EventRollback},
			want:  StateRollingBack,
		},
		{
			name:  "succeed while checking",
			setup: []statekit.Event{{Type: EventCheck}},
			event: statekit.Event{Type: EventSucceed},
			want:  StateApplied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lc, err := newLifecycle(compiler.MustNewStepID("step"), nil)
			require.NoError(t, err)
			defer lc.stop()
			for _, ev := range tt.setup {
				lc.interp.Send(ev)
			}

			err = lc.fire(tt.event, tt.want, nil)
			assert.True(t, errors.Is(err, ErrIllegalTransition), "got %v", err)
		})
	}
}

func TestLifecycle_ResetFromTerminalState(t *testing.T) {
	t.Parallel()

	lc, err := newLifecycle(compiler.MustNewStepID("step"), nil)
	require.NoError(t, err)
	defer lc.stop()

	require.NoError(t, lc.fire(statekit.Event{Type: EventCheck}, StateChecking, nil))
	require.NoError(t, lc.fire(statekit.Event{Type: EventSatisfied}, StateSatisfied, nil))
	require.NoError(t, lc.fire(statekit.Event{Type: EventReset}, StatePending, nil))
}
