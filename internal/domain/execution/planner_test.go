package execution_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/execution"
)

func TestPlanner_ChecksEveryStepWithoutApplying(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.set("runtime:install", true)
	rec := &recorder{}
	graph := graphOf(t,
		hostStep(host, rec, "container:start", "runtime:install"),
		hostStep(host, rec, "runtime:install"),
		compiler.MustStepSpec("probe:broken").WithCheck(func(compiler.RunContext) (bool, error) {
			return false, errors.New("socket closed")
		}),
	)

	plan, err := execution.NewPlanner().Plan(context.Background(), graph)
	require.NoError(t, err)

	require.Equal(t, 3, plan.Len())
	entries := plan.Entries()
	assert.Equal(t, "runtime:install", entries[0].Step().ID().String())
	assert.Equal(t, compiler.StatusSatisfied, entries[0].Status())
	assert.Equal(t, compiler.StatusNeedsApply, entries[1].Status())
	assert.Equal(t, "+ step container:start (applied)", entries[1].Diff().Summary())
	assert.Equal(t, compiler.StatusUnknown, entries[2].Status())

	assert.True(t, plan.HasChanges())
	assert.ErrorIs(t, plan.Unavailable(), compiler.ErrProbeUnavailable)
	assert.Equal(t, execution.PlanSummary{Total: 3, NeedsApply: 1, Satisfied: 1, Unknown: 1}, plan.Summary())
	assert.Empty(t, rec.Calls())
}

func TestPlanner_WithoutChecks(t *testing.T) {
	t.Parallel()

	checked := false
	graph := graphOf(t, compiler.MustStepSpec("a").WithCheck(func(compiler.RunContext) (bool, error) {
		checked = true
		return true, nil
	}))

	plan, err := execution.NewPlanner().WithChecks(false).Plan(context.Background(), graph)
	require.NoError(t, err)

	assert.False(t, checked)
	assert.Equal(t, compiler.StatusUnknown, plan.Entries()[0].Status())
	assert.NoError(t, plan.Unavailable())
}

func TestPlanner_RejectsCycle(t *testing.T) {
	t.Parallel()

	graph := graphOf(t, compiler.MustStepSpec("a", "b"), compiler.MustStepSpec("b", "a"))

	_, err := execution.NewPlanner().Plan(context.Background(), graph)
	require.ErrorIs(t, err, compiler.ErrCyclicDependency)
}

func TestPlanResult_ExitCode(t *testing.T) {
	t.Parallel()

	graph := graphOf(t, compiler.MustStepSpec("ok"))
	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.True(t, result.Success())
	assert.Equal(t, 0, result.ExitCode())
	assert.False(t, result.FinishedAt().Before(result.StartedAt()))
}
