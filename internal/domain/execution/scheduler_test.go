package execution_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/execution"
)

// recorder logs apply and rollback calls across steps.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeHost is live state shared by the steps of a test: a step is satisfied
// once its name has been applied.
type fakeHost struct {
	mu    sync.Mutex
	state map[string]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{state: make(map[string]bool)}
}

func (h *fakeHost) set(name string, v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state[name] = v
}

func (h *fakeHost) get(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state[name]
}

func hostStep(h *fakeHost, rec *recorder, name string, deps ...string) *compiler.StepSpec {
	return compiler.MustStepSpec(name, deps...).
		WithCheck(func(compiler.RunContext) (bool, error) {
			return h.get(name), nil
		}).
		WithApply(func(compiler.RunContext) error {
			rec.add("apply " + name)
			h.set(name, true)
			return nil
		}).
		WithRollback(func(compiler.RunContext) error {
			rec.add("rollback " + name)
			h.set(name, false)
			return nil
		})
}

func failingStep(rec *recorder, name string, deps ...string) *compiler.StepSpec {
	return compiler.MustStepSpec(name, deps...).
		WithApply(func(compiler.RunContext) error {
			rec.add("apply " + name)
			return errors.New("permission denied")
		}).
		WithRollback(func(compiler.RunContext) error {
			rec.add("rollback " + name)
			return nil
		})
}

func graphOf(t *testing.T, steps ...compiler.Step) *compiler.StepGraph {
	t.Helper()
	g := compiler.NewStepGraph()
	for _, s := range steps {
		require.NoError(t, g.Add(s))
	}
	return g
}

func statuses(result *execution.PlanResult) map[string]execution.Status {
	out := make(map[string]execution.Status)
	for _, r := range result.Results() {
		out[r.StepID().String()] = r.Status()
	}
	return out
}

func TestScheduler_AppliesThenSkipsOnRerun(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	build := func() *compiler.StepGraph {
		return graphOf(t,
			hostStep(host, rec, "runtime:install"),
			hostStep(host, rec, "container:start", "runtime:install"),
			hostStep(host, rec, "firewall:open:443"),
		)
	}

	first, err := execution.NewScheduler().Run(context.Background(), build())
	require.NoError(t, err)
	assert.Equal(t, 0, first.ExitCode())
	assert.Equal(t, 3, first.Summary().Applied)
	assert.Equal(t, []string{"apply runtime:install", "apply container:start", "apply firewall:open:443"}, rec.Calls())

	second, err := execution.NewScheduler().Run(context.Background(), build())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ExitCode())
	assert.Equal(t, execution.Summary{Total: 3, Skipped: 3}, second.Summary())
	assert.Len(t, rec.Calls(), 3, "a satisfied plan must not apply anything")
}

func TestScheduler_FailureSkipsDependentsButRunsIndependentSteps(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	graph := graphOf(t,
		failingStep(rec, "runtime:install"),
		hostStep(host, rec, "container:start", "runtime:install"),
		hostStep(host, rec, "firewall:open:443"),
	)

	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, map[string]execution.Status{
		"runtime:install":   execution.StatusFailed,
		"container:start":   execution.StatusNotRun,
		"firewall:open:443": execution.StatusApplied,
	}, statuses(result))
	assert.Equal(t, 0, result.Summary().RolledBack)
	assert.Equal(t, 1, result.ExitCode())
	assert.NotContains(t, rec.Calls(), "apply container:start")
	assert.False(t, result.Aborted())

	failed, ok := result.Result(compiler.MustNewStepID("runtime:install"))
	require.True(t, ok)
	assert.ErrorIs(t, failed.Error(), compiler.ErrApplyFailed)
	assert.Equal(t, "Rerun with elevated privileges (sudo).", failed.Hint())
}

func TestScheduler_RollbackInReverseOrderUpToFailure(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	graph := graphOf(t,
		hostStep(host, rec, "s1"),
		hostStep(host, rec, "s2", "s1"),
		hostStep(host, rec, "s3", "s2"),
		failingStep(rec, "s4", "s3"),
		hostStep(host, rec, "s5", "s4"),
	)

	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"apply s1", "apply s2", "apply s3", "apply s4",
		"rollback s3", "rollback s2", "rollback s1",
	}, rec.Calls())
	assert.Equal(t, map[string]execution.Status{
		"s1": execution.StatusRolledBack,
		"s2": execution.StatusRolledBack,
		"s3": execution.StatusRolledBack,
		"s4": execution.StatusFailed,
		"s5": execution.StatusNotRun,
	}, statuses(result))
	assert.False(t, host.get("s1"))
	assert.Equal(t, 1, result.ExitCode())
}

func TestScheduler_SkippedStepsAreNotRolledBack(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.set("s1", true)
	rec := &recorder{}
	graph := graphOf(t,
		hostStep(host, rec, "s1"),
		hostStep(host, rec, "s2"),
		failingStep(rec, "s3"),
	)

	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, []string{"apply s2", "apply s3", "rollback s2"}, rec.Calls())
	assert.Equal(t, execution.StatusSkipped, statuses(result)["s1"])
	assert.True(t, host.get("s1"))
}

func TestScheduler_CycleAppliesNothing(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	graph := graphOf(t,
		hostStep(host, rec, "a", "b"),
		hostStep(host, rec, "b", "a"),
	)

	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.ErrorIs(t, err, compiler.ErrCyclicDependency)
	assert.Nil(t, result)
	assert.Empty(t, rec.Calls())
}

func TestScheduler_UnknownDependencyAppliesNothing(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	graph := graphOf(t, hostStep(newFakeHost(), rec, "a", "missing"))

	_, err := execution.NewScheduler().Run(context.Background(), graph)
	require.ErrorIs(t, err, compiler.ErrUnknownDependency)
	assert.Empty(t, rec.Calls())
}

func TestScheduler_ProbeUnavailableAbortsWithoutRollback(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	broken := compiler.MustStepSpec("s2").
		WithCheck(func(compiler.RunContext) (bool, error) {
			return false, errors.New("dpkg-query: cannot connect")
		}).
		WithApply(func(compiler.RunContext) error {
			rec.add("apply s2")
			return nil
		})
	graph := graphOf(t, hostStep(host, rec, "s1"), broken, hostStep(host, rec, "s3"))

	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, []string{"apply s1"}, rec.Calls())
	assert.Equal(t, map[string]execution.Status{
		"s1": execution.StatusApplied,
		"s2": execution.StatusNotRun,
		"s3": execution.StatusNotRun,
	}, statuses(result))
	assert.True(t, result.Aborted())
	assert.ErrorIs(t, result.AbortError(), compiler.ErrProbeUnavailable)
	assert.Equal(t, 1, result.ExitCode())
}

func TestScheduler_HaltOnFailure(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	graph := graphOf(t,
		failingStep(rec, "s1"),
		hostStep(host, rec, "s2"),
	)

	result, err := execution.NewScheduler(execution.WithHaltOnFailure(true)).Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, execution.StatusNotRun, statuses(result)["s2"])
	assert.Equal(t, []string{"apply s1"}, rec.Calls())
	assert.False(t, result.Aborted())
}

func TestScheduler_RollbackFailureIsWarningAndWalkContinues(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	stuck := hostStep(host, rec, "s2").WithRollback(func(compiler.RunContext) error {
		rec.add("rollback s2")
		return errors.New("device busy")
	})
	graph := graphOf(t,
		hostStep(host, rec, "s1"),
		stuck,
		failingStep(rec, "s3"),
	)

	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, []string{"apply s1", "apply s2", "apply s3", "rollback s2", "rollback s1"}, rec.Calls())
	assert.True(t, result.PartialRollback())
	require.Len(t, result.Warnings(), 1)
	assert.ErrorIs(t, result.Warnings()[0], compiler.ErrRollbackFailed)

	s2, _ := result.Result(compiler.MustNewStepID("s2"))
	assert.Equal(t, execution.StatusApplied, s2.Status())
	assert.ErrorIs(t, s2.RollbackError(), compiler.ErrRollbackFailed)
	assert.Equal(t, execution.StatusRolledBack, statuses(result)["s1"])
}

// plainStep implements compiler.Step without rollback.
type plainStep struct {
	id      compiler.StepID
	applied bool
}

func (s *plainStep) ID() compiler.StepID          { return s.id }
func (s *plainStep) DependsOn() []compiler.StepID { return nil }
func (s *plainStep) Check(compiler.RunContext) (compiler.StepStatus, error) {
	return compiler.StatusFromBool(s.applied), nil
}
func (s *plainStep) Plan(compiler.RunContext) (compiler.Diff, error) { return compiler.Diff{}, nil }
func (s *plainStep) Apply(compiler.RunContext) error {
	s.applied = true
	return nil
}
func (s *plainStep) Explain(compiler.ExplainContext) compiler.Explanation {
	return compiler.Explanation{}
}

func TestScheduler_StepWithoutRollbackStaysApplied(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	plain := &plainStep{id: compiler.MustNewStepID("plain")}
	graph := graphOf(t, plain, failingStep(rec, "boom"))

	result, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, execution.StatusApplied, statuses(result)["plain"])
	require.Len(t, result.Warnings(), 1)
	assert.False(t, result.PartialRollback())
	assert.Equal(t, 1, result.ExitCode())
}

func TestScheduler_StepTimeoutTriggersRollback(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	slow := compiler.MustStepSpec("slow").
		WithApply(func(ctx compiler.RunContext) error {
			<-ctx.Context().Done()
			return ctx.Context().Err()
		})
	graph := graphOf(t, hostStep(host, rec, "s1"), slow)

	result, err := execution.NewScheduler(execution.WithStepTimeout(20*time.Millisecond)).
		Run(context.Background(), graph)
	require.NoError(t, err)

	res, _ := result.Result(compiler.MustNewStepID("slow"))
	assert.Equal(t, execution.StatusFailed, res.Status())
	assert.ErrorIs(t, res.Error(), compiler.ErrStepTimeout)
	assert.Equal(t, []string{"apply s1", "rollback s1"}, rec.Calls())
}

func TestScheduler_StepTimeoutBoundsHungCheck(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	hung := compiler.MustStepSpec("hung").
		WithCheck(func(ctx compiler.RunContext) (bool, error) {
			<-ctx.Context().Done()
			return false, ctx.Context().Err()
		}).
		WithApply(func(compiler.RunContext) error {
			rec.add("apply hung")
			return nil
		})
	graph := graphOf(t, hostStep(host, rec, "s1"), hung)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	result, err := execution.NewScheduler(execution.WithStepTimeout(50*time.Millisecond)).Run(ctx, graph)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{"apply s1"}, rec.Calls())
	assert.Equal(t, execution.StatusNotRun, statuses(result)["hung"])
	assert.True(t, result.Aborted())
	assert.ErrorIs(t, result.AbortError(), compiler.ErrProbeUnavailable)
	assert.ErrorIs(t, result.AbortError(), compiler.ErrStepTimeout)
	assert.NoError(t, ctx.Err())
}

func TestScheduler_CancellationFailsRunningStepAndRollsBack(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocking := compiler.MustStepSpec("blocking").
		WithApply(func(rc compiler.RunContext) error {
			cancel()
			<-rc.Context().Done()
			return rc.Context().Err()
		})
	graph := graphOf(t,
		hostStep(host, rec, "s1"),
		blocking,
		hostStep(host, rec, "s3"),
	)

	result, err := execution.NewScheduler().Run(ctx, graph)
	require.NoError(t, err)

	assert.Equal(t, map[string]execution.Status{
		"s1":       execution.StatusRolledBack,
		"blocking": execution.StatusFailed,
		"s3":       execution.StatusNotRun,
	}, statuses(result))
	assert.True(t, result.Cancelled())
	assert.True(t, result.Aborted())
	assert.ErrorIs(t, result.AbortError(), context.Canceled)
	assert.Equal(t, []string{"apply s1", "rollback s1"}, rec.Calls())
}

func TestScheduler_EmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	var mu sync.Mutex
	var states []execution.State
	observer := execution.ObserverFunc(func(e execution.Event) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "run-1", e.RunID)
		states = append(states, e.State)
	})
	graph := graphOf(t, hostStep(host, rec, "s1"), failingStep(rec, "s2"))

	result, err := execution.NewScheduler(
		execution.WithObserver(observer),
		execution.WithRunID("run-1"),
	).Run(context.Background(), graph)
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.RunID())

	assert.Equal(t, []execution.State{
		execution.StateChecking, execution.StateNeedsApply, execution.StateApplying, execution.StateApplied,
		execution.StateChecking, execution.StateNeedsApply, execution.StateApplying, execution.StateFailed,
		execution.StateRollingBack, execution.StateRolledBack,
	}, states)
}

func TestScheduler_GeneratesRunID(t *testing.T) {
	t.Parallel()

	graph := graphOf(t, compiler.MustStepSpec("s1"))
	a, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)
	b, err := execution.NewScheduler().Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Len(t, a.RunID(), 36)
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestScheduler_UsesClock(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	graph := graphOf(t, compiler.MustStepSpec("s1"))

	result, err := execution.NewScheduler(execution.WithClock(func() time.Time { return fixed })).
		Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, fixed, result.StartedAt())
	res, _ := result.Result(compiler.MustNewStepID("s1"))
	assert.Equal(t, fixed, res.StartedAt())
	assert.Zero(t, res.Duration())
}

func TestScheduler_ParallelRunsIndependentStepsConcurrently(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := func(name string) *compiler.StepSpec {
		return compiler.MustStepSpec(name).
			WithApply(func(compiler.RunContext) error {
				wg.Done()
				wg.Wait()
				rec.add("apply " + name)
				return nil
			})
	}
	graph := graphOf(t,
		rendezvous("a"),
		rendezvous("b"),
		hostStep(host, rec, "c", "a", "b"),
	)

	result, err := execution.NewScheduler(
		execution.WithParallelism(2),
		execution.WithStepTimeout(5*time.Second),
	).Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode())
	calls := rec.Calls()
	require.Len(t, calls, 3)
	assert.ElementsMatch(t, []string{"apply a", "apply b"}, calls[:2])
	assert.Equal(t, "apply c", calls[2])
}

func TestScheduler_ParallelFailureRollsBackSiblings(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	rec := &recorder{}
	graph := graphOf(t,
		hostStep(host, rec, "a"),
		failingStep(rec, "b"),
		hostStep(host, rec, "c", "a"),
	)

	result, err := execution.NewScheduler(execution.WithParallelism(4)).Run(context.Background(), graph)
	require.NoError(t, err)

	assert.Equal(t, map[string]execution.Status{
		"a": execution.StatusRolledBack,
		"b": execution.StatusFailed,
		"c": execution.StatusNotRun,
	}, statuses(result))
	assert.False(t, host.get("a"))
}
