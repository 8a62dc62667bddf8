package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// Scheduler runs a step graph against the live system. It checks each step,
// applies the ones that are not satisfied and rolls back applied steps in
// reverse order when an apply fails.
type Scheduler struct {
	logger        ports.Logger
	observer      Observer
	stepTimeout   time.Duration
	haltOnFailure bool
	parallelism   int
	now           func() time.Time
	runID         string
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the structured logger for progress events.
func WithLogger(logger ports.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithObserver sets the observer notified of every step transition.
func WithObserver(observer Observer) SchedulerOption {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

// WithStepTimeout bounds each apply. Zero disables the limit.
func WithStepTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.stepTimeout = timeout
	}
}

// WithHaltOnFailure stops scheduling new steps after the first failure.
func WithHaltOnFailure(halt bool) SchedulerOption {
	return func(s *Scheduler) {
		s.haltOnFailure = halt
	}
}

// WithParallelism sets how many independent steps of one dependency level
// may run at once. Values below two run the plan sequentially.
func WithParallelism(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.parallelism = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) SchedulerOption {
	return func(s *Scheduler) {
		s.runID = id
	}
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		parallelism: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run resolves the graph and executes it. Registration errors (cycles,
// unknown dependencies) are returned before any step runs. Step failures
// never surface as an error; they are recorded in the PlanResult.
func (s *Scheduler) Run(ctx context.Context, graph *compiler.StepGraph) (*PlanResult, error) {
	steps, err := graph.Resolve()
	if err != nil {
		return nil, err
	}

	runID := s.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	r := &run{
		sched:      s,
		graph:      graph,
		runID:      runID,
		logCtx:     context.WithoutCancel(ctx),
		results:    make(map[string]*StepResult, len(steps)),
		lifecycles: make(map[string]*lifecycle, len(steps)),
		attempted:  make(map[string]bool),
	}
	for _, step := range steps {
		r.results[step.ID().String()] = &StepResult{stepID: step.ID(), status: StatusNotRun}
	}

	startedAt := s.now()
	s.log(r.logCtx, ports.LevelInfo, "run started", ports.RunID(runID), ports.F("steps", len(steps)))

	for _, wave := range s.waves(steps, graph) {
		if err := r.runWave(ctx, wave); err != nil {
			return nil, err
		}
	}
	if r.cancelled {
		if err := r.rollback(ctx); err != nil {
			return nil, err
		}
	}

	result := &PlanResult{
		runID:      runID,
		results:    make([]StepResult, 0, len(steps)),
		warnings:   r.warnings,
		aborted:    r.aborted,
		cancelled:  r.cancelled,
		abortErr:   r.abortErr,
		startedAt:  startedAt,
		finishedAt: s.now(),
	}
	for _, step := range steps {
		result.results = append(result.results, *r.results[step.ID().String()])
		r.lifecycles[step.ID().String()].stop()
	}

	sum := result.Summary()
	s.log(r.logCtx, ports.LevelInfo, "run finished",
		ports.RunID(runID),
		ports.F("skipped", sum.Skipped),
		ports.F("applied", sum.Applied),
		ports.F("failed", sum.Failed),
		ports.F("rolled_back", sum.RolledBack),
		ports.F("not_run", sum.NotRun),
	)
	return result, nil
}

// waves groups steps for execution. Sequential runs get one step per wave
// in plan order; parallel runs get one wave per dependency level.
func (s *Scheduler) waves(steps []compiler.Step, graph *compiler.StepGraph) [][]compiler.Step {
	if s.parallelism <= 1 {
		out := make([][]compiler.Step, len(steps))
		for i, step := range steps {
			out[i] = []compiler.Step{step}
		}
		return out
	}

	level := make(map[string]int, len(steps))
	var out [][]compiler.Step
	for _, step := range steps {
		l := 0
		for _, dep := range graph.Dependencies(step.ID()) {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[step.ID().String()] = l
		for len(out) <= l {
			out = append(out, nil)
		}
		out[l] = append(out[l], step)
	}
	return out
}

func (s *Scheduler) log(ctx context.Context, level ports.Level, msg string, fields ...ports.Field) {
	if s.logger == nil {
		return
	}
	switch level {
	case ports.LevelDebug:
		s.logger.Debug(ctx, msg, fields...)
	case ports.LevelWarn:
		s.logger.Warn(ctx, msg, fields...)
	case ports.LevelError:
		s.logger.Error(ctx, msg, fields...)
	default:
		s.logger.Info(ctx, msg, fields...)
	}
}

// run holds the mutable state of one Scheduler.Run call.
type run struct {
	sched  *Scheduler
	graph  *compiler.StepGraph
	runID  string
	logCtx context.Context

	mu         sync.Mutex
	results    map[string]*StepResult
	lifecycles map[string]*lifecycle
	applied    []compiler.Step // completion order
	attempted  map[string]bool // rollback already tried
	warnings   []error
	failures   int
	stopped    error
	aborted    bool
	cancelled  bool
	abortErr   error

	// rollbackMu serializes rollback walks.
	rollbackMu sync.Mutex
}

func (r *run) runWave(ctx context.Context, wave []compiler.Step) error {
	if len(wave) == 1 {
		return r.runStep(ctx, wave[0])
	}

	before := r.failureCount()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.sched.parallelism)
	for _, step := range wave {
		g.Go(func() error {
			return r.runStep(gctx, step)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Siblings that finished applying after a failure's rollback walk are
	// still applied; sweep them now.
	if r.failureCount() > before {
		return r.rollback(ctx)
	}
	return nil
}

func (r *run) runStep(ctx context.Context, step compiler.Step) error {
	id := step.ID()
	lc, err := newLifecycle(id, r.emit)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lifecycles[id.String()] = lc
	r.mu.Unlock()

	if reason := r.blocked(ctx, id); reason != nil {
		r.finish(id, StatusNotRun, reason, time.Time{})
		return lc.fire(statekit.Event{Type: EventSkip}, StateNotRun, reason)
	}

	started := r.sched.now()
	runCtx := compiler.NewRunContext(ctx)
	if r.sched.logger != nil {
		runCtx = runCtx.WithLogger(r.sched.logger.With(ports.RunID(r.runID), ports.Step(id.String())))
	}

	if err := lc.fire(statekit.Event{Type: EventCheck}, StateChecking, nil); err != nil {
		return err
	}
	status, err := r.check(ctx, step, runCtx)
	if err != nil {
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			r.finish(id, StatusNotRun, ctx.Err(), started)
			return lc.fire(statekit.Event{Type: EventSkip}, StateNotRun, ctx.Err())
		}
		if !errors.Is(err, compiler.ErrProbeUnavailable) {
			err = compiler.NewProbeUnavailableError(id.String(), err)
		}
		r.abort(err)
		r.finish(id, StatusNotRun, err, started)
		return lc.fire(statekit.Event{Type: EventUnavailable}, StateNotRun, err)
	}

	if status == compiler.StatusSatisfied {
		r.finish(id, StatusSkipped, nil, started)
		return lc.fire(statekit.Event{Type: EventSatisfied}, StateSatisfied, nil)
	}
	if err := lc.fire(statekit.Event{Type: EventNeedsApply}, StateNeedsApply, nil); err != nil {
		return err
	}

	// A sibling may have failed with halt-on-failure while this step was checking.
	if reason := r.blocked(ctx, id); reason != nil {
		r.finish(id, StatusNotRun, reason, started)
		return lc.fire(statekit.Event{Type: EventSkip}, StateNotRun, reason)
	}

	if err := lc.fire(statekit.Event{Type: EventApply}, StateApplying, nil); err != nil {
		return err
	}
	diff, applyErr := step.Plan(runCtx)
	if applyErr == nil {
		applyErr = r.apply(ctx, step, runCtx)
	}
	finished := r.sched.now()

	if applyErr == nil {
		r.mu.Lock()
		res := r.results[id.String()]
		*res = res.WithStatus(StatusApplied, nil).WithTimes(started, finished).WithDiff(diff)
		r.applied = append(r.applied, step)
		r.mu.Unlock()
		return lc.fire(statekit.Event{Type: EventSucceed}, StateApplied, nil)
	}

	stepErr := compiler.AsApplyError(id.String(), applyErr)
	r.mu.Lock()
	res := r.results[id.String()]
	*res = res.WithStatus(StatusFailed, stepErr).WithTimes(started, finished).WithDiff(diff)
	r.failures++
	r.mu.Unlock()
	if err := lc.fire(statekit.Event{Type: EventFail}, StateFailed, stepErr); err != nil {
		return err
	}

	switch {
	case ctx.Err() != nil:
		r.cancel(ctx.Err())
	case r.sched.haltOnFailure:
		r.halt(fmt.Errorf("halted after %s failed", id))
	}
	return r.rollback(ctx)
}

// check runs the step's check under the step timeout. A check that outlives
// it makes prior state unknown, so it is reported as a probe failure.
func (r *run) check(ctx context.Context, step compiler.Step, runCtx compiler.RunContext) (compiler.StepStatus, error) {
	if r.sched.stepTimeout <= 0 {
		return step.Check(runCtx)
	}
	checkCtx, cancel := context.WithTimeout(ctx, r.sched.stepTimeout)
	defer cancel()

	type outcome struct {
		status compiler.StepStatus
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		status, err := step.Check(runCtx.WithContext(checkCtx))
		done <- outcome{status, err}
	}()

	id := step.ID().String()
	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			return compiler.StatusUnknown, compiler.NewProbeUnavailableError(id, compiler.NewStepTimeoutError(id, out.err))
		}
		return out.status, out.err
	case <-checkCtx.Done():
		if ctx.Err() != nil {
			return compiler.StatusUnknown, ctx.Err()
		}
		return compiler.StatusUnknown, compiler.NewProbeUnavailableError(id, compiler.NewStepTimeoutError(id, checkCtx.Err()))
	}
}

// apply runs the step's apply, bounded by the step timeout and the parent
// context. An apply that ignores cancellation is abandoned.
func (r *run) apply(ctx context.Context, step compiler.Step, runCtx compiler.RunContext) error {
	applyCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.sched.stepTimeout > 0 {
		applyCtx, cancel = context.WithTimeout(ctx, r.sched.stepTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- step.Apply(runCtx.WithContext(applyCtx))
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(applyCtx.Err(), context.DeadlineExceeded) {
			return compiler.NewStepTimeoutError(step.ID().String(), err)
		}
		return err
	case <-applyCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return compiler.NewStepTimeoutError(step.ID().String(), applyCtx.Err())
	}
}

// rollback undoes every applied step not yet rolled back, newest first.
// Rollback runs detached from cancellation of the run.
func (r *run) rollback(ctx context.Context) error {
	r.rollbackMu.Lock()
	defer r.rollbackMu.Unlock()

	rbCtx := compiler.NewRunContext(context.WithoutCancel(ctx))
	if r.sched.logger != nil {
		rbCtx = rbCtx.WithLogger(r.sched.logger.With(ports.RunID(r.runID)))
	}

	r.mu.Lock()
	pending := make([]compiler.Step, 0, len(r.applied))
	for i := len(r.applied) - 1; i >= 0; i-- {
		id := r.applied[i].ID().String()
		if !r.attempted[id] {
			r.attempted[id] = true
			pending = append(pending, r.applied[i])
		}
	}
	r.mu.Unlock()

	for _, step := range pending {
		id := step.ID()
		lc := r.lifecycle(id)

		rb := compiler.AsRollbackable(step)
		if rb == nil {
			r.warn(fmt.Errorf("step %q has no rollback and was left applied", id.String()))
			continue
		}

		if err := lc.fire(statekit.Event{Type: EventRollback}, StateRollingBack, nil); err != nil {
			return err
		}
		err := rb.Rollback(rbCtx)
		finished := r.sched.now()
		if err != nil {
			warning := compiler.NewRollbackFailedError(id.String(), err)
			r.warn(warning)
			r.mu.Lock()
			res := r.results[id.String()]
			*res = res.WithRollbackError(warning).WithFinishedAt(finished)
			r.mu.Unlock()
			if err := lc.fire(statekit.Event{Type: EventRollbackFailed}, StateRollbackFailed, warning); err != nil {
				return err
			}
			continue
		}

		r.mu.Lock()
		res := r.results[id.String()]
		*res = res.WithStatus(StatusRolledBack, nil).WithFinishedAt(finished)
		r.mu.Unlock()
		if err := lc.fire(statekit.Event{Type: EventRolledBack}, StateRolledBack, nil); err != nil {
			return err
		}
	}
	return nil
}

// blocked returns why a step must not run, or nil.
func (r *run) blocked(ctx context.Context, id compiler.StepID) error {
	if err := ctx.Err(); err != nil {
		r.cancel(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped != nil {
		return fmt.Errorf("not run: %w", r.stopped)
	}
	for _, dep := range r.graph.Dependencies(id) {
		res, ok := r.results[dep]
		if !ok {
			continue
		}
		switch res.status {
		case StatusFailed, StatusRolledBack, StatusNotRun:
			return fmt.Errorf("not run: dependency %s is %s", dep, res.status)
		}
	}
	return nil
}

func (r *run) finish(id compiler.StepID, status Status, err error, started time.Time) {
	now := r.sched.now()
	if started.IsZero() {
		started = now
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.results[id.String()]
	*res = res.WithStatus(status, err).WithTimes(started, now)
}

func (r *run) lifecycle(id compiler.StepID) *lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifecycles[id.String()]
}

func (r *run) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *run) warn(err error) {
	r.mu.Lock()
	r.warnings = append(r.warnings, err)
	r.mu.Unlock()
	r.sched.log(r.logCtx, ports.LevelWarn, "rollback incomplete", ports.RunID(r.runID), ports.Err(err))
}

// abort stops the run because live state could not be queried.
func (r *run) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped == nil {
		r.stopped = err
	}
	if !r.aborted {
		r.aborted = true
		r.abortErr = err
	}
}

func (r *run) cancel(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	if r.stopped == nil {
		r.stopped = err
	}
	if !r.aborted {
		r.aborted = true
		r.abortErr = err
	}
}

func (r *run) halt(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped == nil {
		r.stopped = err
	}
}

func (r *run) emit(id compiler.StepID, state State, err error) {
	event := Event{RunID: r.runID, StepID: id, State: state, At: r.sched.now(), Err: err}
	if r.sched.observer != nil {
		r.sched.observer.Observe(event)
	}

	fields := []ports.Field{
		ports.RunID(r.runID),
		ports.Step(id.String()),
		ports.F("state", string(state)),
	}
	level := ports.LevelInfo
	switch state {
	case StateChecking, StateNeedsApply, StateApplying, StateRollingBack:
		level = ports.LevelDebug
	case StateFailed, StateRollbackFailed:
		level = ports.LevelError
	case StateNotRun:
		level = ports.LevelWarn
	}
	if err != nil {
		fields = append(fields, ports.Err(err))
	}
	r.sched.log(r.logCtx, level, "step "+string(state), fields...)
}
