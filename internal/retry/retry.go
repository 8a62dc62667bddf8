// Package retry re-runs the apply of idempotent steps with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// Policy configures retries.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy returns three attempts starting at two seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// Wrap returns a step whose Apply is retried under policy. Steps that are
// not idempotent, and policies allowing a single attempt, are returned as is.
func Wrap(step compiler.Step, policy Policy) compiler.Step {
	if policy.MaxAttempts <= 1 || !compiler.IsIdempotent(step) {
		return step
	}
	base := &retryingStep{Step: step, policy: policy}
	if rb := compiler.AsRollbackable(step); rb != nil {
		return &retryingRollbackStep{retryingStep: base, rollback: rb}
	}
	return base
}

type retryingStep struct {
	compiler.Step
	policy Policy
}

// Apply runs the wrapped apply until it succeeds, fails permanently or the
// attempts are exhausted.
func (s *retryingStep) Apply(ctx compiler.RunContext) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := s.Step.Apply(ctx)
		if err != nil && !Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		if logger := ctx.Logger(); logger != nil {
			logger.Warn(ctx.Context(), "apply failed, retrying",
				ports.Step(s.ID().String()),
				ports.F("attempt", attempt),
				ports.F("next_in", next.String()),
				ports.Err(err),
			)
		}
	}

	_, err := backoff.Retry(ctx.Context(), op,
		backoff.WithBackOff(s.policy.backOff()),
		backoff.WithMaxTries(uint(s.policy.MaxAttempts)),
		backoff.WithNotify(notify),
	)
	return err
}

// Idempotent reports true; only idempotent steps are wrapped.
func (s *retryingStep) Idempotent() bool {
	return true
}

// Unwrap returns the wrapped step.
func (s *retryingStep) Unwrap() compiler.Step {
	return s.Step
}

type retryingRollbackStep struct {
	*retryingStep
	rollback compiler.RollbackableStep
}

// Rollback delegates without retrying.
func (s *retryingRollbackStep) Rollback(ctx compiler.RunContext) error {
	return s.rollback.Rollback(ctx)
}

// Retryable reports whether another attempt could succeed. Configuration
// problems, missing certificates, missing binaries and cancellation are final.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, compiler.ErrInvalidConfig),
		errors.Is(err, compiler.ErrCertificateNotFound),
		errors.Is(err, ports.ErrCommandNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

var (
	_ compiler.IdempotencyAware = (*retryingStep)(nil)
	_ compiler.RollbackableStep = (*retryingRollbackStep)(nil)
)
