// Package probe answers whether a step's postcondition already holds by
// inspecting live state. Probes never mutate anything and never rely on
// what ran earlier in the same process.
package probe

import (
	"context"
	"errors"
	"strings"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// Probe inspects one fact about the host.
// Check returns (false, nil) when the fact does not hold yet and an error
// matching compiler.ErrProbeUnavailable when the state cannot be queried.
type Probe interface {
	Check(ctx context.Context) (bool, error)
	Describe() string
}

// Func adapts a function into a Probe.
type Func struct {
	desc string
	fn   func(ctx context.Context) (bool, error)
}

// NewFunc creates a Probe from fn.
func NewFunc(desc string, fn func(ctx context.Context) (bool, error)) *Func {
	return &Func{desc: desc, fn: fn}
}

// Check runs the function.
func (f *Func) Check(ctx context.Context) (bool, error) {
	return f.fn(ctx)
}

// Describe returns the description.
func (f *Func) Describe() string {
	return f.desc
}

type all struct {
	probes []Probe
}

// All holds when every probe holds. It stops at the first probe that does
// not hold or fails.
func All(probes ...Probe) Probe {
	return &all{probes: probes}
}

func (a *all) Check(ctx context.Context) (bool, error) {
	for _, p := range a.probes {
		ok, err := p.Check(ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a *all) Describe() string {
	parts := make([]string, len(a.probes))
	for i, p := range a.probes {
		parts[i] = p.Describe()
	}
	return strings.Join(parts, " and ")
}

// Unavailable wraps err as a probe failure for what, leaving errors that
// already carry the code untouched.
func Unavailable(what string, err error) error {
	if errors.Is(err, compiler.ErrProbeUnavailable) {
		return err
	}
	return compiler.NewProbeUnavailableError(what, err)
}

// Check adapts a Probe to a compiler.CheckFunc.
func Check(p Probe) compiler.CheckFunc {
	return func(ctx compiler.RunContext) (bool, error) {
		ok, err := p.Check(ctx.Context())
		if err != nil {
			return false, Unavailable(p.Describe(), err)
		}
		return ok, nil
	}
}

// StepStatus runs p and maps the answer to a compiler.StepStatus.
func StepStatus(ctx context.Context, p Probe) (compiler.StepStatus, error) {
	ok, err := p.Check(ctx)
	if err != nil {
		return compiler.StatusUnknown, Unavailable(p.Describe(), err)
	}
	return compiler.StatusFromBool(ok), nil
}
