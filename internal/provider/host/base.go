package host

import (
	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// base carries the identity shared by every host step.
type base struct {
	id   compiler.StepID
	deps []compiler.StepID
}

func newBase(id string, deps ...string) base {
	b := base{id: compiler.MustNewStepID(id)}
	for _, dep := range deps {
		b.deps = append(b.deps, compiler.MustNewStepID(dep))
	}
	return b
}

// ID returns the step identifier.
func (b base) ID() compiler.StepID {
	return b.id
}

// DependsOn returns the step dependencies.
func (b base) DependsOn() []compiler.StepID {
	return b.deps
}
