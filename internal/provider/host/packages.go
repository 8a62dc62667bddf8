package host

import (
	"fmt"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
)

// PackageStepID returns the step ID for an OS package.
func PackageStepID(name string) string {
	return "apt:package:" + name
}

// PackageStep installs one OS package.
type PackageStep struct {
	base
	name string
	deps Deps
}

// NewPackageStep creates a new PackageStep.
func NewPackageStep(name string, deps Deps) *PackageStep {
	return &PackageStep{
		base: newBase(PackageStepID(name)),
		name: name,
		deps: deps,
	}
}

// Check determines if the package is already installed.
func (s *PackageStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	return probe.StepStatus(ctx.Context(), probe.PackageInstalled(s.deps.Packages, s.name))
}

// Plan returns the diff for this step.
func (s *PackageStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	return compiler.NewDiff(compiler.DiffTypeAdd, "package", s.name, "", "installed"), nil
}

// Apply installs the package.
func (s *PackageStep) Apply(ctx compiler.RunContext) error {
	if err := s.deps.Packages.Install(ctx.Context(), s.name); err != nil {
		return fmt.Errorf("install %s: %w", s.name, err)
	}
	return nil
}

// Rollback removes the package. It only runs after this step installed it.
func (s *PackageStep) Rollback(ctx compiler.RunContext) error {
	if err := s.deps.Packages.Remove(ctx.Context(), s.name); err != nil {
		return fmt.Errorf("remove %s: %w", s.name, err)
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *PackageStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation(
		"Install package",
		fmt.Sprintf("Installs %s with the system package manager.", s.name),
		nil,
	)
}

var _ compiler.RollbackableStep = (*PackageStep)(nil)
