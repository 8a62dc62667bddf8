package host

import (
	"fmt"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// RuntimeStep installs the container runtime with its convenience script.
// It has no rollback: removing a runtime other workloads may share is not
// something a failed run should do.
type RuntimeStep struct {
	base
	cfg  config.RuntimeSection
	deps Deps
}

// NewRuntimeStep creates a new RuntimeStep.
func NewRuntimeStep(cfg config.RuntimeSection, dependsOn []string, deps Deps) *RuntimeStep {
	return &RuntimeStep{
		base: newBase(RuntimeStepID, dependsOn...),
		cfg:  cfg,
		deps: deps,
	}
}

func (s *RuntimeStep) probe() probe.Probe {
	return probe.RuntimeVersion(s.deps.Runner, s.cfg.MinVersion)
}

// Check determines if a recent enough runtime is installed.
func (s *RuntimeStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	return probe.StepStatus(ctx.Context(), s.probe())
}

// Plan returns the diff for this step.
func (s *RuntimeStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	want := "latest"
	if s.cfg.MinVersion != "" {
		want = ">= " + s.cfg.MinVersion
	}
	return compiler.NewDiff(compiler.DiffTypeAdd, "runtime", "docker", "", want), nil
}

// Apply downloads and runs the install script, then enables the daemon.
func (s *RuntimeStep) Apply(ctx compiler.RunContext) error {
	script := fmt.Sprintf("curl -fsSL %s | sh", shellQuote(s.cfg.InstallScript))
	if _, err := ports.Shell(ctx.Context(), s.deps.Runner, script); err != nil {
		return fmt.Errorf("install docker: %w", err)
	}
	if err := s.deps.Services.Start(ctx.Context(), "docker"); err != nil {
		return fmt.Errorf("start docker: %w", err)
	}

	ok, err := s.probe().Check(ctx.Context())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("installed docker does not satisfy %s", s.probe().Describe())
	}
	return nil
}

// Explain provides a human-readable explanation.
func (s *RuntimeStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation(
		"Install container runtime",
		fmt.Sprintf("Runs the Docker convenience script from %s and starts the daemon.", s.cfg.InstallScript),
		[]string{"https://docs.docker.com/engine/install/"},
	)
}
