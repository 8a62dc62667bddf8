package host

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/domain/render"
)

// KernelStep writes sysctl tuning (for example BBR congestion control) to a
// sysctl.d file and loads it.
type KernelStep struct {
	base
	path   string
	params render.KernelParams
	deps   Deps

	mu     sync.Mutex
	backup *render.Backup
}

// NewKernelStep creates a new KernelStep.
func NewKernelStep(cfg config.KernelSection, deps Deps) (*KernelStep, error) {
	params := render.KernelParams(cfg.Params)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &KernelStep{
		base:   newBase(KernelStepID),
		path:   cfg.Path,
		params: params,
		deps:   deps,
	}, nil
}

// liveValues holds when every parameter is currently set to its value.
func (s *KernelStep) liveValues() probe.Probe {
	return probe.NewFunc("kernel parameters loaded", func(ctx context.Context) (bool, error) {
		for _, key := range s.params.Keys() {
			result, err := s.deps.Runner.Run(ctx, "sysctl", "-n", key)
			if err != nil {
				return false, probe.Unavailable("sysctl", err)
			}
			if !result.Success() {
				return false, nil
			}
			if strings.Join(strings.Fields(result.Stdout), " ") != strings.Join(strings.Fields(s.params[key]), " ") {
				return false, nil
			}
		}
		return true, nil
	})
}

// Check determines if the file matches and the values are live.
func (s *KernelStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	return probe.StepStatus(ctx.Context(), probe.All(
		probe.ArtifactMatches(s.deps.fs(), s.path, render.KindKernelParams, s.params),
		s.liveValues(),
	))
}

// Plan returns the diff for this step.
func (s *KernelStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	return compiler.NewDiff(compiler.DiffTypeModify, "sysctl", s.path, "", strings.Join(s.params.Keys(), ", ")), nil
}

// Apply writes the sysctl file and reloads all sysctl configuration.
func (s *KernelStep) Apply(ctx compiler.RunContext) error {
	art, err := render.Render(render.KindKernelParams, s.params)
	if err != nil {
		return err
	}
	res, err := s.deps.Writer.Write(s.path, art, artifactMode)
	if err != nil {
		return err
	}
	if res.Changed {
		s.mu.Lock()
		s.backup = &res.Backup
		s.mu.Unlock()
	}
	return s.reload(ctx)
}

func (s *KernelStep) reload(ctx compiler.RunContext) error {
	result, err := s.deps.Runner.Run(ctx.Context(), "sysctl", "--system")
	if err != nil {
		return err
	}
	return result.Err("sysctl", "--system")
}

// Rollback restores the previous file and reloads. Values the old files do
// not mention keep their new setting until reboot.
func (s *KernelStep) Rollback(ctx compiler.RunContext) error {
	s.mu.Lock()
	backup := s.backup
	s.backup = nil
	s.mu.Unlock()
	if backup == nil {
		return nil
	}
	if err := s.deps.Writer.Restore(*backup, artifactMode); err != nil {
		return err
	}
	return s.reload(ctx)
}

// Explain provides a human-readable explanation.
func (s *KernelStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation(
		"Tune kernel parameters",
		fmt.Sprintf("Writes %s and loads it with sysctl --system.", s.path),
		[]string{"https://www.kernel.org/doc/Documentation/networking/ip-sysctl.txt"},
	)
}

var _ compiler.RollbackableStep = (*KernelStep)(nil)
