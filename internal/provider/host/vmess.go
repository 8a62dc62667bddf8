package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/domain/secrets"
)

const (
	artifactMode = 0o644
	loopback     = "127.0.0.1"
	anyAddress   = "0.0.0.0"
)

// VMessStep renders the VMess service config with a persistent client ID and
// keeps the service running.
type VMessStep struct {
	base
	cfg     config.VMessSection
	address string
	deps    Deps

	mu     sync.Mutex
	backup *render.Backup
}

// NewVMessStep creates a new VMessStep. The service listens on loopback when
// the reverse proxy fronts it.
func NewVMessStep(cfg config.HostConfig, deps Deps) (*VMessStep, error) {
	var dependsOn []string
	if cfg.VMess.Package != "" {
		dependsOn = append(dependsOn, PackageStepID(cfg.VMess.Package))
	}
	address := anyAddress
	if cfg.ReverseProxy.Enabled {
		address = loopback
	}
	step := &VMessStep{
		base:    newBase(VMessStepID, dependsOn...),
		cfg:     cfg.VMess,
		address: address,
		deps:    deps,
	}

	// Surface transport and port problems at compile time. Any UUID will do.
	probeCfg := step.serviceConfig("00000000-0000-0000-0000-000000000000")
	if err := probeCfg.Validate(); err != nil {
		return nil, err
	}
	return step, nil
}

func (s *VMessStep) serviceConfig(clientID string) render.ServiceConfig {
	return render.ServiceConfig{
		ClientID:      clientID,
		Transport:     render.Transport{Type: s.cfg.Transport.Type, Path: s.cfg.Transport.Path},
		ListenPort:    s.cfg.ListenPort,
		ListenAddress: s.address,
	}
}

// existingClientID reads the client ID from the rendered config on disk, or
// from the credential store. A pending rotation wins over the disk. It never
// issues one.
func (s *VMessStep) existingClientID() (fromDisk, known string, err error) {
	cred, ok, err := s.deps.Secrets.Lookup(s.ID().String())
	if err != nil {
		return "", "", probe.Unavailable("credential store", err)
	}
	if ok && cred.Pending {
		return "", cred.Value, nil
	}

	content, exists, err := s.deps.Writer.Read(s.cfg.ConfigPath)
	if err != nil {
		return "", "", probe.Unavailable(s.cfg.ConfigPath, err)
	}
	if exists {
		if id, err := render.ClientIDFromService(string(content)); err == nil {
			return id, id, nil
		}
	}
	if ok {
		return "", cred.Value, nil
	}
	return "", "", nil
}

// Check determines if the config on disk matches and the service is running.
func (s *VMessStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	_, known, err := s.existingClientID()
	if err != nil {
		return compiler.StatusUnknown, err
	}
	if known == "" {
		return compiler.StatusNeedsApply, nil
	}
	return probe.StepStatus(ctx.Context(), probe.All(
		probe.ArtifactMatches(s.deps.fs(), s.cfg.ConfigPath, render.KindServiceConfig, s.serviceConfig(known)),
		probe.ServiceActive(s.deps.Services, s.cfg.Service),
	))
}

// Plan returns the diff for this step.
func (s *VMessStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	_, exists, err := s.deps.Writer.Read(s.cfg.ConfigPath)
	if err != nil {
		return compiler.Diff{}, err
	}
	summary := fmt.Sprintf("%s :%d", s.cfg.Transport.Type, s.cfg.ListenPort)
	if exists {
		return compiler.NewDiff(compiler.DiffTypeModify, "service-config", s.cfg.ConfigPath, "", summary), nil
	}
	return compiler.NewDiff(compiler.DiffTypeAdd, "service-config", s.cfg.ConfigPath, "", summary), nil
}

// Apply renders the config, writes it if it changed and restarts the service.
func (s *VMessStep) Apply(ctx compiler.RunContext) error {
	fromDisk, _, err := s.existingClientID()
	if err != nil {
		return err
	}
	cred, err := s.deps.Secrets.Ensure(s.ID().String(), secrets.KindClientID, fromDisk)
	if err != nil {
		return fmt.Errorf("client id: %w", err)
	}

	art, err := render.Render(render.KindServiceConfig, s.serviceConfig(cred.Value))
	if err != nil {
		return err
	}
	res, err := s.deps.Writer.Write(s.cfg.ConfigPath, art, artifactMode)
	if err != nil {
		return err
	}
	if res.Changed {
		s.mu.Lock()
		s.backup = &res.Backup
		s.mu.Unlock()
	}

	active, err := s.deps.Services.IsActive(ctx.Context(), s.cfg.Service)
	if err != nil {
		return err
	}
	if res.Changed || !active {
		return s.deps.Services.Restart(ctx.Context(), s.cfg.Service)
	}
	return nil
}

// Rollback restores the previous config. The service is restarted on the old
// config, or stopped when there was none.
func (s *VMessStep) Rollback(ctx compiler.RunContext) error {
	s.mu.Lock()
	backup := s.backup
	s.backup = nil
	s.mu.Unlock()
	if backup == nil {
		return nil
	}

	var errs []error
	if err := s.deps.Writer.Restore(*backup, artifactMode); err != nil {
		errs = append(errs, err)
	}
	if backup.Existed {
		errs = append(errs, s.deps.Services.Restart(ctx.Context(), s.cfg.Service))
	} else {
		errs = append(errs, s.deps.Services.Stop(ctx.Context(), s.cfg.Service))
	}
	return errors.Join(errs...)
}

// Explain provides a human-readable explanation.
func (s *VMessStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation(
		"Configure VMess service",
		fmt.Sprintf("Writes %s for the %s unit, listening on %s:%d over %s. The client ID is kept across runs.",
			s.cfg.ConfigPath, s.cfg.Service, s.address, s.cfg.ListenPort, s.cfg.Transport.Type),
		nil,
	)
}

var _ compiler.RollbackableStep = (*VMessStep)(nil)
