package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/domain/render"
)

// VHostStep renders the nginx virtual host that terminates TLS and proxies
// the websocket path to the VMess service.
type VHostStep struct {
	base
	domain       string
	cfg          config.ReverseProxySection
	upstreamURL  string
	upstreamPath string
	deps         Deps

	mu     sync.Mutex
	backup *render.Backup
}

// NewVHostStep creates a new VHostStep.
func NewVHostStep(cfg config.HostConfig, deps Deps) (*VHostStep, error) {
	dependsOn := []string{PackageStepID(cfg.ReverseProxy.Service)}
	upstreamPath := "/"
	if cfg.VMess.Enabled {
		dependsOn = append(dependsOn, VMessStepID)
		if cfg.VMess.Transport.Type == "ws" {
			upstreamPath = cfg.VMess.Transport.Path
		}
	}
	step := &VHostStep{
		base:         newBase(VHostStepID, dependsOn...),
		domain:       cfg.Host.Domain,
		cfg:          cfg.ReverseProxy,
		upstreamURL:  cfg.UpstreamURL(),
		upstreamPath: upstreamPath,
		deps:         deps,
	}

	placeholder := step.vhost("/placeholder/cert.pem", "/placeholder/key.pem")
	if err := placeholder.Validate(); err != nil {
		return nil, err
	}
	return step, nil
}

func (s *VHostStep) vhost(certPath, keyPath string) render.VHost {
	return render.VHost{
		ListenPort:       s.cfg.ListenPort,
		ServerName:       s.domain,
		TLSCertPath:      certPath,
		TLSKeyPath:       keyPath,
		UpstreamPath:     s.upstreamPath,
		UpstreamURL:      s.upstreamURL,
		WebsocketUpgrade: s.cfg.Websocket != nil && *s.cfg.Websocket,
	}
}

// Check determines if the vhost on disk matches and nginx is running. A
// missing certificate means the step needs applying, where it fails.
func (s *VHostStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	paths, err := s.deps.Certificates.Lookup(ctx.Context(), s.domain)
	if errors.Is(err, compiler.ErrCertificateNotFound) {
		return compiler.StatusNeedsApply, nil
	}
	if err != nil {
		return compiler.StatusUnknown, probe.Unavailable("certificate store", err)
	}
	want := s.vhost(paths.CertPath, paths.KeyPath)
	return probe.StepStatus(ctx.Context(), probe.All(
		probe.ArtifactMatches(s.deps.fs(), s.cfg.VHostPath, render.KindReverseProxyVHost, want),
		probe.ServiceActive(s.deps.Services, s.cfg.Service),
	))
}

// Plan returns the diff for this step.
func (s *VHostStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	summary := fmt.Sprintf("%s:%d -> %s%s", s.domain, s.cfg.ListenPort, s.upstreamURL, s.upstreamPath)
	if s.deps.fs().Exists(s.cfg.VHostPath) {
		return compiler.NewDiff(compiler.DiffTypeModify, "vhost", s.cfg.VHostPath, "", summary), nil
	}
	return compiler.NewDiff(compiler.DiffTypeAdd, "vhost", s.cfg.VHostPath, "", summary), nil
}

// Apply writes the vhost, validates the nginx config and reloads nginx. An
// invalid config is restored before the error is returned.
func (s *VHostStep) Apply(ctx compiler.RunContext) error {
	paths, err := s.deps.Certificates.Lookup(ctx.Context(), s.domain)
	if err != nil {
		return err
	}
	art, err := render.Render(render.KindReverseProxyVHost, s.vhost(paths.CertPath, paths.KeyPath))
	if err != nil {
		return err
	}
	res, err := s.deps.Writer.Write(s.cfg.VHostPath, art, artifactMode)
	if err != nil {
		return err
	}
	if res.Changed {
		s.mu.Lock()
		s.backup = &res.Backup
		s.mu.Unlock()
	}

	result, err := s.deps.Runner.Run(ctx.Context(), "nginx", "-t")
	if err == nil {
		err = result.Err("nginx", "-t")
	}
	if err != nil {
		if res.Changed {
			err = errors.Join(err, s.deps.Writer.Restore(res.Backup, artifactMode))
			s.mu.Lock()
			s.backup = nil
			s.mu.Unlock()
		}
		return fmt.Errorf("nginx config test: %w", err)
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

// Rollback restores the previous vhost and restarts nginx on it.
func (s *VHostStep) Rollback(ctx compiler.RunContext) error {
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
	return s.deps.Services.Restart(ctx.Context(), s.cfg.Service)
}

// Explain provides a human-readable explanation.
func (s *VHostStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation(
		"Configure reverse proxy",
		fmt.Sprintf("Serves %s on port %d with its issued certificate and proxies %s to %s.",
			s.domain, s.cfg.ListenPort, s.upstreamPath, s.upstreamURL),
		[]string{"https://nginx.org/en/docs/http/websocket.html"},
	)
}

var _ compiler.RollbackableStep = (*VHostStep)(nil)
