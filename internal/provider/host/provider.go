// Package host compiles provision.yaml into the steps that provision one
// machine: packages, container runtime, proxy services, reverse proxy,
// firewall, kernel tuning and custom commands.
package host

import (
	"slices"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/domain/secrets"
	"github.com/felixgeelhaar/provision/internal/ports"
	"github.com/felixgeelhaar/provision/internal/retry"
)

// Step IDs of the singleton host steps.
const (
	RuntimeStepID        = "runtime:docker"
	OutlineStepID        = "container:outline"
	VMessStepID          = "vmess:config"
	VHostStepID          = "proxy:vhost"
	KernelStepID         = "sysctl:params"
	FirewallEnableStepID = "firewall:enable"
)

// Deps are the collaborators host steps act through.
type Deps struct {
	Runner       ports.CommandRunner
	Writer       *render.Writer
	Packages     ports.PackageInstaller
	Services     ports.ServiceLifecycle
	Containers   ports.ServiceLifecycle
	Certificates ports.CertificateProvider
	Secrets      *secrets.Provisioner
	Retry        retry.Policy
}

func (d Deps) fs() ports.FileSystem {
	return d.Writer.FileSystem()
}

// Provider compiles the host sections of the configuration.
type Provider struct {
	deps Deps
}

// NewProvider creates a new host Provider.
func NewProvider(deps Deps) *Provider {
	return &Provider{deps: deps}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "host"
}

// Compile transforms the host configuration into steps. Registration order
// follows the order a fresh machine is set up in.
func (p *Provider) Compile(ctx compiler.CompileContext) ([]compiler.Step, error) {
	cfg := ctx.Host()
	if cfg == nil {
		return nil, nil
	}

	var steps []compiler.Step
	for _, name := range packageNames(cfg) {
		steps = append(steps, retry.Wrap(NewPackageStep(name, p.deps), p.deps.Retry))
	}

	if cfg.Runtime.Enabled {
		steps = append(steps, retry.Wrap(NewRuntimeStep(cfg.Runtime, packageDeps(cfg, "curl"), p.deps), p.deps.Retry))
	}
	if cfg.Outline.Enabled {
		steps = append(steps, NewOutlineStep(cfg.Host.Name, cfg.Outline, p.deps))
	}
	if cfg.VMess.Enabled {
		vmess, err := NewVMessStep(*cfg, p.deps)
		if err != nil {
			return nil, err
		}
		steps = append(steps, vmess)
	}
	if cfg.ReverseProxy.Enabled {
		vhost, err := NewVHostStep(*cfg, p.deps)
		if err != nil {
			return nil, err
		}
		steps = append(steps, vhost)
	}
	if cfg.Kernel.Enabled {
		kernel, err := NewKernelStep(cfg.Kernel, p.deps)
		if err != nil {
			return nil, err
		}
		steps = append(steps, kernel)
	}
	if cfg.Firewall.Enabled {
		rules, err := firewallSteps(cfg.Firewall, packageDeps(cfg, "ufw"), p.deps)
		if err != nil {
			return nil, err
		}
		steps = append(steps, rules...)
	}

	return steps, nil
}

// packageNames returns declared packages plus the ones enabled sections need,
// without duplicates and in first-seen order.
func packageNames(cfg *config.HostConfig) []string {
	names := slices.Clone(cfg.Packages)
	add := func(name string) {
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	if cfg.VMess.Enabled {
		add(cfg.VMess.Package)
	}
	if cfg.ReverseProxy.Enabled {
		add(cfg.ReverseProxy.Service)
	}
	return names
}

// packageDeps returns the package step IDs for names that are provisioned.
func packageDeps(cfg *config.HostConfig, names ...string) []string {
	have := packageNames(cfg)
	var deps []string
	for _, name := range names {
		if slices.Contains(have, name) {
			deps = append(deps, PackageStepID(name))
		}
	}
	return deps
}

var _ compiler.Provider = (*Provider)(nil)
