package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/render"
)

// ErrNoClientID is returned when the service config is previewed before a
// client ID was ever issued.
var ErrNoClientID = errors.New("no client id issued yet; run apply first")

// Preview renders the artifact of one kind as apply would write it, without
// touching the host. Credentials and certificates are looked up, never issued.
func Preview(ctx context.Context, cfg *config.HostConfig, kind render.Kind, deps Deps) (render.Artifact, error) {
	switch kind {
	case render.KindFirewallRules:
		rules := make(render.FirewallRules, 0, len(cfg.Firewall.Rules))
		for _, r := range cfg.Firewall.Rules {
			rules = append(rules, render.FirewallRule{Port: r.Port, Protocol: r.Protocol, Direction: r.Direction, Action: r.Action})
		}
		return render.Render(kind, rules)

	case render.KindKernelParams:
		return render.Render(kind, render.KernelParams(cfg.Kernel.Params))

	case render.KindServiceConfig:
		step, err := NewVMessStep(*cfg, deps)
		if err != nil {
			return render.Artifact{}, err
		}
		_, known, err := step.existingClientID()
		if err != nil {
			return render.Artifact{}, err
		}
		if known == "" {
			return render.Artifact{}, ErrNoClientID
		}
		return render.Render(kind, step.serviceConfig(known))

	case render.KindReverseProxyVHost:
		step, err := NewVHostStep(*cfg, deps)
		if err != nil {
			return render.Artifact{}, err
		}
		paths, err := deps.Certificates.Lookup(ctx, cfg.Host.Domain)
		if err != nil {
			return render.Artifact{}, err
		}
		return render.Render(kind, step.vhost(paths.CertPath, paths.KeyPath))
	}
	return render.Artifact{}, fmt.Errorf("unsupported artifact kind %q", kind)
}
