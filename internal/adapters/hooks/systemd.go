package hooks

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// Systemd manages units with systemctl.
type Systemd struct {
	runner ports.CommandRunner
}

// NewSystemd creates a Systemd hook.
func NewSystemd(runner ports.CommandRunner) *Systemd {
	return &Systemd{runner: runner}
}

// Start enables the unit and starts it.
func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.systemctl(ctx, "enable", "--now", unit(name))
}

// Stop stops the unit and disables it.
func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.systemctl(ctx, "disable", "--now", unit(name))
}

// Restart enables the unit and restarts it so it picks up new config.
func (s *Systemd) Restart(ctx context.Context, name string) error {
	if err := s.systemctl(ctx, "enable", unit(name)); err != nil {
		return err
	}
	return s.systemctl(ctx, "restart", unit(name))
}

// IsActive reports whether systemd considers the unit active. Every state
// other than "active" (inactive, failed, activating, unknown unit) is false.
func (s *Systemd) IsActive(ctx context.Context, name string) (bool, error) {
	result, err := s.runner.Run(ctx, "systemctl", "is-active", unit(name))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(result.Stdout) == "active", nil
}

func (s *Systemd) systemctl(ctx context.Context, args ...string) error {
	result, err := s.runner.Run(ctx, "systemctl", args...)
	if err != nil {
		return err
	}
	return result.Err("systemctl", args...)
}

func unit(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

var _ ports.ServiceLifecycle = (*Systemd)(nil)
