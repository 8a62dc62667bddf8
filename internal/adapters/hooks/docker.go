package hooks

import (
	"context"

	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// Docker manages existing containers by name.
type Docker struct {
	runner ports.CommandRunner
}

// NewDocker creates a Docker hook.
func NewDocker(runner ports.CommandRunner) *Docker {
	return &Docker{runner: runner}
}

// Start starts a stopped container.
func (d *Docker) Start(ctx context.Context, name string) error {
	return d.docker(ctx, "start", name)
}

// Stop stops a running container.
func (d *Docker) Stop(ctx context.Context, name string) error {
	return d.docker(ctx, "stop", name)
}

// Restart restarts a container.
func (d *Docker) Restart(ctx context.Context, name string) error {
	return d.docker(ctx, "restart", name)
}

// IsActive reports whether the container exists and is running.
func (d *Docker) IsActive(ctx context.Context, name string) (bool, error) {
	return probe.ContainerRunning(d.runner, name).Check(ctx)
}

func (d *Docker) docker(ctx context.Context, args ...string) error {
	result, err := d.runner.Run(ctx, "docker", args...)
	if err != nil {
		return err
	}
	return result.Err("docker", args...)
}

var _ ports.ServiceLifecycle = (*Docker)(nil)
