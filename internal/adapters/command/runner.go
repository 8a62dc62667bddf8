// Package command provides command execution adapters.
package command

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// LocalRunner executes commands on the machine provision runs on.
type LocalRunner struct {
	env []string
}

// NewLocalRunner creates a LocalRunner. env entries (KEY=value) are added to
// the inherited environment of every command.
func NewLocalRunner(env ...string) *LocalRunner {
	return &LocalRunner{env: env}
}

// Run executes a command and returns the result.
// A non-zero exit is reported in the result; a missing executable yields
// ports.ErrCommandNotFound.
func (r *LocalRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := ports.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%w: %s", ports.ErrCommandNotFound, command)
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s: %w", command, ctx.Err())
		}
		return result, err
	}

	return result, nil
}

var _ ports.CommandRunner = (*LocalRunner)(nil)
