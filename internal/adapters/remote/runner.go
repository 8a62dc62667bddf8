package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// exitCommandNotFound is the shell's status for a missing executable.
const exitCommandNotFound = 127

// SSHRunner implements ports.CommandRunner with one SSH session per command.
type SSHRunner struct {
	client *ssh.Client
}

// NewSSHRunner creates a runner on an established connection.
func NewSSHRunner(client *ssh.Client) *SSHRunner {
	return &SSHRunner{client: client}
}

// Run executes the command on the remote host. The remote side always goes
// through a login shell, so arguments are quoted individually.
func (r *SSHRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return ports.CommandResult{}, fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(CommandLine(command, args...))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return ports.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}, fmt.Errorf("%s: %w", command, ctx.Err())
	case err := <-done:
		result := ports.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return result, err
		}
		result.ExitCode = exitErr.ExitStatus()
		// A script that fails inside sh -c may exit 127 itself; only a
		// missing top-level executable is reported as not found.
		if result.ExitCode == exitCommandNotFound && command != "sh" {
			return result, fmt.Errorf("%w: %s", ports.ErrCommandNotFound, command)
		}
		return result, nil
	}
}

// CommandLine joins a command and its arguments into one POSIX shell line.
func CommandLine(command string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quote(command))
	for _, a := range args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./:=@,+%") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ ports.CommandRunner = (*SSHRunner)(nil)
