// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCommandNotFound is returned by runners when the executable is missing.
var ErrCommandNotFound = errors.New("command not found")

// exitCommandNotFound is the shell's exit status for a missing executable.
const exitCommandNotFound = 127

// CommandResult represents the result of executing a shell command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// NotFound reports whether the shell could not find the executable.
func (r CommandResult) NotFound() bool {
	return r.ExitCode == exitCommandNotFound
}

// Err converts a non-zero exit into an error carrying stderr.
func (r CommandResult) Err(command string, args ...string) error {
	if r.Success() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	return fmt.Errorf("%s %s: exit %d: %s", command, strings.Join(args, " "), r.ExitCode, msg)
}

// CommandCall records a command invocation.
type CommandCall struct {
	Command string
	Args    []string
}

// CommandRunner executes commands on the target host.
// A command that runs but exits non-zero is reported through the result,
// not the error; the error is reserved for failing to run it at all.
type CommandRunner interface {
	Run(ctx context.Context, command string, args ...string) (CommandResult, error)
}

// Shell runs a script through sh -c and turns a non-zero exit into an error.
func Shell(ctx context.Context, runner CommandRunner, script string) (CommandResult, error) {
	result, err := runner.Run(ctx, "sh", "-c", script)
	if err != nil {
		return result, err
	}
	return result, result.Err("sh", "-c", script)
}
