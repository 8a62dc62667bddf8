package host

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/ports"
	"github.com/felixgeelhaar/provision/internal/retry"
)

// CommandsProvider compiles the custom shell steps.
type CommandsProvider struct {
	runner ports.CommandRunner
	policy retry.Policy
}

// NewCommandsProvider creates a new CommandsProvider.
func NewCommandsProvider(runner ports.CommandRunner, policy retry.Policy) *CommandsProvider {
	return &CommandsProvider{runner: runner, policy: policy}
}

// Name returns the provider name.
func (p *CommandsProvider) Name() string {
	return "commands"
}

// Compile transforms each command entry into a step.
func (p *CommandsProvider) Compile(ctx compiler.CompileContext) ([]compiler.Step, error) {
	cfg := ctx.Host()
	if cfg == nil {
		return nil, nil
	}
	steps := make([]compiler.Step, 0, len(cfg.Commands))
	for _, c := range cfg.Commands {
		step, err := NewCommandStep(c, p.runner)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", c.Name, err)
		}
		if c.Retry {
			steps = append(steps, retry.Wrap(step, p.policy))
			continue
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// NewCommandStep builds a step from a command entry. Without a check the
// step applies on every run.
func NewCommandStep(c config.CommandStep, runner ports.CommandRunner) (*compiler.StepSpec, error) {
	step, err := compiler.NewStepSpec(c.Name, c.DependsOn...)
	if err != nil {
		return nil, err
	}
	step.
		WithIdempotent(c.IsIdempotent()).
		WithApply(shellAction(runner, c.Apply)).
		WithDiff(compiler.NewDiff(compiler.DiffTypeModify, "command", c.Name, "", c.Apply)).
		WithExplanation(compiler.NewExplanation("Run command", c.Apply, nil))
	if c.Check != "" {
		step.WithCheck(probe.Check(probe.CommandSucceeds(runner, c.Check)))
	}
	if c.Rollback != "" {
		step.WithRollback(shellAction(runner, c.Rollback))
	}
	return step, nil
}

func shellAction(runner ports.CommandRunner, script string) compiler.ActionFunc {
	return func(ctx compiler.RunContext) error {
		_, err := ports.Shell(ctx.Context(), runner, script)
		return err
	}
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ compiler.Provider = (*CommandsProvider)(nil)
