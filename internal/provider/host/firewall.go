package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// FirewallRuleStepID returns the step ID for one rule.
func FirewallRuleStepID(rule render.FirewallRule) string {
	return "firewall:rule:" + rule.Key()
}

func firewallSteps(cfg config.FirewallSection, dependsOn []string, deps Deps) ([]compiler.Step, error) {
	steps := make([]compiler.Step, 0, len(cfg.Rules)+1)
	ruleIDs := make([]string, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rule := render.FirewallRule{Port: r.Port, Protocol: r.Protocol, Direction: r.Direction, Action: r.Action}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		step := NewFirewallRuleStep(cfg.RulesPath, rule, dependsOn, deps)
		steps = append(steps, step)
		ruleIDs = append(ruleIDs, step.ID().String())
	}
	steps = append(steps, NewFirewallEnableStep(slices.Concat(dependsOn, ruleIDs), deps))
	return steps, nil
}

// readRules parses the shared rule file; a missing file is an empty set.
func readRules(fsys ports.FileSystem, path string) (render.FirewallRules, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return render.ParseFirewall(string(data))
}

// FirewallRuleStep records one rule in the shared rule file and adds it to ufw.
// Every rule step updates the same file through the writer's per-path lock.
type FirewallRuleStep struct {
	base
	path string
	rule render.FirewallRule
	deps Deps

	// What Apply found in place; Rollback leaves that part alone.
	hadRule   bool
	hadRecord bool
}

// NewFirewallRuleStep creates a new FirewallRuleStep.
func NewFirewallRuleStep(path string, rule render.FirewallRule, dependsOn []string, deps Deps) *FirewallRuleStep {
	return &FirewallRuleStep{
		base: newBase(FirewallRuleStepID(rule), dependsOn...),
		path: path,
		rule: rule,
		deps: deps,
	}
}

func (s *FirewallRuleStep) recorded() probe.Probe {
	return probe.NewFunc(fmt.Sprintf("rule %s recorded in %s", s.rule, s.path), func(context.Context) (bool, error) {
		rules, err := readRules(s.deps.fs(), s.path)
		if err != nil {
			return false, probe.Unavailable(s.path, err)
		}
		return rules.Contains(s.rule), nil
	})
}

// Check determines if the rule is recorded and active.
func (s *FirewallRuleStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	return probe.StepStatus(ctx.Context(), probe.All(
		s.recorded(),
		probe.FirewallRuleActive(s.deps.Runner, s.rule),
	))
}

// Plan returns the diff for this step.
func (s *FirewallRuleStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	return compiler.NewDiff(compiler.DiffTypeAdd, "firewall", s.rule.Key(), "", s.rule.String()), nil
}

// Apply adds the rule to the file and to ufw.
func (s *FirewallRuleStep) Apply(ctx compiler.RunContext) error {
	added, err := probe.FirewallRuleAdded(s.deps.Runner, s.rule).Check(ctx.Context())
	if err != nil {
		return err
	}
	s.hadRule = added

	_, err = s.deps.Writer.Update(s.path, artifactMode, func(current []byte, _ bool) (render.Artifact, error) {
		rules, err := render.ParseFirewall(string(current))
		if err != nil {
			return render.Artifact{}, err
		}
		s.hadRecord = rules.Contains(s.rule)
		return render.Render(render.KindFirewallRules, rules.With(s.rule))
	})
	if err != nil {
		return err
	}
	if s.hadRule {
		return nil
	}
	return s.ufw(ctx, s.rule.UFWArgs()...)
}

// Rollback takes out what Apply put in: the ufw rule and the file entry,
// each only if it was not there before.
func (s *FirewallRuleStep) Rollback(ctx compiler.RunContext) error {
	var ufwErr, fileErr error
	if !s.hadRule {
		ufwErr = s.ufw(ctx, append([]string{"delete"}, s.rule.UFWArgs()...)...)
	}
	if !s.hadRecord {
		_, fileErr = s.deps.Writer.Update(s.path, artifactMode, func(current []byte, _ bool) (render.Artifact, error) {
			rules, err := render.ParseFirewall(string(current))
			if err != nil {
				return render.Artifact{}, err
			}
			return render.Render(render.KindFirewallRules, rules.Without(s.rule))
		})
	}
	return errors.Join(ufwErr, fileErr)
}

func (s *FirewallRuleStep) ufw(ctx compiler.RunContext, args ...string) error {
	result, err := s.deps.Runner.Run(ctx.Context(), "ufw", args...)
	if err != nil {
		return err
	}
	return result.Err("ufw", args...)
}

// Explain provides a human-readable explanation.
func (s *FirewallRuleStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation(
		"Firewall rule",
		fmt.Sprintf("Adds %q to ufw and records it in %s.", s.rule.String(), s.path),
		nil,
	)
}

// FirewallEnableStep turns ufw on once every rule is in place.
type FirewallEnableStep struct {
	base
	deps Deps
}

// NewFirewallEnableStep creates a new FirewallEnableStep.
func NewFirewallEnableStep(dependsOn []string, deps Deps) *FirewallEnableStep {
	return &FirewallEnableStep{
		base: newBase(FirewallEnableStepID, dependsOn...),
		deps: deps,
	}
}

// Check determines if ufw is active.
func (s *FirewallEnableStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	result, err := s.deps.Runner.Run(ctx.Context(), "ufw", "status")
	if err != nil {
		return compiler.StatusUnknown, probe.Unavailable("firewall status", err)
	}
	if !result.Success() {
		return compiler.StatusUnknown, probe.Unavailable("firewall status", result.Err("ufw", "status"))
	}
	return compiler.StatusFromBool(strings.Contains(result.Stdout, "Status: active")), nil
}

// Plan returns the diff for this step.
func (s *FirewallEnableStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	return compiler.NewDiff(compiler.DiffTypeModify, "firewall", "ufw", "inactive", "active"), nil
}

// Apply enables ufw.
func (s *FirewallEnableStep) Apply(ctx compiler.RunContext) error {
	result, err := s.deps.Runner.Run(ctx.Context(), "ufw", "--force", "enable")
	if err != nil {
		return err
	}
	return result.Err("ufw", "--force", "enable")
}

// Rollback disables ufw again; it was inactive before Apply.
func (s *FirewallEnableStep) Rollback(ctx compiler.RunContext) error {
	result, err := s.deps.Runner.Run(ctx.Context(), "ufw", "--force", "disable")
	if err != nil {
		return err
	}
	return result.Err("ufw", "--force", "disable")
}

// Explain provides a human-readable explanation.
func (s *FirewallEnableStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation("Enable firewall", "Activates ufw with the recorded rules.", nil)
}

var (
	_ compiler.RollbackableStep = (*FirewallRuleStep)(nil)
	_ compiler.RollbackableStep = (*FirewallEnableStep)(nil)
)
