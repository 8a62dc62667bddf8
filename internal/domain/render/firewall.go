package render

import (
	"bufio"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

const firewallHeader = "# Managed by provision. Changes are overwritten.\n"

// FirewallRule is one packet filter rule.
type FirewallRule struct {
	Port      int
	Protocol  string // tcp or udp
	Direction string // in or out
	Action    string // allow or deny
}

// String renders the rule in rule-file form, e.g. "allow in 443/tcp".
func (r FirewallRule) String() string {
	return fmt.Sprintf("%s %s %d/%s", r.Action, r.Direction, r.Port, r.Protocol)
}

// Key is a stable identifier usable in step names, e.g. "443-tcp-in".
func (r FirewallRule) Key() string {
	return fmt.Sprintf("%d-%s-%s", r.Port, r.Protocol, r.Direction)
}

// UFWArgs returns the ufw arguments that add the rule.
func (r FirewallRule) UFWArgs() []string {
	return []string{r.Action, r.Direction, fmt.Sprintf("%d/%s", r.Port, r.Protocol)}
}

// Validate checks the rule constraints.
func (r FirewallRule) Validate() error {
	if !validPort(r.Port) {
		return compiler.NewInvalidConfigError(string(KindFirewallRules), "port", fmt.Sprintf("port %d out of range 1-65535", r.Port))
	}
	if r.Protocol != "tcp" && r.Protocol != "udp" {
		return compiler.NewInvalidConfigError(string(KindFirewallRules), "protocol", fmt.Sprintf("unsupported protocol %q", r.Protocol))
	}
	if r.Direction != "in" && r.Direction != "out" {
		return compiler.NewInvalidConfigError(string(KindFirewallRules), "direction", fmt.Sprintf("unsupported direction %q", r.Direction))
	}
	if r.Action != "allow" && r.Action != "deny" {
		return compiler.NewInvalidConfigError(string(KindFirewallRules), "action", fmt.Sprintf("unsupported action %q", r.Action))
	}
	return nil
}

// FirewallRules is an ordered rule set.
type FirewallRules []FirewallRule

// Equal compares rule sets in order.
func (rs FirewallRules) Equal(other FirewallRules) bool {
	return slices.Equal(rs, other)
}

// Contains reports whether the rule is present.
func (rs FirewallRules) Contains(rule FirewallRule) bool {
	return slices.Contains(rs, rule)
}

// With returns the set with rule appended unless already present.
func (rs FirewallRules) With(rule FirewallRule) FirewallRules {
	if rs.Contains(rule) {
		return slices.Clone(rs)
	}
	return append(slices.Clone(rs), rule)
}

// Without returns the set with every copy of rule removed.
func (rs FirewallRules) Without(rule FirewallRule) FirewallRules {
	return slices.DeleteFunc(slices.Clone(rs), func(r FirewallRule) bool { return r == rule })
}

// RenderFirewall renders a rule file.
func RenderFirewall(rules FirewallRules) (Artifact, error) {
	var b strings.Builder
	b.WriteString(firewallHeader)
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return Artifact{}, err
		}
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return newArtifact(KindFirewallRules, slices.Clone(rules), b.String()), nil
}

// ParseFirewall reads a rule file. Blank lines and # comments are ignored.
func ParseFirewall(text string) (FirewallRules, error) {
	rules := FirewallRules{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("firewall line %d: want \"action direction port/proto\", got %q", lineNo, line)
		}
		portStr, proto, ok := strings.Cut(fields[2], "/")
		if !ok {
			return nil, fmt.Errorf("firewall line %d: missing protocol in %q", lineNo, fields[2])
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("firewall line %d: %w", lineNo, err)
		}
		rule := FirewallRule{Port: port, Protocol: proto, Direction: fields[1], Action: fields[0]}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("firewall line %d: %w", lineNo, err)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}
