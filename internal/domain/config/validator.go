package config

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	stepNamePattern  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_./-]*(?::[a-zA-Z0-9][a-zA-Z0-9_./-]*)*$`)
	packagePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]*$`)
	sysctlKeyPattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_-]+)+$`)
)

// Validate checks a defaulted HostConfig and collects every problem found.
func Validate(c *HostConfig) *ErrorList {
	errs := NewErrorList()

	if strings.TrimSpace(c.Host.Name) == "" {
		errs.AddValidation("host.name", "is required", "Set host.name to identify the machine in history and metrics.")
	}
	if !path.IsAbs(c.Host.StateDir) {
		errs.AddValidation("host.state_dir", "must be an absolute path", "")
	}

	for i, name := range c.Packages {
		if !packagePattern.MatchString(name) {
			errs.AddValidation(fmt.Sprintf("packages[%d]", i), fmt.Sprintf("invalid package name %q", name), "Use the Debian package name, e.g. nginx or ca-certificates.")
		}
	}

	if c.Runtime.MinVersion != "" && !semver.IsValid(CanonicalVersion(c.Runtime.MinVersion)) {
		errs.AddValidation("runtime.min_version", fmt.Sprintf("invalid version %q", c.Runtime.MinVersion), "Use a semantic version such as 24.0.0.")
	}

	if c.Outline.Enabled {
		if !c.Runtime.Enabled {
			errs.AddValidation("outline.enabled", "requires runtime.enabled", "The Outline server runs in a container; enable the runtime section.")
		}
		validatePort(errs, "outline.api_port", c.Outline.APIPort)
		validatePort(errs, "outline.keys_port", c.Outline.KeysPort)
	}

	if c.VMess.Enabled {
		validatePort(errs, "vmess.listen_port", c.VMess.ListenPort)
		switch c.VMess.Transport.Type {
		case "ws", "tcp", "grpc":
		default:
			errs.AddValidation("vmess.transport.type", fmt.Sprintf("unsupported transport %q", c.VMess.Transport.Type), "Use ws, tcp or grpc.")
		}
		switch {
		case c.VMess.Transport.Type == "ws" && !strings.HasPrefix(c.VMess.Transport.Path, "/"):
			errs.AddValidation("vmess.transport.path", "must start with /", "")
		case c.VMess.Transport.Type == "grpc" && c.VMess.Transport.Path == "":
			errs.AddValidation("vmess.transport.path", "grpc service name is required", "")
		case c.VMess.Transport.Type == "tcp" && c.VMess.Transport.Path != "":
			errs.AddValidation("vmess.transport.path", "tcp transport takes no path", "Remove vmess.transport.path.")
		}
		if !path.IsAbs(c.VMess.ConfigPath) {
			errs.AddValidation("vmess.config_path", "must be an absolute path", "")
		}
	}

	if c.ReverseProxy.Enabled {
		if c.Host.Domain == "" {
			errs.AddValidation("host.domain", "is required by reverse_proxy", "Set the domain the TLS certificate was issued for.")
		}
		validatePort(errs, "reverse_proxy.listen_port", c.ReverseProxy.ListenPort)
		if c.ReverseProxy.UpstreamURL == "" && !c.VMess.Enabled {
			errs.AddValidation("reverse_proxy.upstream_url", "is required when vmess is disabled", "Point the proxy at the service it fronts.")
		}
		if c.ReverseProxy.UpstreamURL != "" {
			if u, err := url.Parse(c.ReverseProxy.UpstreamURL); err != nil || u.Host == "" {
				errs.AddValidation("reverse_proxy.upstream_url", fmt.Sprintf("invalid URL %q", c.ReverseProxy.UpstreamURL), "Use a URL such as http://127.0.0.1:10000.")
			}
		}
		if !path.IsAbs(c.ReverseProxy.VHostPath) {
			errs.AddValidation("reverse_proxy.vhost_path", "must be an absolute path", "")
		}
	}

	if c.Firewall.Enabled {
		// A rule is keyed by port, protocol and direction; the action is what
		// the rule sets, so two rules on one key contradict each other.
		seen := make(map[string]int)
		for i, r := range c.Firewall.Rules {
			field := fmt.Sprintf("firewall.rules[%d]", i)
			key := fmt.Sprintf("%d/%s %s", r.Port, r.Protocol, r.Direction)
			if j, dup := seen[key]; dup {
				verb := "duplicates"
				if c.Firewall.Rules[j].Action != r.Action {
					verb = "conflicts with"
				}
				errs.AddValidation(field, fmt.Sprintf("%s %s firewall.rules[%d]", key, verb, j),
					"Keep one rule per port, protocol and direction.")
			} else {
				seen[key] = i
			}
			validatePort(errs, field+".port", r.Port)
			if r.Protocol != "tcp" && r.Protocol != "udp" {
				errs.AddValidation(field+".protocol", fmt.Sprintf("unsupported protocol %q", r.Protocol), "Use tcp or udp.")
			}
			if r.Direction != "in" && r.Direction != "out" {
				errs.AddValidation(field+".direction", fmt.Sprintf("unsupported direction %q", r.Direction), "Use in or out.")
			}
			if r.Action != "allow" && r.Action != "deny" {
				errs.AddValidation(field+".action", fmt.Sprintf("unsupported action %q", r.Action), "Use allow or deny.")
			}
		}
	}

	if c.Kernel.Enabled {
		if len(c.Kernel.Params) == 0 {
			errs.AddValidation("kernel.params", "at least one parameter is required", "")
		}
		for key := range c.Kernel.Params {
			if !sysctlKeyPattern.MatchString(key) {
				errs.AddValidation("kernel.params."+key, "invalid sysctl key", "Use dotted names such as net.ipv4.tcp_congestion_control.")
			}
		}
	}

	seen := make(map[string]bool, len(c.Commands))
	for i, cmd := range c.Commands {
		field := fmt.Sprintf("commands[%d]", i)
		if !stepNamePattern.MatchString(cmd.Name) {
			errs.AddValidation(field+".name", fmt.Sprintf("invalid step name %q", cmd.Name), "Use letters, digits and : . _ / - separators.")
		} else if seen[cmd.Name] {
			errs.AddValidation(field+".name", fmt.Sprintf("duplicate step name %q", cmd.Name), "")
		}
		seen[cmd.Name] = true
		if strings.TrimSpace(cmd.Apply) == "" {
			errs.AddValidation(field+".apply", "is required", "")
		}
	}

	s := c.Settings
	if s.StepTimeout < 0 {
		errs.AddValidation("settings.step_timeout", "must not be negative", "")
	}
	if s.Parallelism < 1 {
		errs.AddValidation("settings.parallelism", "must be at least 1", "")
	}
	if s.Retry.MaxAttempts < 1 {
		errs.AddValidation("settings.retry.max_attempts", "must be at least 1", "")
	}

	return errs
}

func validatePort(errs *ErrorList, field string, port int) {
	if port < 1 || port > 65535 {
		errs.AddValidation(field, fmt.Sprintf("port %d out of range", port), "Use a port between 1 and 65535.")
	}
}

// CanonicalVersion adds the "v" prefix semver expects.
func CanonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
