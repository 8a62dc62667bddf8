package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// PackageInstalled holds when the package manager reports name installed.
func PackageInstalled(installer ports.PackageInstaller, name string) Probe {
	return NewFunc(fmt.Sprintf("package %s installed", name), func(ctx context.Context) (bool, error) {
		ok, err := installer.Installed(ctx, name)
		if err != nil {
			return false, Unavailable("package database", err)
		}
		return ok, nil
	})
}

// ServiceActive holds when the service is running.
func ServiceActive(lifecycle ports.ServiceLifecycle, name string) Probe {
	return NewFunc(fmt.Sprintf("service %s active", name), func(ctx context.Context) (bool, error) {
		ok, err := lifecycle.IsActive(ctx, name)
		if err != nil {
			return false, Unavailable("service "+name, err)
		}
		return ok, nil
	})
}

// ArtifactMatches holds when the file at path parses to a value structurally
// equal to want. A missing or unparseable file does not hold.
func ArtifactMatches(fsys ports.FileSystem, path string, kind render.Kind, want any) Probe {
	return NewFunc(fmt.Sprintf("%s matches desired %s config", path, kind), func(_ context.Context) (bool, error) {
		data, err := fsys.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, Unavailable(path, err)
		}
		return render.Matches(kind, string(data), want), nil
	})
}

// FileExists holds when path exists.
func FileExists(fsys ports.FileSystem, path string) Probe {
	return NewFunc(fmt.Sprintf("%s exists", path), func(_ context.Context) (bool, error) {
		return fsys.Exists(path), nil
	})
}

// CommandSucceeds holds when the shell script exits 0.
func CommandSucceeds(runner ports.CommandRunner, script string) Probe {
	return NewFunc(fmt.Sprintf("check %q succeeds", script), func(ctx context.Context) (bool, error) {
		result, err := runner.Run(ctx, "sh", "-c", script)
		if err != nil {
			return false, Unavailable("shell", err)
		}
		return result.Success(), nil
	})
}

// FirewallRuleActive holds when ufw is active and lists the rule.
func FirewallRuleActive(runner ports.CommandRunner, rule render.FirewallRule) Probe {
	return NewFunc(fmt.Sprintf("firewall rule %s active", rule), func(ctx context.Context) (bool, error) {
		result, err := runner.Run(ctx, "ufw", "status")
		if err != nil {
			return false, Unavailable("firewall status", err)
		}
		if !result.Success() {
			return false, Unavailable("firewall status", result.Err("ufw", "status"))
		}
		return ufwListsRule(result.Stdout, rule), nil
	})
}

// ufwListsRule scans `ufw status` output. Plain output omits the direction
// of incoming rules ("443/tcp  ALLOW  Anywhere") and only prints it for the
// others ("25/tcp  DENY OUT  Anywhere"); verbose output always prints it.
func ufwListsRule(output string, rule render.FirewallRule) bool {
	lines := strings.Split(output, "\n")
	if len(lines) == 0 || !strings.Contains(lines[0], "Status: active") {
		return false
	}
	target := fmt.Sprintf("%d/%s", rule.Port, rule.Protocol)
	action := strings.ToUpper(rule.Action)
	direction := strings.ToUpper(rule.Direction)
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != target || strings.HasSuffix(line, "(v6)") {
			continue
		}
		if fields[1] == action && ufwDirection(fields[2]) == direction {
			return true
		}
	}
	return false
}

func ufwDirection(field string) string {
	switch field {
	case "IN", "OUT", "FWD":
		return field
	}
	return "IN"
}

// FirewallRuleAdded holds when ufw has the rule among its user rules, whether
// or not the firewall is active.
func FirewallRuleAdded(runner ports.CommandRunner, rule render.FirewallRule) Probe {
	return NewFunc(fmt.Sprintf("firewall rule %s added", rule), func(ctx context.Context) (bool, error) {
		result, err := runner.Run(ctx, "ufw", "show", "added")
		if err != nil {
			return false, Unavailable("firewall rules", err)
		}
		if !result.Success() {
			return false, Unavailable("firewall rules", result.Err("ufw", "show", "added"))
		}
		return ufwAddedRule(result.Stdout, rule), nil
	})
}

// ufwAddedRule scans `ufw show added` output, which repeats each rule as
// the command that adds it: "ufw allow 443/tcp", "ufw deny out 25/tcp".
// Rules with addresses or interfaces never match.
func ufwAddedRule(output string, rule render.FirewallRule) bool {
	target := fmt.Sprintf("%d/%s", rule.Port, rule.Protocol)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "ufw" {
			continue
		}
		args := fields[1:]
		if args[0] != rule.Action {
			continue
		}
		direction := "in"
		if args[1] == "in" || args[1] == "out" {
			direction, args = args[1], args[1:]
		}
		if len(args) == 2 && args[1] == target && direction == rule.Direction {
			return true
		}
	}
	return false
}

// ContainerRunning holds when docker reports the container running.
func ContainerRunning(runner ports.CommandRunner, name string) Probe {
	return NewFunc(fmt.Sprintf("container %s running", name), func(ctx context.Context) (bool, error) {
		result, err := runner.Run(ctx, "docker", "inspect", "--format", "{{.State.Running}}", name)
		if errors.Is(err, ports.ErrCommandNotFound) || result.NotFound() {
			return false, nil
		}
		if err != nil {
			return false, Unavailable("docker", err)
		}
		if !result.Success() {
			if strings.Contains(result.Stderr, "No such object") || strings.Contains(result.Stderr, "No such container") {
				return false, nil
			}
			return false, Unavailable("docker", result.Err("docker", "inspect", name))
		}
		return strings.TrimSpace(result.Stdout) == "true", nil
	})
}

// RuntimeVersion holds when the docker client is installed at minVersion or
// newer. An empty minVersion only requires the client to be present.
func RuntimeVersion(runner ports.CommandRunner, minVersion string) Probe {
	return NewFunc(fmt.Sprintf("docker >= %s installed", orAny(minVersion)), func(ctx context.Context) (bool, error) {
		result, err := runner.Run(ctx, "docker", "version", "--format", "{{.Client.Version}}")
		if errors.Is(err, ports.ErrCommandNotFound) || result.NotFound() {
			return false, nil
		}
		if err != nil {
			return false, Unavailable("docker", err)
		}
		if !result.Success() {
			return false, nil
		}
		if minVersion == "" {
			return true, nil
		}
		have := canonical(strings.TrimSpace(result.Stdout))
		if !semver.IsValid(have) {
			return false, Unavailable("docker", fmt.Errorf("unrecognized version %q", strings.TrimSpace(result.Stdout)))
		}
		return semver.Compare(have, canonical(minVersion)) >= 0, nil
	})
}

func orAny(v string) string {
	if v == "" {
		return "any"
	}
	return v
}

// canonical turns docker's "24.0.7" or "v24.0.7+dfsg1" into semver form.
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if i := strings.IndexAny(v, "+~"); i > 0 {
		v = v[:i]
	}
	return v
}
