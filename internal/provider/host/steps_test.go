package host_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/domain/secrets"
	"github.com/felixgeelhaar/provision/internal/ports"
	"github.com/felixgeelhaar/provision/internal/provider/host"
)

func runCtx() compiler.RunContext {
	return compiler.NewRunContext(context.Background())
}

func TestPackageStep(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	step := host.NewPackageStep("nginx", m.deps)
	assert.Equal(t, "apt:package:nginx", step.ID().String())

	status, err := step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	require.NoError(t, step.Apply(runCtx()))
	status, err = step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)

	require.NoError(t, step.Rollback(runCtx()))
	assert.Equal(t, []string{"nginx"}, m.packages.Removals())
}

func TestPackageStep_QueryFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	m.packages.FailQueries(assert.AnError)

	_, err := host.NewPackageStep("nginx", m.deps).Check(runCtx())
	assert.ErrorIs(t, err, compiler.ErrProbeUnavailable)
}

func TestRuntimeStep(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	installed := false
	m.runner.On("docker", []string{"version", "--format", "{{.Client.Version}}"}, func() (ports.CommandResult, error) {
		if !installed {
			return ports.CommandResult{ExitCode: 127}, nil
		}
		return ports.CommandResult{Stdout: "27.3.1\n"}, nil
	})
	m.runner.On("sh", []string{"-c", "curl -fsSL 'https://get.docker.com' | sh"}, func() (ports.CommandResult, error) {
		installed = true
		return ports.CommandResult{}, nil
	})

	step := host.NewRuntimeStep(config.RuntimeSection{
		Enabled:       true,
		InstallScript: config.DefaultInstallScript,
		MinVersion:    "24.0.0",
	}, nil, m.deps)

	status, err := step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)

	require.NoError(t, step.Apply(runCtx()))
	assert.Contains(t, m.services.Calls(), "start docker")
	assert.Nil(t, compiler.AsRollbackable(step), "the runtime is never uninstalled")
}

func TestOutlineStep(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	cred, err := m.secrets.Issue(host.OutlineStepID, secrets.KindAccessKey)
	require.NoError(t, err)

	cfg := config.HostConfig{Outline: config.OutlineSection{Enabled: true, APIPort: 8081, KeysPort: 8388}}.WithDefaults()
	runArgs := []string{
		"run", "-d",
		"--name", "shadowbox",
		"--restart", "always",
		"--net", "host",
		"-v", "/opt/outline:/opt/outline",
		"-e", "SB_STATE_DIR=/opt/outline/persisted-state",
		"-e", "SB_API_PREFIX=" + cred.Value,
		"-e", "SB_API_PORT=8081",
		"-e", "SB_DEFAULT_SERVER_NAME=edge-1",
		config.DefaultOutlineImage,
	}
	m.runner.AddResult("docker", []string{"rm", "-f", "shadowbox"}, ports.CommandResult{})
	m.runner.AddResult("docker", runArgs, ports.CommandResult{Stdout: "0123abcd\n"})

	step := host.NewOutlineStep("edge-1", cfg.Outline, m.deps)
	require.NoError(t, step.Apply(runCtx()))
	assert.Equal(t, 1, m.runner.CallCount("docker", runArgs...), "the stored API secret is reused")

	serverConfig, ok := m.fs.Content("/opt/outline/persisted-state/shadowbox_server_config.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"portForNewAccessKeys": 8388}`, serverConfig)

	require.NoError(t, step.Rollback(runCtx()))
	assert.Equal(t, 2, m.runner.CallCount("docker", "rm", "-f", "shadowbox"))
	_, kept, err := m.secrets.Lookup(host.OutlineStepID)
	require.NoError(t, err)
	assert.True(t, kept, "rollback keeps the secret")
}

func TestOutlineStep_ReusesPrefixOfRunningContainer(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	cfg := config.HostConfig{Outline: config.OutlineSection{Enabled: true}}.WithDefaults()
	m.runner.AddResult("docker",
		[]string{"inspect", "--format", "{{range .Config.Env}}{{println .}}{{end}}", "shadowbox"},
		ports.CommandResult{Stdout: "PATH=/usr/bin\nSB_API_PREFIX=kept-prefix\nSB_STATE_DIR=/opt/outline/persisted-state\n"})
	m.runner.AddResult("docker", []string{"rm", "-f", "shadowbox"}, ports.CommandResult{})
	runArgs := []string{
		"run", "-d",
		"--name", "shadowbox",
		"--restart", "always",
		"--net", "host",
		"-v", "/opt/outline:/opt/outline",
		"-e", "SB_STATE_DIR=/opt/outline/persisted-state",
		"-e", "SB_API_PREFIX=kept-prefix",
		"-e", "SB_DEFAULT_SERVER_NAME=edge-1",
		config.DefaultOutlineImage,
	}
	m.runner.AddResult("docker", runArgs, ports.CommandResult{})

	step := host.NewOutlineStep("edge-1", cfg.Outline, m.deps)
	require.NoError(t, step.Apply(runCtx()))
	assert.Equal(t, 1, m.runner.CallCount("docker", runArgs...))

	stored, ok, err := m.secrets.Lookup(host.OutlineStepID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "kept-prefix", stored.Value)
}

func TestVMessStep_ReusesClientIDOnDisk(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	cfg := hostConfig(t)
	cfg.VMess.ListenPort = 20000

	const existing = "6f1c1e1c-7e6b-4d1b-9a55-3d5cbb9b2a10"
	old, err := render.Render(render.KindServiceConfig, render.ServiceConfig{
		ClientID:      existing,
		Transport:     render.Transport{Type: "ws", Path: "/ray"},
		ListenPort:    10000,
		ListenAddress: "127.0.0.1",
	})
	require.NoError(t, err)
	m.fs.AddFile(config.DefaultVMessConfig, old.Text())

	step, err := host.NewVMessStep(*cfg, m.deps)
	require.NoError(t, err)

	status, err := step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status, "port changed")

	require.NoError(t, step.Apply(runCtx()))
	assert.Empty(t, m.secrets.Issued())

	content, _ := m.fs.Content(config.DefaultVMessConfig)
	parsed, err := render.ParseService(content)
	require.NoError(t, err)
	assert.Equal(t, existing, parsed.ClientID)
	assert.Equal(t, 20000, parsed.ListenPort)

	require.NoError(t, step.Rollback(runCtx()))
	restored, _ := m.fs.Content(config.DefaultVMessConfig)
	assert.Equal(t, old.Text(), restored)
	assert.Equal(t, []string{"restart v2ray", "restart v2ray"}, m.services.Calls())
}

func TestVMessStep_CheckDoesNotIssue(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	step, err := host.NewVMessStep(*hostConfig(t), m.deps)
	require.NoError(t, err)

	status, err := step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)
	assert.Empty(t, m.secrets.Issued())
	assert.Zero(t, m.fs.TotalWrites())
}

func TestVMessStep_PendingRotationRollsOut(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	step, err := host.NewVMessStep(*hostConfig(t), m.deps)
	require.NoError(t, err)
	require.NoError(t, step.Apply(runCtx()))

	status, err := step.Check(runCtx())
	require.NoError(t, err)
	require.Equal(t, compiler.StatusSatisfied, status)

	rotated, err := m.secrets.Rotate(host.VMessStepID)
	require.NoError(t, err)

	status, err = step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status, "rotated id differs from the file")

	require.NoError(t, step.Apply(runCtx()))
	content, _ := m.fs.Content(config.DefaultVMessConfig)
	id, err := render.ClientIDFromService(content)
	require.NoError(t, err)
	assert.Equal(t, rotated.Value, id)

	pending, err := m.secrets.Pending(host.VMessStepID)
	require.NoError(t, err)
	assert.False(t, pending)

	status, err = step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)
}

func TestOutlineStep_PendingRotationNeedsApply(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	require.NoError(t, m.docker.Start(context.Background(), config.DefaultOutlineName))
	_, err := m.secrets.Issue(host.OutlineStepID, secrets.KindAccessKey)
	require.NoError(t, err)

	cfg := config.HostConfig{Outline: config.OutlineSection{Enabled: true}}.WithDefaults()
	step := host.NewOutlineStep("edge-1", cfg.Outline, m.deps)

	status, err := step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)

	_, err = m.secrets.Rotate(host.OutlineStepID)
	require.NoError(t, err)
	status, err = step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)
}

func TestVHostStep_FailedConfigTestRestoresFile(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	m.runner.AddResult("nginx", []string{"-t"}, ports.CommandResult{ExitCode: 1, Stderr: "unknown directive"})
	m.fs.AddFile(config.DefaultVHostPath, "# previous\n")

	step, err := host.NewVHostStep(*hostConfig(t), m.deps)
	require.NoError(t, err)

	err = step.Apply(runCtx())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown directive")

	content, _ := m.fs.Content(config.DefaultVHostPath)
	assert.Equal(t, "# previous\n", content)
	assert.Empty(t, m.services.Calls())
}

func TestVHostStep_RendersWebsocketLocation(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	step, err := host.NewVHostStep(*hostConfig(t), m.deps)
	require.NoError(t, err)

	require.NoError(t, step.Apply(runCtx()))
	content, _ := m.fs.Content(config.DefaultVHostPath)
	v, err := render.ParseVHost(content)
	require.NoError(t, err)

	assert.Equal(t, testDomain, v.ServerName)
	assert.Equal(t, "/ray", v.UpstreamPath)
	assert.Equal(t, "http://127.0.0.1:10000", v.UpstreamURL)
	assert.True(t, v.WebsocketUpgrade)
	assert.True(t, strings.HasSuffix(v.TLSCertPath, "fullchain.pem"))
}

func TestFirewallRuleStep_SharedFile(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	ssh := render.FirewallRule{Port: 22, Protocol: "tcp", Direction: "in", Action: "allow"}
	https := render.FirewallRule{Port: 443, Protocol: "tcp", Direction: "in", Action: "allow"}
	sshStep := host.NewFirewallRuleStep(config.DefaultFirewallPath, ssh, nil, m.deps)
	httpsStep := host.NewFirewallRuleStep(config.DefaultFirewallPath, https, nil, m.deps)

	require.NoError(t, sshStep.Apply(runCtx()))
	require.NoError(t, httpsStep.Apply(runCtx()))

	content, _ := m.fs.Content(config.DefaultFirewallPath)
	rules, err := render.ParseFirewall(content)
	require.NoError(t, err)
	assert.Equal(t, render.FirewallRules{ssh, https}, rules)

	require.NoError(t, sshStep.Rollback(runCtx()))
	content, _ = m.fs.Content(config.DefaultFirewallPath)
	rules, err = render.ParseFirewall(content)
	require.NoError(t, err)
	assert.Equal(t, render.FirewallRules{https}, rules)
	assert.Equal(t, 1, m.runner.CallCount("ufw", "delete", "allow", "in", "22/tcp"))
}

func TestFirewallRuleStep_RollbackKeepsRuleThatWasAlreadyThere(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	m.ufwRules = []string{"443/tcp ALLOW IN"}
	https := render.FirewallRule{Port: 443, Protocol: "tcp", Direction: "in", Action: "allow"}
	step := host.NewFirewallRuleStep(config.DefaultFirewallPath, https, nil, m.deps)

	require.NoError(t, step.Apply(runCtx()))
	assert.Zero(t, m.runner.CallCount("ufw", "allow", "in", "443/tcp"), "ufw already had the rule")
	content, _ := m.fs.Content(config.DefaultFirewallPath)
	rules, err := render.ParseFirewall(content)
	require.NoError(t, err)
	assert.Equal(t, render.FirewallRules{https}, rules)

	require.NoError(t, step.Rollback(runCtx()))
	assert.Zero(t, m.runner.CallCount("ufw", "delete", "allow", "in", "443/tcp"))
	assert.Equal(t, []string{"443/tcp ALLOW IN"}, m.ufwRules)
	content, _ = m.fs.Content(config.DefaultFirewallPath)
	rules, err = render.ParseFirewall(content)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestKernelStep(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	step, err := host.NewKernelStep(hostConfig(t).Kernel, m.deps)
	require.NoError(t, err)

	require.NoError(t, step.Apply(runCtx()))
	status, err := step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusSatisfied, status)

	require.NoError(t, step.Rollback(runCtx()))
	assert.False(t, m.fs.Exists(config.DefaultKernelPath))
	assert.Equal(t, 2, m.runner.CallCount("sysctl", "--system"))
}

func TestCommandStep(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	m.runner.AddResult("sh", []string{"-c", "test -f /etc/motd"}, ports.CommandResult{ExitCode: 1})
	m.runner.AddResult("sh", []string{"-c", "touch /etc/motd"}, ports.CommandResult{})
	m.runner.AddResult("sh", []string{"-c", "rm -f /etc/motd"}, ports.CommandResult{})

	no := false
	step, err := host.NewCommandStep(config.CommandStep{
		Name:       "motd",
		DependsOn:  []string{"apt:package:curl"},
		Check:      "test -f /etc/motd",
		Apply:      "touch /etc/motd",
		Rollback:   "rm -f /etc/motd",
		Idempotent: &no,
	}, m.runner)
	require.NoError(t, err)

	assert.Equal(t, []compiler.StepID{compiler.MustNewStepID("apt:package:curl")}, step.DependsOn())
	assert.False(t, step.Idempotent())

	status, err := step.Check(runCtx())
	require.NoError(t, err)
	assert.Equal(t, compiler.StatusNeedsApply, status)
	require.NoError(t, step.Apply(runCtx()))
	require.NoError(t, step.Rollback(runCtx()))
}

func TestCommandStep_FailingApplyCarriesOutput(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	m.runner.AddResult("sh", []string{"-c", "false"}, ports.CommandResult{ExitCode: 1, Stderr: "permission denied"})

	step, err := host.NewCommandStep(config.CommandStep{Name: "fails", Apply: "false"}, m.runner)
	require.NoError(t, err)

	err = step.Apply(runCtx())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
