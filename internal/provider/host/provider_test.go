package host_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/execution"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/provider/host"
)

func compileHost(t *testing.T, m *machine, cfg *config.HostConfig) *compiler.StepGraph {
	t.Helper()
	c := compiler.NewCompiler()
	c.RegisterProvider(host.NewProvider(m.deps))
	c.RegisterProvider(host.NewCommandsProvider(m.runner, m.deps.Retry))
	graph, err := c.Compile(cfg)
	require.NoError(t, err)
	return graph
}

func stepIDs(steps []compiler.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID().String()
	}
	return ids
}

func TestProvider_CompileOrder(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	graph := compileHost(t, m, hostConfig(t))

	steps, err := graph.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"apt:package:curl",
		"apt:package:ufw",
		"apt:package:v2ray",
		"apt:package:nginx",
		host.VMessStepID,
		host.VHostStepID,
		host.KernelStepID,
		"firewall:rule:22-tcp-in",
		"firewall:rule:443-tcp-in",
		host.FirewallEnableStepID,
	}, stepIDs(steps))

	assert.ElementsMatch(t,
		[]string{"apt:package:nginx", host.VMessStepID},
		graph.Dependencies(compiler.MustNewStepID(host.VHostStepID)))
	assert.Equal(t,
		[]string{"apt:package:ufw"},
		graph.Dependencies(compiler.MustNewStepID("firewall:rule:443-tcp-in")))
}

func TestProvider_RuntimeAndOutline(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	cfg := config.HostConfig{
		Host:     config.HostSection{Name: "edge-1"},
		Packages: []string{"curl"},
		Runtime:  config.RuntimeSection{Enabled: true, MinVersion: "24.0.0"},
		Outline:  config.OutlineSection{Enabled: true, APIPort: 8081, KeysPort: 8388},
	}.WithDefaults()

	graph := compileHost(t, m, &cfg)
	assert.Equal(t, []string{"apt:package:curl"}, graph.Dependencies(compiler.MustNewStepID(host.RuntimeStepID)))
	assert.Equal(t, []string{host.RuntimeStepID}, graph.Dependencies(compiler.MustNewStepID(host.OutlineStepID)))
}

func TestProvider_InvalidSectionFailsCompile(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	cfg := hostConfig(t)
	cfg.Kernel.Params = map[string]string{"Not A Key": "1"}

	c := compiler.NewCompiler()
	c.RegisterProvider(host.NewProvider(m.deps))
	_, err := c.Compile(cfg)

	require.ErrorIs(t, err, compiler.ErrInvalidConfig)
}

func TestProvider_ApplyThenRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	ctx := context.Background()

	first, err := execution.NewScheduler().Run(ctx, compileHost(t, m, hostConfig(t)))
	require.NoError(t, err)
	for _, r := range first.Results() {
		require.Equal(t, execution.StatusApplied, r.Status(), "%s: %v", r.StepID(), r.Error())
	}
	assert.Equal(t, []string{host.VMessStepID}, m.secrets.Issued())

	vmessConfig, ok := m.fs.Content(config.DefaultVMessConfig)
	require.True(t, ok)
	clientID, err := render.ClientIDFromService(vmessConfig)
	require.NoError(t, err)

	writes := m.fs.TotalWrites()
	second, err := execution.NewScheduler().Run(ctx, compileHost(t, m, hostConfig(t)))
	require.NoError(t, err)

	assert.Equal(t, 0, second.ExitCode())
	assert.Equal(t, second.Summary().Total, second.Summary().Skipped)
	assert.Equal(t, writes, m.fs.TotalWrites(), "a satisfied host must not be rewritten")
	assert.Equal(t, []string{host.VMessStepID}, m.secrets.Issued(), "no credential issued on rerun")

	after, _ := m.fs.Content(config.DefaultVMessConfig)
	rerunID, err := render.ClientIDFromService(after)
	require.NoError(t, err)
	assert.Equal(t, clientID, rerunID)
}

func TestProvider_MissingCertificateRollsBackEarlierSteps(t *testing.T) {
	t.Parallel()

	m := newMachine(t)
	cfg := hostConfig(t)
	cfg.Host.Domain = "other.example.com"

	result, err := execution.NewScheduler().Run(context.Background(), compileHost(t, m, cfg))
	require.NoError(t, err)

	vhost, ok := result.Result(compiler.MustNewStepID(host.VHostStepID))
	require.True(t, ok)
	assert.Equal(t, execution.StatusFailed, vhost.Status())
	assert.True(t, errors.Is(vhost.Error(), compiler.ErrCertificateNotFound))

	vmess, _ := result.Result(compiler.MustNewStepID(host.VMessStepID))
	assert.Equal(t, execution.StatusRolledBack, vmess.Status())
	assert.False(t, m.fs.Exists(config.DefaultVMessConfig), "rolled back config is removed")
	assert.Contains(t, m.services.Calls(), "stop v2ray")

	kernel, _ := result.Result(compiler.MustNewStepID(host.KernelStepID))
	assert.Equal(t, execution.StatusApplied, kernel.Status(), "independent steps still run")
	assert.Equal(t, 1, result.ExitCode())
}
