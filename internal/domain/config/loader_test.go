package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullHost = `
host:
  name: edge-1
  domain: vpn.example.com
packages: [nginx, curl]
runtime:
  enabled: true
  min_version: "24.0.0"
outline:
  enabled: true
  api_port: 61000
  keys_port: 61001
vmess:
  enabled: true
  listen_port: 10086
  transport:
    type: ws
    path: /stream
reverse_proxy:
  enabled: true
firewall:
  enabled: true
  rules:
    - port: 443
    - port: 61001
      protocol: udp
kernel:
  enabled: true
  params:
    net.core.default_qdisc: fq
    net.ipv4.tcp_congestion_control: bbr
commands:
  - name: custom:motd
    check: grep -q provisioned /etc/motd
    apply: echo provisioned >> /etc/motd
settings:
  step_timeout: 2m
  retry:
    max_attempts: 5
`

func writeHost(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provision.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_Load_FullHost(t *testing.T) {
	t.Parallel()

	host, err := config.NewLoader().Load(writeHost(t, fullHost))
	require.NoError(t, err)

	assert.Equal(t, "edge-1", host.Host.Name)
	assert.Equal(t, []string{"nginx", "curl"}, host.Packages)
	assert.Equal(t, 10086, host.VMess.ListenPort)
	assert.Equal(t, "/stream", host.VMess.Transport.Path)
	assert.Equal(t, 2*time.Minute, host.Settings.StepTimeout)
	assert.Equal(t, 5, host.Settings.Retry.MaxAttempts)
	require.Len(t, host.Firewall.Rules, 2)
	assert.Equal(t, config.FirewallRule{Port: 443, Protocol: "tcp", Direction: "in", Action: "allow"}, host.Firewall.Rules[0])
	assert.Equal(t, "udp", host.Firewall.Rules[1].Protocol)
	assert.Equal(t, "bbr", host.Kernel.Params["net.ipv4.tcp_congestion_control"])
	require.Len(t, host.Commands, 1)
	assert.True(t, host.Commands[0].IsIdempotent())
}

func TestLoader_Load_AppliesDefaults(t *testing.T) {
	t.Parallel()

	host, err := config.NewLoader().Load(writeHost(t, "host:\n  name: bare\n"))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultStateDir, host.Host.StateDir)
	assert.Equal(t, config.DefaultVMessConfig, host.VMess.ConfigPath)
	assert.Equal(t, config.DefaultStepTimeout, host.Settings.StepTimeout)
	assert.Equal(t, 1, host.Settings.Parallelism)
	assert.Equal(t, "/var/lib/provision/history.db", host.Settings.HistoryPath)
	assert.Equal(t, "/var/lib/provision/credentials.toml", host.Settings.CredentialsPath)
	require.NotNil(t, host.ReverseProxy.Websocket)
	assert.True(t, *host.ReverseProxy.Websocket)
}

func TestLoader_Load_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := config.NewLoader().Load("/nonexistent/provision.yaml")

	require.Error(t, err)
	var userErr *config.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, config.ErrCodeConfigNotFound, userErr.Code)
	assert.Contains(t, userErr.Format(), "Suggestion:")
}

func TestLoader_Load_UnknownFieldIsParseError(t *testing.T) {
	t.Parallel()

	_, err := config.NewLoader().Load(writeHost(t, "host:\n  name: a\nfirewal:\n  enabled: true\n"))

	var userErr *config.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, config.ErrCodeConfigParse, userErr.Code)
}

func TestLoader_Load_ValidationErrorsAreCollected(t *testing.T) {
	t.Parallel()

	_, err := config.NewLoader().Load(writeHost(t, `
host:
  name: ""
firewall:
  enabled: true
  rules:
    - port: 70000
      protocol: icmp
`))

	var list *config.ErrorList
	require.True(t, errors.As(err, &list))
	assert.GreaterOrEqual(t, len(list.Errors()), 3)
	assert.ErrorIs(t, err, &config.UserError{Code: config.ErrCodeValidationFailed})
}

func TestParse_EmptyDocumentNeedsHostName(t *testing.T) {
	t.Parallel()

	_, err := config.Parse(nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "host.name")
}
