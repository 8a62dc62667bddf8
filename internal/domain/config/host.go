// Package config holds the typed description of a host read from provision.yaml.
package config

import (
	"path"
	"strconv"
	"time"
)

// HostConfig is the root of provision.yaml.
type HostConfig struct {
	Host         HostSection         `yaml:"host"`
	Packages     []string            `yaml:"packages,omitempty"`
	Runtime      RuntimeSection      `yaml:"runtime,omitempty"`
	Outline      OutlineSection      `yaml:"outline,omitempty"`
	VMess        VMessSection        `yaml:"vmess,omitempty"`
	ReverseProxy ReverseProxySection `yaml:"reverse_proxy,omitempty"`
	Firewall     FirewallSection     `yaml:"firewall,omitempty"`
	Kernel       KernelSection       `yaml:"kernel,omitempty"`
	Commands     []CommandStep       `yaml:"commands,omitempty"`
	Settings     Settings            `yaml:"settings,omitempty"`
}

// HostSection identifies the machine being provisioned.
type HostSection struct {
	Name     string `yaml:"name"`
	Domain   string `yaml:"domain,omitempty"`
	StateDir string `yaml:"state_dir,omitempty"`
}

// RuntimeSection installs the container runtime.
type RuntimeSection struct {
	Enabled       bool   `yaml:"enabled"`
	InstallScript string `yaml:"install_script,omitempty"`
	MinVersion    string `yaml:"min_version,omitempty"`
}

// OutlineSection runs the Outline (Shadowbox) server container.
type OutlineSection struct {
	Enabled   bool   `yaml:"enabled"`
	Image     string `yaml:"image,omitempty"`
	Container string `yaml:"container,omitempty"`
	APIPort   int    `yaml:"api_port,omitempty"`
	KeysPort  int    `yaml:"keys_port,omitempty"`
	DataDir   string `yaml:"data_dir,omitempty"`
}

// TransportSection is the proxy stream transport.
type TransportSection struct {
	Type string `yaml:"type,omitempty"`
	Path string `yaml:"path,omitempty"`
}

// VMessSection renders the VMess proxy service config and keeps its unit running.
type VMessSection struct {
	Enabled    bool             `yaml:"enabled"`
	ListenPort int              `yaml:"listen_port,omitempty"`
	Transport  TransportSection `yaml:"transport,omitempty"`
	ConfigPath string           `yaml:"config_path,omitempty"`
	Service    string           `yaml:"service,omitempty"`
	Package    string           `yaml:"package,omitempty"`
}

// ReverseProxySection renders the nginx virtual host in front of the proxy service.
type ReverseProxySection struct {
	Enabled     bool   `yaml:"enabled"`
	ListenPort  int    `yaml:"listen_port,omitempty"`
	UpstreamURL string `yaml:"upstream_url,omitempty"`
	Websocket   *bool  `yaml:"websocket,omitempty"`
	VHostPath   string `yaml:"vhost_path,omitempty"`
	Service     string `yaml:"service,omitempty"`
}

// FirewallRule is one declared rule.
type FirewallRule struct {
	Port      int    `yaml:"port"`
	Protocol  string `yaml:"protocol,omitempty"`
	Direction string `yaml:"direction,omitempty"`
	Action    string `yaml:"action,omitempty"`
}

// FirewallSection holds the host firewall rule set.
type FirewallSection struct {
	Enabled   bool           `yaml:"enabled"`
	RulesPath string         `yaml:"rules_path,omitempty"`
	Rules     []FirewallRule `yaml:"rules,omitempty"`
}

// KernelSection holds sysctl tuning.
type KernelSection struct {
	Enabled bool              `yaml:"enabled"`
	Path    string            `yaml:"path,omitempty"`
	Params  map[string]string `yaml:"params,omitempty"`
}

// CommandStep is a custom shell step.
type CommandStep struct {
	Name       string   `yaml:"name"`
	DependsOn  []string `yaml:"depends_on,omitempty"`
	Check      string   `yaml:"check,omitempty"`
	Apply      string   `yaml:"apply"`
	Rollback   string   `yaml:"rollback,omitempty"`
	Idempotent *bool    `yaml:"idempotent,omitempty"`
	Retry      bool     `yaml:"retry,omitempty"`
}

// IsIdempotent defaults to true when unset.
func (c CommandStep) IsIdempotent() bool {
	return c.Idempotent == nil || *c.Idempotent
}

// RetrySettings configures the backoff applied to network-bound steps.
type RetrySettings struct {
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`
}

// Settings tunes the run itself.
type Settings struct {
	StepTimeout     time.Duration `yaml:"step_timeout,omitempty"`
	Parallelism     int           `yaml:"parallelism,omitempty"`
	HaltOnFailure   bool          `yaml:"halt_on_failure,omitempty"`
	Retry           RetrySettings `yaml:"retry,omitempty"`
	HistoryPath     string        `yaml:"history,omitempty"`
	MetricsFile     string        `yaml:"metrics_file,omitempty"`
	CredentialsPath string        `yaml:"credentials,omitempty"`
}

// Defaults.
const (
	DefaultStateDir        = "/var/lib/provision"
	DefaultInstallScript   = "https://get.docker.com"
	DefaultOutlineImage    = "quay.io/outline/shadowbox:stable"
	DefaultOutlineName     = "shadowbox"
	DefaultOutlineDataDir  = "/opt/outline"
	DefaultVMessPort       = 10000
	DefaultVMessConfig     = "/usr/local/etc/v2ray/config.json"
	DefaultVMessService    = "v2ray"
	DefaultTransportType   = "ws"
	DefaultTransportPath   = "/ray"
	DefaultProxyPort       = 443
	DefaultVHostPath       = "/etc/nginx/conf.d/provision.conf"
	DefaultProxyService    = "nginx"
	DefaultFirewallPath    = "/etc/provision/firewall.rules"
	DefaultKernelPath      = "/etc/sysctl.d/99-provision.conf"
	DefaultStepTimeout     = 10 * time.Minute
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 2 * time.Second
	DefaultRetryMaxDelay   = 30 * time.Second
	DefaultHistoryFile     = "history.db"
	DefaultCredentialsFile = "credentials.toml"
)

// WithDefaults returns a copy with unset values filled in.
func (c HostConfig) WithDefaults() HostConfig {
	out := c

	if out.Host.StateDir == "" {
		out.Host.StateDir = DefaultStateDir
	}

	if out.Runtime.InstallScript == "" {
		out.Runtime.InstallScript = DefaultInstallScript
	}

	o := &out.Outline
	if o.Image == "" {
		o.Image = DefaultOutlineImage
	}
	if o.Container == "" {
		o.Container = DefaultOutlineName
	}
	if o.DataDir == "" {
		o.DataDir = DefaultOutlineDataDir
	}

	v := &out.VMess
	if v.ListenPort == 0 {
		v.ListenPort = DefaultVMessPort
	}
	if v.Transport.Type == "" {
		v.Transport.Type = DefaultTransportType
	}
	if v.Transport.Path == "" && v.Transport.Type == DefaultTransportType {
		v.Transport.Path = DefaultTransportPath
	}
	if v.ConfigPath == "" {
		v.ConfigPath = DefaultVMessConfig
	}
	if v.Service == "" {
		v.Service = DefaultVMessService
	}

	p := &out.ReverseProxy
	if p.ListenPort == 0 {
		p.ListenPort = DefaultProxyPort
	}
	if p.VHostPath == "" {
		p.VHostPath = DefaultVHostPath
	}
	if p.Service == "" {
		p.Service = DefaultProxyService
	}
	if p.Websocket == nil {
		ws := true
		p.Websocket = &ws
	}

	if out.Firewall.RulesPath == "" {
		out.Firewall.RulesPath = DefaultFirewallPath
	}
	if len(out.Firewall.Rules) > 0 {
		rules := make([]FirewallRule, len(out.Firewall.Rules))
		for i, r := range out.Firewall.Rules {
			if r.Protocol == "" {
				r.Protocol = "tcp"
			}
			if r.Direction == "" {
				r.Direction = "in"
			}
			if r.Action == "" {
				r.Action = "allow"
			}
			rules[i] = r
		}
		out.Firewall.Rules = rules
	}

	if out.Kernel.Path == "" {
		out.Kernel.Path = DefaultKernelPath
	}

	s := &out.Settings
	if s.StepTimeout == 0 {
		s.StepTimeout = DefaultStepTimeout
	}
	if s.Parallelism == 0 {
		s.Parallelism = 1
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if s.Retry.InitialDelay == 0 {
		s.Retry.InitialDelay = DefaultRetryDelay
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if s.HistoryPath == "" {
		s.HistoryPath = path.Join(out.Host.StateDir, DefaultHistoryFile)
	}
	if s.CredentialsPath == "" {
		s.CredentialsPath = path.Join(out.Host.StateDir, DefaultCredentialsFile)
	}

	return out
}

// UpstreamURL returns the reverse proxy upstream, derived from the VMess
// listener when not set explicitly.
func (c HostConfig) UpstreamURL() string {
	if c.ReverseProxy.UpstreamURL != "" {
		return c.ReverseProxy.UpstreamURL
	}
	return "http://127.0.0.1:" + strconv.Itoa(c.VMess.ListenPort)
}
