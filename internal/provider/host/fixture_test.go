package host_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/domain/secrets"
	"github.com/felixgeelhaar/provision/internal/ports"
	"github.com/felixgeelhaar/provision/internal/provider/host"
	"github.com/felixgeelhaar/provision/internal/retry"
	"github.com/felixgeelhaar/provision/internal/testutil/mocks"
)

const (
	testDomain      = "vpn.example.com"
	credentialsPath = "/var/lib/provision/credentials.toml"
)

// machine is an in-memory host: files, packages, services and the ufw and
// sysctl command surface.
type machine struct {
	fs       *mocks.FileSystem
	runner   *mocks.CommandRunner
	packages *mocks.PackageInstaller
	services *mocks.ServiceLifecycle
	docker   *mocks.ServiceLifecycle
	certs    *mocks.CertificateProvider
	secrets  *secrets.Provisioner
	deps     host.Deps

	mu       sync.Mutex
	ufwOn    bool
	ufwRules []string
	sysctl   map[string]string
}

func newMachine(t *testing.T) *machine {
	t.Helper()

	m := &machine{
		fs:       mocks.NewFileSystem(),
		runner:   mocks.NewCommandRunner(),
		packages: mocks.NewPackageInstaller(),
		services: mocks.NewServiceLifecycle(),
		docker:   mocks.NewServiceLifecycle(),
		certs: mocks.NewCertificateProvider().Add(testDomain, ports.CertificatePaths{
			CertPath: "/etc/letsencrypt/live/" + testDomain + "/fullchain.pem",
			KeyPath:  "/etc/letsencrypt/live/" + testDomain + "/privkey.pem",
		}),
		sysctl: map[string]string{"net.core.default_qdisc": "pfifo_fast", "net.ipv4.tcp_congestion_control": "cubic"},
	}
	m.secrets = secrets.NewProvisioner(secrets.NewFileStore(m.fs, credentialsPath))
	m.deps = host.Deps{
		Runner:       m.runner,
		Writer:       render.NewWriter(m.fs),
		Packages:     m.packages,
		Services:     m.services,
		Containers:   m.docker,
		Certificates: m.certs,
		Secrets:      m.secrets,
		Retry:        retry.Policy{MaxAttempts: 1},
	}

	ok := ports.CommandResult{}
	m.runner.AddResult("nginx", []string{"-t"}, ok)
	m.runner.On("ufw", []string{"status"}, m.ufwStatus)
	m.runner.On("ufw", []string{"show", "added"}, m.ufwAdded)
	m.runner.On("ufw", []string{"--force", "enable"}, func() (ports.CommandResult, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.ufwOn = true
		return ok, nil
	})
	m.runner.On("ufw", []string{"--force", "disable"}, func() (ports.CommandResult, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.ufwOn = false
		return ok, nil
	})
	m.runner.On("sysctl", []string{"--system"}, m.sysctlReload)
	for _, port := range []int{22, 443} {
		m.allowUFW(render.FirewallRule{Port: port, Protocol: "tcp", Direction: "in", Action: "allow"})
	}
	for key := range m.sysctl {
		m.runner.On("sysctl", []string{"-n", key}, func() (ports.CommandResult, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return ports.CommandResult{Stdout: m.sysctl[key] + "\n"}, nil
		})
	}
	return m
}

// allowUFW registers ufw add and delete handlers for a rule.
func (m *machine) allowUFW(rule render.FirewallRule) {
	m.runner.On("ufw", rule.UFWArgs(), func() (ports.CommandResult, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.ufwRules = append(m.ufwRules, fmt.Sprintf("%d/%s %s %s", rule.Port, rule.Protocol,
			strings.ToUpper(rule.Action), strings.ToUpper(rule.Direction)))
		return ports.CommandResult{}, nil
	})
	m.runner.On("ufw", append([]string{"delete"}, rule.UFWArgs()...), func() (ports.CommandResult, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		prefix := fmt.Sprintf("%d/%s ", rule.Port, rule.Protocol)
		kept := m.ufwRules[:0]
		for _, r := range m.ufwRules {
			if !strings.HasPrefix(r, prefix) {
				kept = append(kept, r)
			}
		}
		m.ufwRules = kept
		return ports.CommandResult{}, nil
	})
}

func (m *machine) ufwStatus() (ports.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ufwOn {
		return ports.CommandResult{Stdout: "Status: inactive\n"}, nil
	}
	var b strings.Builder
	b.WriteString("Status: active\n\nTo                         Action      From\n--                         ------      ----\n")
	for _, r := range m.ufwRules {
		fields := strings.Fields(r)
		fmt.Fprintf(&b, "%-26s %s %-8s Anywhere\n", fields[0], fields[1], fields[2])
	}
	return ports.CommandResult{Stdout: b.String()}, nil
}

// ufwAdded lists the user rules even while ufw is inactive.
func (m *machine) ufwAdded() (ports.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	b.WriteString("Added user rules (see 'ufw status' for running firewall):\n")
	if len(m.ufwRules) == 0 {
		b.WriteString("(None)\n")
	}
	for _, r := range m.ufwRules {
		fields := strings.Fields(r)
		action := strings.ToLower(fields[1])
		if fields[2] == "OUT" {
			action += " out"
		}
		fmt.Fprintf(&b, "ufw %s %s\n", action, fields[0])
	}
	return ports.CommandResult{Stdout: b.String()}, nil
}

func (m *machine) sysctlReload() (ports.CommandResult, error) {
	data, err := m.fs.ReadFile(config.DefaultKernelPath)
	if err != nil {
		return ports.CommandResult{}, nil
	}
	params, err := render.ParseKernel(string(data))
	if err != nil {
		return ports.CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range params {
		m.sysctl[k] = v
	}
	return ports.CommandResult{}, nil
}

// hostConfig is a full VPN host: nginx in front of a websocket VMess service,
// BBR tuning and two firewall rules.
func hostConfig(t *testing.T) *config.HostConfig {
	t.Helper()

	ws := true
	cfg := config.HostConfig{
		Host:     config.HostSection{Name: "edge-1", Domain: testDomain},
		Packages: []string{"curl", "ufw"},
		VMess:    config.VMessSection{Enabled: true, Package: "v2ray"},
		ReverseProxy: config.ReverseProxySection{
			Enabled:   true,
			Websocket: &ws,
		},
		Kernel: config.KernelSection{
			Enabled: true,
			Params: map[string]string{
				"net.core.default_qdisc":          "fq",
				"net.ipv4.tcp_congestion_control": "bbr",
			},
		},
		Firewall: config.FirewallSection{
			Enabled: true,
			Rules:   []config.FirewallRule{{Port: 22}, {Port: 443}},
		},
	}.WithDefaults()
	return &cfg
}
