package mocks

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// PackageInstaller is an in-memory ports.PackageInstaller.
type PackageInstaller struct {
	mu         sync.Mutex
	installed  map[string]bool
	failures   map[string]error
	installs   []string
	removals   []string
	queryError error
}

// NewPackageInstaller creates a PackageInstaller with the given packages present.
func NewPackageInstaller(installed ...string) *PackageInstaller {
	m := &PackageInstaller{
		installed: make(map[string]bool),
		failures:  make(map[string]error),
	}
	for _, name := range installed {
		m.installed[name] = true
	}
	return m
}

// FailInstall makes Install(name) return err.
func (m *PackageInstaller) FailInstall(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = err
}

// FailQueries makes Installed return err for every package.
func (m *PackageInstaller) FailQueries(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryError = err
}

// Installed reports whether name is present.
func (m *PackageInstaller) Installed(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryError != nil {
		return false, m.queryError
	}
	return m.installed[name], nil
}

// Install marks name present unless a failure was registered.
func (m *PackageInstaller) Install(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installs = append(m.installs, name)
	if err, ok := m.failures[name]; ok {
		return err
	}
	m.installed[name] = true
	return nil
}

// Remove marks name absent.
func (m *PackageInstaller) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removals = append(m.removals, name)
	delete(m.installed, name)
	return nil
}

// Installs returns the Install calls in order.
func (m *PackageInstaller) Installs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.installs...)
}

// Removals returns the Remove calls in order.
func (m *PackageInstaller) Removals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removals...)
}

// ServiceLifecycle is an in-memory ports.ServiceLifecycle.
type ServiceLifecycle struct {
	mu       sync.Mutex
	active   map[string]bool
	failures map[string]error
	calls    []string
}

// NewServiceLifecycle creates a ServiceLifecycle with the given services active.
func NewServiceLifecycle(active ...string) *ServiceLifecycle {
	m := &ServiceLifecycle{
		active:   make(map[string]bool),
		failures: make(map[string]error),
	}
	for _, name := range active {
		m.active[name] = true
	}
	return m
}

// Fail makes every lifecycle call for name return err.
func (m *ServiceLifecycle) Fail(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = err
}

func (m *ServiceLifecycle) record(op, name string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op+" "+name)
	if err, ok := m.failures[name]; ok {
		return err
	}
	m.active[name] = active
	return nil
}

// Start marks name active.
func (m *ServiceLifecycle) Start(_ context.Context, name string) error {
	return m.record("start", name, true)
}

// Stop marks name inactive.
func (m *ServiceLifecycle) Stop(_ context.Context, name string) error {
	return m.record("stop", name, false)
}

// Restart marks name active.
func (m *ServiceLifecycle) Restart(_ context.Context, name string) error {
	return m.record("restart", name, true)
}

// IsActive reports whether name is running.
func (m *ServiceLifecycle) IsActive(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[name], nil
}

// Calls returns "op name" entries in call order.
func (m *ServiceLifecycle) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CertificateProvider is a static ports.CertificateProvider.
type CertificateProvider struct {
	certs map[string]ports.CertificatePaths
}

// NewCertificateProvider creates an empty CertificateProvider.
func NewCertificateProvider() *CertificateProvider {
	return &CertificateProvider{certs: make(map[string]ports.CertificatePaths)}
}

// Add registers certificate paths for domain.
func (m *CertificateProvider) Add(domain string, paths ports.CertificatePaths) *CertificateProvider {
	m.certs[domain] = paths
	return m
}

// Lookup returns the registered paths or a certificate-not-found error.
func (m *CertificateProvider) Lookup(_ context.Context, domain string) (ports.CertificatePaths, error) {
	paths, ok := m.certs[domain]
	if !ok {
		return ports.CertificatePaths{}, compiler.NewCertificateNotFoundError(domain, nil)
	}
	return paths, nil
}

var (
	_ ports.PackageInstaller    = (*PackageInstaller)(nil)
	_ ports.ServiceLifecycle    = (*ServiceLifecycle)(nil)
	_ ports.CertificateProvider = (*CertificateProvider)(nil)
)
