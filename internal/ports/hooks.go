package ports

import "context"

// PackageInstaller is the OS package manager hook.
type PackageInstaller interface {
	Installed(ctx context.Context, name string) (bool, error)
	Install(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// ServiceLifecycle starts and stops a named service, whether a systemd unit
// or a container.
type ServiceLifecycle interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	IsActive(ctx context.Context, name string) (bool, error)
}

// CertificatePaths locates the TLS material for a domain.
type CertificatePaths struct {
	CertPath string
	KeyPath  string
}

// CertificateProvider maps a domain to its issued certificate. Lookup fails
// with an error matching compiler.ErrCertificateNotFound when none exists.
type CertificateProvider interface {
	Lookup(ctx context.Context, domain string) (CertificatePaths, error)
}
