package hooks

import (
	"context"
	"path"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// DefaultLiveDir is where certbot links the current certificate of each domain.
const DefaultLiveDir = "/etc/letsencrypt/live"

// Certbot finds certificates in certbot's live directory layout.
type Certbot struct {
	fs      ports.FileSystem
	liveDir string
}

// NewCertbot creates a Certbot lookup rooted at liveDir (DefaultLiveDir when empty).
func NewCertbot(fs ports.FileSystem, liveDir string) *Certbot {
	if liveDir == "" {
		liveDir = DefaultLiveDir
	}
	return &Certbot{fs: fs, liveDir: liveDir}
}

// Lookup returns the full chain and key paths for domain. Both files must exist.
func (c *Certbot) Lookup(_ context.Context, domain string) (ports.CertificatePaths, error) {
	dir := path.Join(c.liveDir, domain)
	paths := ports.CertificatePaths{
		CertPath: path.Join(dir, "fullchain.pem"),
		KeyPath:  path.Join(dir, "privkey.pem"),
	}
	if domain == "" || !c.fs.Exists(paths.CertPath) || !c.fs.Exists(paths.KeyPath) {
		return ports.CertificatePaths{}, compiler.NewCertificateNotFoundError(domain, nil)
	}
	return paths, nil
}

var _ ports.CertificateProvider = (*Certbot)(nil)
