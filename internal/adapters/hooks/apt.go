// Package hooks adapts the host's package manager, init system, container
// runtime and certificate store to the ports the steps act through.
package hooks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// packageName matches Debian package names.
var packageName = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)

// Apt installs Debian packages with apt-get.
type Apt struct {
	runner ports.CommandRunner
	mu     chan struct{}
	update bool
}

// NewApt creates an Apt hook. The package index is refreshed once, before
// the first install.
func NewApt(runner ports.CommandRunner) *Apt {
	return &Apt{runner: runner, mu: make(chan struct{}, 1)}
}

// Installed reports whether dpkg lists the package as installed.
func (a *Apt) Installed(ctx context.Context, name string) (bool, error) {
	if err := validatePackage(name); err != nil {
		return false, err
	}
	result, err := a.runner.Run(ctx, "dpkg-query", "-W", "-f=${db:Status-Status}", name)
	if err != nil {
		return false, err
	}
	// Exit 1 means dpkg has never heard of the package.
	if !result.Success() {
		return false, nil
	}
	return strings.TrimSpace(result.Stdout) == "installed", nil
}

// Install installs the package non-interactively.
func (a *Apt) Install(ctx context.Context, name string) error {
	if err := validatePackage(name); err != nil {
		return err
	}
	// dpkg holds a global lock; concurrent apt-get runs would fail on it.
	select {
	case a.mu <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-a.mu }()

	if !a.update {
		if err := a.aptGet(ctx, "update"); err != nil {
			return err
		}
		a.update = true
	}
	return a.aptGet(ctx, "install", "-y", "--no-install-recommends", name)
}

// Remove removes the package and keeps its configuration files.
func (a *Apt) Remove(ctx context.Context, name string) error {
	if err := validatePackage(name); err != nil {
		return err
	}
	select {
	case a.mu <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-a.mu }()
	return a.aptGet(ctx, "remove", "-y", name)
}

func (a *Apt) aptGet(ctx context.Context, args ...string) error {
	full := append([]string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "-q"}, args...)
	result, err := a.runner.Run(ctx, "env", full...)
	if err != nil {
		return err
	}
	return result.Err("apt-get", args...)
}

func validatePackage(name string) error {
	if !packageName.MatchString(name) {
		return compiler.NewInvalidConfigError("package", "name", fmt.Sprintf("%q is not a valid package name", name))
	}
	return nil
}

var _ ports.PackageInstaller = (*Apt)(nil)
