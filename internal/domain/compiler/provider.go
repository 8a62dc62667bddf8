package compiler

import "github.com/felixgeelhaar/provision/internal/domain/config"

// Provider compiles a section of the host configuration into steps.
type Provider interface {
	// Name returns the provider's identifier (e.g., "host", "commands").
	Name() string

	// Compile transforms configuration into a list of steps.
	// Cross-provider ordering is expressed through Step.DependsOn().
	Compile(ctx CompileContext) ([]Step, error)
}

// CompileContext provides the host configuration to providers during compilation.
type CompileContext struct {
	host *config.HostConfig
}

// NewCompileContext creates a new CompileContext.
func NewCompileContext(host *config.HostConfig) CompileContext {
	return CompileContext{host: host}
}

// Host returns the host configuration.
func (c CompileContext) Host() *config.HostConfig {
	return c.host
}
