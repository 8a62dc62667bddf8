// Package compiler turns a host configuration into a validated step
// registry: each provider contributes the steps for its sections, and the
// registry rejects duplicates, dangling dependencies and cycles.
package compiler

import (
	"fmt"

	"github.com/felixgeelhaar/provision/internal/domain/config"
)

// Compiler collects steps from its providers into a StepGraph.
type Compiler struct {
	providers []Provider
}

// NewCompiler creates a Compiler with no providers.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// RegisterProvider appends a provider. Registration order is the order steps
// are added to the graph, which is also the tie-break order of the plan.
func (c *Compiler) RegisterProvider(provider Provider) {
	c.providers = append(c.providers, provider)
}

// Compile builds the graph and resolves it once, so registration errors
// surface before a single step runs.
func (c *Compiler) Compile(host *config.HostConfig) (*StepGraph, error) {
	ctx := NewCompileContext(host)
	graph := NewStepGraph()

	for _, provider := range c.providers {
		steps, err := provider.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("compile %s steps: %w", provider.Name(), err)
		}
		for _, step := range steps {
			if err := graph.Add(step); err != nil {
				return nil, fmt.Errorf("register %s from %s: %w", step.ID(), provider.Name(), err)
			}
		}
	}

	if _, err := graph.Resolve(); err != nil {
		return nil, err
	}
	return graph, nil
}
