package compiler

import (
	"context"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// RunContext provides context for step execution (Check, Plan, Apply, Rollback).
type RunContext struct {
	ctx    context.Context
	dryRun bool
	logger ports.Logger
}

// NewRunContext creates a new RunContext with the given context.
func NewRunContext(ctx context.Context) RunContext {
	return RunContext{ctx: ctx}
}

// Context returns the underlying context.Context.
func (r RunContext) Context() context.Context {
	return r.ctx
}

// DryRun returns whether this is a dry-run execution.
func (r RunContext) DryRun() bool {
	return r.dryRun
}

// WithDryRun returns a new RunContext with the dry-run flag set.
func (r RunContext) WithDryRun(dryRun bool) RunContext {
	r.dryRun = dryRun
	return r
}

// WithContext returns a new RunContext bound to ctx.
func (r RunContext) WithContext(ctx context.Context) RunContext {
	r.ctx = ctx
	return r
}

// Logger returns the logger the scheduler attached to this step, or nil.
func (r RunContext) Logger() ports.Logger {
	return r.logger
}

// WithLogger returns a new RunContext with the logger set.
func (r RunContext) WithLogger(logger ports.Logger) RunContext {
	r.logger = logger
	return r
}

// ExplainContext provides context for generating step explanations.
type ExplainContext struct {
	verbose bool
}

// NewExplainContext creates a new ExplainContext.
func NewExplainContext() ExplainContext {
	return ExplainContext{}
}

// Verbose returns whether verbose explanations are requested.
func (e ExplainContext) Verbose() bool {
	return e.verbose
}

// WithVerbose returns a new ExplainContext with verbose mode set.
func (e ExplainContext) WithVerbose(verbose bool) ExplainContext {
	e.verbose = verbose
	return e
}
