// Package app provides the main application logic for provision.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/felixgeelhaar/provision/internal/adapters/command"
	"github.com/felixgeelhaar/provision/internal/adapters/filesystem"
	"github.com/felixgeelhaar/provision/internal/adapters/hooks"
	"github.com/felixgeelhaar/provision/internal/adapters/logging"
	"github.com/felixgeelhaar/provision/internal/adapters/metrics"
	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/execution"
	"github.com/felixgeelhaar/provision/internal/domain/render"
	"github.com/felixgeelhaar/provision/internal/domain/secrets"
	"github.com/felixgeelhaar/provision/internal/ports"
	"github.com/felixgeelhaar/provision/internal/provider/host"
	"github.com/felixgeelhaar/provision/internal/retry"
)

// Provision is the main application orchestrator. It runs against one host,
// either the local machine or a remote one reached through the runner and
// filesystem it is given.
type Provision struct {
	out     io.Writer
	runner  ports.CommandRunner
	fs      ports.FileSystem
	logger  ports.Logger
	history ports.HistoryRepository
	target  string
	now     func() time.Time
	random  io.Reader
}

// Option configures a Provision.
type Option func(*Provision)

// WithRunner sets the command runner of the target host.
func WithRunner(runner ports.CommandRunner) Option {
	return func(p *Provision) {
		p.runner = runner
	}
}

// WithFileSystem sets the filesystem of the target host.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(p *Provision) {
		p.fs = fs
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger ports.Logger) Option {
	return func(p *Provision) {
		p.logger = logger
	}
}

// WithHistory replaces the SQLite run history named in settings.
func WithHistory(repo ports.HistoryRepository) Option {
	return func(p *Provision) {
		p.history = repo
	}
}

// WithTarget labels runs with the remote target instead of host.name.
func WithTarget(target string) Option {
	return func(p *Provision) {
		p.target = target
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provision) {
		p.now = now
	}
}

// WithRandom overrides the entropy source for issued credentials.
func WithRandom(r io.Reader) Option {
	return func(p *Provision) {
		p.random = r
	}
}

// New creates a Provision that acts on the local machine unless options
// point it elsewhere.
func New(out io.Writer, opts ...Option) *Provision {
	p := &Provision{
		out:    out,
		runner: command.NewLocalRunner(),
		fs:     filesystem.NewLocalFileSystem(),
		logger: logging.NewNopLogger(),
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ApplyOptions tunes one apply run. Zero values fall back to settings.
type ApplyOptions struct {
	HaltOnFailure bool
	StepTimeout   time.Duration
	Parallelism   int
	Command       string
}

// session is the set of collaborators built for one configuration.
type session struct {
	cfg     *config.HostConfig
	deps    host.Deps
	secrets *secrets.Provisioner
}

func (p *Provision) session(cfg *config.HostConfig) *session {
	store := secrets.NewFileStore(p.fs, cfg.Settings.CredentialsPath)
	provisioner := secrets.NewProvisioner(store, secrets.WithRandom(p.random), secrets.WithClock(p.now))
	return &session{
		cfg:     cfg,
		secrets: provisioner,
		deps: host.Deps{
			Runner:       p.runner,
			Writer:       render.NewWriter(p.fs),
			Packages:     hooks.NewApt(p.runner),
			Services:     hooks.NewSystemd(p.runner),
			Containers:   hooks.NewDocker(p.runner),
			Certificates: hooks.NewCertbot(p.fs, hooks.DefaultLiveDir),
			Secrets:      provisioner,
			Retry:        retryPolicy(cfg.Settings.Retry),
		},
	}
}

func retryPolicy(s config.RetrySettings) retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = s.MaxAttempts
	policy.InitialDelay = s.InitialDelay
	policy.MaxDelay = s.MaxDelay
	return policy
}

// Compile builds the step registry. Duplicate steps, unknown dependencies
// and cycles are reported here, before anything runs.
func (p *Provision) Compile(cfg *config.HostConfig) (*compiler.StepGraph, error) {
	return p.compile(p.session(cfg))
}

func (p *Provision) compile(s *session) (*compiler.StepGraph, error) {
	comp := compiler.NewCompiler()
	comp.RegisterProvider(host.NewProvider(s.deps))
	comp.RegisterProvider(host.NewCommandsProvider(s.deps.Runner, s.deps.Retry))
	return comp.Compile(s.cfg)
}

// Plan resolves the step order. With checks, every step is probed against
// live state; nothing is changed either way.
func (p *Provision) Plan(ctx context.Context, cfg *config.HostConfig, checks bool) (*execution.Plan, error) {
	graph, err := p.Compile(cfg)
	if err != nil {
		return nil, err
	}
	return execution.NewPlanner().WithChecks(checks).Plan(ctx, graph)
}

// Status probes every step. The plan reports which steps are satisfied,
// which need applying and which could not be checked.
func (p *Provision) Status(ctx context.Context, cfg *config.HostConfig) (*execution.Plan, error) {
	return p.Plan(ctx, cfg, true)
}

// Apply runs the plan, then records the run in history and, if configured,
// the metrics textfile. Step failures are in the result, not the error.
func (p *Provision) Apply(ctx context.Context, cfg *config.HostConfig, opts ApplyOptions) (*execution.PlanResult, error) {
	graph, err := p.Compile(cfg)
	if err != nil {
		return nil, err
	}

	settings := cfg.Settings
	if opts.StepTimeout == 0 {
		opts.StepTimeout = settings.StepTimeout
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = settings.Parallelism
	}
	if opts.Command == "" {
		opts.Command = "apply"
	}

	recorder := metrics.NewRecorder()
	scheduler := execution.NewScheduler(
		execution.WithLogger(p.logger),
		execution.WithObserver(recorder),
		execution.WithStepTimeout(opts.StepTimeout),
		execution.WithHaltOnFailure(opts.HaltOnFailure || settings.HaltOnFailure),
		execution.WithParallelism(opts.Parallelism),
		execution.WithClock(p.now),
	)
	result, err := scheduler.Run(ctx, graph)
	if err != nil {
		return nil, err
	}

	hostLabel := p.hostLabel(cfg)
	recorder.Record(hostLabel, result)
	if settings.MetricsFile != "" {
		if err := recorder.WriteTextfile(settings.MetricsFile); err != nil {
			p.logger.Warn(ctx, "metrics not written", ports.F("path", settings.MetricsFile), ports.Err(err))
		}
	}
	p.saveRun(context.WithoutCancel(ctx), cfg, NewRunRecord(hostLabel, opts.Command, result))

	return result, nil
}

func (p *Provision) saveRun(ctx context.Context, cfg *config.HostConfig, record ports.RunRecord) {
	repo, closeRepo, err := p.openHistory(ctx, cfg)
	if err != nil {
		p.logger.Warn(ctx, "run not recorded", ports.RunID(record.ID), ports.Err(err))
		return
	}
	defer closeRepo()
	if err := repo.Save(ctx, record); err != nil {
		p.logger.Warn(ctx, "run not recorded", ports.RunID(record.ID), ports.Err(err))
	}
}

// Rotate replaces the credential owned by a step. The next apply of that
// step renders and restarts with the new value.
func (p *Provision) Rotate(ctx context.Context, cfg *config.HostConfig, stepName string) (secrets.Credential, error) {
	s := p.session(cfg)
	graph, err := p.compile(s)
	if err != nil {
		return secrets.Credential{}, err
	}
	id, err := compiler.NewStepID(stepName)
	if err != nil {
		return secrets.Credential{}, err
	}
	if _, ok := graph.Get(id); !ok {
		return secrets.Credential{}, fmt.Errorf("step %q is not part of this host", stepName)
	}

	cred, err := s.secrets.Rotate(stepName)
	if err != nil {
		return secrets.Credential{}, err
	}
	p.logger.Info(ctx, "credential rotated", ports.Step(stepName), ports.F("kind", string(cred.Kind)))
	return cred, nil
}

// Render previews the artifact of one kind from the configuration.
func (p *Provision) Render(ctx context.Context, cfg *config.HostConfig, kind render.Kind) (render.Artifact, error) {
	return host.Preview(ctx, cfg, kind, p.session(cfg).deps)
}

// History lists the most recent runs.
func (p *Provision) History(ctx context.Context, cfg *config.HostConfig, limit int) ([]ports.RunRecord, error) {
	repo, closeRepo, err := p.openHistory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeRepo()
	return repo.List(ctx, limit)
}

// Run returns one recorded run with its steps.
func (p *Provision) Run(ctx context.Context, cfg *config.HostConfig, id string) (ports.RunRecord, error) {
	repo, closeRepo, err := p.openHistory(ctx, cfg)
	if err != nil {
		return ports.RunRecord{}, err
	}
	defer closeRepo()
	return repo.Get(ctx, id)
}

func (p *Provision) hostLabel(cfg *config.HostConfig) string {
	if p.target != "" {
		return p.target
	}
	return cfg.Host.Name
}

// IsConfigError reports whether err means the configuration cannot be
// turned into a plan: load and validation problems, invalid sections and
// registration errors.
func IsConfigError(err error) bool {
	var userErr *config.UserError
	var list *config.ErrorList
	switch {
	case errors.As(err, &userErr), errors.As(err, &list):
		return true
	case errors.Is(err, compiler.ErrDuplicateStep),
		errors.Is(err, compiler.ErrCyclicDependency),
		errors.Is(err, compiler.ErrUnknownDependency),
		errors.Is(err, compiler.ErrInvalidConfig):
		return true
	}
	return false
}
