package host

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/domain/probe"
	"github.com/felixgeelhaar/provision/internal/domain/secrets"
)

// OutlineStep runs the Outline server container with a generated API secret.
type OutlineStep struct {
	base
	hostName string
	cfg      config.OutlineSection
	deps     Deps
}

// NewOutlineStep creates a new OutlineStep.
func NewOutlineStep(hostName string, cfg config.OutlineSection, deps Deps) *OutlineStep {
	return &OutlineStep{
		base:     newBase(OutlineStepID, RuntimeStepID),
		hostName: hostName,
		cfg:      cfg,
		deps:     deps,
	}
}

func (s *OutlineStep) stateDir() string {
	return path.Join(s.cfg.DataDir, "persisted-state")
}

// Check determines if the container is running with the current API secret.
func (s *OutlineStep) Check(ctx compiler.RunContext) (compiler.StepStatus, error) {
	rotated, err := s.deps.Secrets.Pending(s.ID().String())
	if err != nil {
		return compiler.StatusUnknown, probe.Unavailable("credential store", err)
	}
	if rotated {
		return compiler.StatusNeedsApply, nil
	}
	return probe.StepStatus(ctx.Context(), probe.ServiceActive(s.deps.Containers, s.cfg.Container))
}

// Plan returns the diff for this step.
func (s *OutlineStep) Plan(_ compiler.RunContext) (compiler.Diff, error) {
	return compiler.NewDiff(compiler.DiffTypeAdd, "container", s.cfg.Container, "", s.cfg.Image), nil
}

// Apply starts the container, replacing a stopped one with the same name.
// The API prefix is the step's access key credential, reused across runs.
// The prefix of an existing container wins over the store, so a lost
// credentials file does not move the management URL.
func (s *OutlineStep) Apply(ctx compiler.RunContext) error {
	cred, err := s.deps.Secrets.Ensure(s.ID().String(), secrets.KindAccessKey, s.deployedPrefix(ctx))
	if err != nil {
		return fmt.Errorf("api secret: %w", err)
	}

	fsys := s.deps.fs()
	if err := fsys.MkdirAll(s.stateDir(), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", s.stateDir(), err)
	}
	if s.cfg.KeysPort > 0 {
		data, err := json.Marshal(map[string]int{"portForNewAccessKeys": s.cfg.KeysPort})
		if err != nil {
			return err
		}
		if err := fsys.WriteFile(path.Join(s.stateDir(), "shadowbox_server_config.json"), data, 0o600); err != nil {
			return fmt.Errorf("write server config: %w", err)
		}
	}

	// A stopped container would make `docker run --name` fail.
	if _, err := s.deps.Runner.Run(ctx.Context(), "docker", "rm", "-f", s.cfg.Container); err != nil {
		return err
	}

	args := s.runArgs(cred.Value)
	result, err := s.deps.Runner.Run(ctx.Context(), "docker", args...)
	if err != nil {
		return err
	}
	return result.Err("docker", "run", s.cfg.Container)
}

// deployedPrefix reads SB_API_PREFIX from the container's environment. It
// returns "" when there is no container to read it from.
func (s *OutlineStep) deployedPrefix(ctx compiler.RunContext) string {
	result, err := s.deps.Runner.Run(ctx.Context(), "docker", "inspect", "--format", envFormat, s.cfg.Container)
	if err != nil || !result.Success() {
		return ""
	}
	for _, line := range strings.Split(result.Stdout, "\n") {
		if value, ok := strings.CutPrefix(strings.TrimSpace(line), "SB_API_PREFIX="); ok {
			return value
		}
	}
	return ""
}

const envFormat = "{{range .Config.Env}}{{println .}}{{end}}"

func (s *OutlineStep) runArgs(apiPrefix string) []string {
	args := []string{
		"run", "-d",
		"--name", s.cfg.Container,
		"--restart", "always",
		"--net", "host",
		"-v", s.cfg.DataDir + ":" + s.cfg.DataDir,
		"-e", "SB_STATE_DIR=" + s.stateDir(),
		"-e", "SB_API_PREFIX=" + apiPrefix,
	}
	if s.cfg.APIPort > 0 {
		args = append(args, "-e", "SB_API_PORT="+strconv.Itoa(s.cfg.APIPort))
	}
	if s.hostName != "" {
		args = append(args, "-e", "SB_DEFAULT_SERVER_NAME="+s.hostName)
	}
	return append(args, s.cfg.Image)
}

// Rollback removes the container. The data directory and the secret are kept
// so a later run serves the same keys.
func (s *OutlineStep) Rollback(ctx compiler.RunContext) error {
	result, err := s.deps.Runner.Run(ctx.Context(), "docker", "rm", "-f", s.cfg.Container)
	if err != nil {
		return err
	}
	return result.Err("docker", "rm", "-f", s.cfg.Container)
}

// Explain provides a human-readable explanation.
func (s *OutlineStep) Explain(_ compiler.ExplainContext) compiler.Explanation {
	return compiler.NewExplanation(
		"Run Outline server",
		fmt.Sprintf("Starts the %s container from %s with state under %s.", s.cfg.Container, s.cfg.Image, s.cfg.DataDir),
		[]string{"https://getoutline.org"},
	)
}

var _ compiler.RollbackableStep = (*OutlineStep)(nil)
