package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/provision/internal/adapters/logging"
	"github.com/felixgeelhaar/provision/internal/adapters/remote"
	"github.com/felixgeelhaar/provision/internal/app"
	"github.com/felixgeelhaar/provision/internal/domain/compiler"
	"github.com/felixgeelhaar/provision/internal/domain/config"
	"github.com/felixgeelhaar/provision/internal/ports"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1
	exitInvalid = 2
)

var (
	// Global flags
	cfgFile         string
	verbose         bool
	logFormat       string
	hostFlag        string
	identityFile    string
	knownHostsFile  string
	insecureHostKey bool
)

var rootCmd = &cobra.Command{
	Use:   "provision",
	Short: "A declarative host provisioning orchestrator",
	Long: `Provision converges a host to a declarative description: packages, a
container runtime, proxy services, a TLS reverse proxy, kernel tuning and
firewall rules.

Every step checks live state before it changes anything, so a converged
host reruns as a no-op:
  Load → Compile → Plan → Apply`,
	SilenceErrors: true, // We handle error formatting ourselves
	SilenceUsage:  true, // Don't show usage on error
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "provision.yaml", "host configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "provision a remote host over SSH (user@host[:port])")
	rootCmd.PersistentFlags().StringVar(&identityFile, "identity", "", "SSH private key for --host")
	rootCmd.PersistentFlags().StringVar(&knownHostsFile, "known-hosts", "", "known_hosts file for --host (default: ~/.ssh/known_hosts)")
	rootCmd.PersistentFlags().BoolVar(&insecureHostKey, "insecure-host-key", false, "skip SSH host key verification")

	registerFlagCompletions()

	rootCmd.AddCommand(versionCmd)
}

// exitError carries the exit code of an outcome that was already printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, rootCmd, os.Stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, stderr io.Writer) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	printErrorTo(stderr, err)
	return exitCode(err)
}

// exitCode maps an error to exitInvalid when the configuration could not be
// turned into a plan, and exitFailed otherwise.
func exitCode(err error) int {
	if app.IsConfigError(err) {
		return exitInvalid
	}
	return exitFailed
}

// formatError returns a user-friendly error message.
// With verbose=false: shows only the user message and suggestion.
// With verbose=true: also shows the underlying technical error.
func formatError(err error) string {
	var list *config.ErrorList
	if errors.As(err, &list) && len(list.Errors()) > 1 {
		return list.Error()
	}

	var stepErr *compiler.StepError
	if errors.As(err, &stepErr) && stepErr.Suggestion != "" {
		return fmt.Sprintf("%s\n\nSuggestion: %s", err.Error(), stepErr.Suggestion)
	}

	var userErr *config.UserError
	if errors.As(err, &userErr) {
		msg := userErr.Message
		if userErr.Context != "" {
			msg += fmt.Sprintf(" (at %s)", userErr.Context)
		}
		if userErr.Suggestion != "" {
			msg += fmt.Sprintf("\n\nSuggestion: %s", userErr.Suggestion)
		}
		if verbose && userErr.Underlying != nil {
			msg += fmt.Sprintf("\n\nTechnical details: %v", userErr.Underlying)
		}
		return msg
	}
	return err.Error()
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err))
}

func newLogger(w io.Writer) (*logging.ConsoleLogger, error) {
	format, err := logging.ParseFormat(logFormat)
	if err != nil {
		return nil, err
	}
	level := ports.LevelWarn
	if verbose {
		level = ports.LevelDebug
	}
	return logging.NewConsoleLogger(
		logging.WithOutput(w),
		logging.WithLevel(level),
		logging.WithFormat(format),
	), nil
}

// session is the loaded configuration and the application wired to its host.
type session struct {
	app    *app.Provision
	cfg    *config.HostConfig
	stderr io.Writer
	close  func()
}

// openSession loads the configuration, then builds the application. With
// connect set and --host given, it dials the remote host first.
func openSession(cmd *cobra.Command, connect bool) (*session, error) {
	cfg, err := config.NewLoader().Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	p, closeFn, err := newApp(cmd.Context(), cmd.OutOrStdout(), logger, connect)
	if err != nil {
		return nil, err
	}
	return &session{app: p, cfg: cfg, stderr: cmd.ErrOrStderr(), close: closeFn}, nil
}

// newApp builds the application for the local machine or --host.
var newApp = func(ctx context.Context, out io.Writer, logger ports.Logger, connect bool) (*app.Provision, func(), error) {
	opts := []app.Option{app.WithLogger(logger)}
	if !connect || hostFlag == "" {
		return app.New(out, opts...), func() {}, nil
	}

	target, err := remote.ParseTarget(hostFlag)
	if err != nil {
		return nil, nil, err
	}
	client, err := remote.Dial(ctx, target, remote.Options{
		IdentityFile:          identityFile,
		KnownHosts:            knownHostsFile,
		InsecureIgnoreHostKey: insecureHostKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	logger.Debug(ctx, "connected", ports.F("target", target.String()))

	opts = append(opts,
		app.WithRunner(client.Runner()),
		app.WithFileSystem(client.FileSystem()),
		app.WithTarget(target.String()),
	)
	return app.New(out, opts...), func() { _ = client.Close() }, nil
}

// registerFlagCompletions sets up custom completions for global flags.
func registerFlagCompletions() {
	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
	})

	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"text\tkey=value lines",
			"json\tone JSON object per line",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}
