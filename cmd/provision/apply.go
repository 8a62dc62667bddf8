package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/provision/internal/app"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge the host to its configuration",
	Long: `Apply checks every step against the host and runs the ones that are not
yet satisfied, in dependency order.

A failed step stops its dependents and rolls back what was applied before
it; independent steps still run. Rerunning on a converged host changes
nothing.

Use --dry-run to see the checked plan without making changes.`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

var (
	applyHaltOnFailure bool
	applyStepTimeout   time.Duration
	applyParallel      int
	applyYes           bool
	applyDryRun        bool
)

// confirmApply asks before changing the host.
var confirmApply = func(ctx context.Context, changes int) (bool, error) {
	ok := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Apply %d change(s)?", changes)).
				Description("Steps already satisfied are skipped").
				Affirmative("Apply").
				Negative("Cancel").
				Value(&ok),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("confirmation failed (use --yes to skip it): %w", err)
	}
	return ok, nil
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().BoolVar(&applyHaltOnFailure, "halt-on-failure", false, "stop scheduling new steps after the first failure")
	applyCmd.Flags().DurationVar(&applyStepTimeout, "step-timeout", 0, "per-step timeout (default from settings)")
	applyCmd.Flags().IntVar(&applyParallel, "parallel", 0, "independent steps to run at once (default from settings)")
	applyCmd.Flags().BoolVarP(&applyYes, "yes", "y", false, "apply without asking")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "show the checked plan without making changes")
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if applyParallel < 0 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	plan, err := s.app.Plan(ctx, s.cfg, true)
	if err != nil {
		return err
	}
	s.app.PrintPlan(plan)

	if applyDryRun {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\n[Dry run - no changes made]")
		return nil
	}

	if plan.HasChanges() && !applyYes {
		sum := plan.Summary()
		ok, err := confirmApply(ctx, sum.NeedsApply+sum.Unknown)
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted, no changes made.")
			return nil
		}
	}

	result, err := s.app.Apply(ctx, s.cfg, app.ApplyOptions{
		HaltOnFailure: applyHaltOnFailure,
		StepTimeout:   applyStepTimeout,
		Parallelism:   applyParallel,
		Command:       "apply",
	})
	if err != nil {
		return err
	}
	s.app.PrintResult(result)

	if code := result.ExitCode(); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}
