package main

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the resolved step order",
	Long: `Plan compiles the configuration and prints the steps in the order apply
would run them, with their dependencies.

With --check every step is also probed against the host, showing which
ones are satisfied and what the others would change. With --explain each
step is followed by a description of what it is for. Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

var (
	planCheck   bool
	planExplain bool
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().BoolVar(&planCheck, "check", false, "probe live state for every step")
	planCmd.Flags().BoolVar(&planExplain, "explain", false, "describe what every step is for")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, planCheck)
	if err != nil {
		return err
	}
	defer s.close()

	plan, err := s.app.Plan(cmd.Context(), s.cfg, planCheck)
	if err != nil {
		return err
	}
	s.app.PrintPlan(plan)
	if planExplain {
		s.app.PrintExplanations(plan, verbose)
	}
	return nil
}
