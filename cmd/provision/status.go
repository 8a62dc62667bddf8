package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check which steps the host already satisfies",
	Long: `Status runs only the checks of every step and reports the result. It exits
non-zero when any step needs applying or could not be checked.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	plan, err := s.app.Status(cmd.Context(), s.cfg)
	if err != nil {
		return err
	}
	s.app.PrintStatus(plan)

	if summary := plan.Summary(); summary.Satisfied != summary.Total {
		return &exitError{code: exitFailed}
	}
	return nil
}
