package main

import (
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs",
	Long: `History lists past apply runs, newest first. Given a run ID it shows that
run with the outcome of every step.

Runs are recorded on the machine running provision, also for --host.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.close()

	if len(args) == 1 {
		run, err := s.app.Run(cmd.Context(), s.cfg, args[0])
		if err != nil {
			return err
		}
		s.app.PrintRun(run)
		return nil
	}

	runs, err := s.app.History(cmd.Context(), s.cfg, historyLimit)
	if err != nil {
		return err
	}
	s.app.PrintHistory(runs)
	return nil
}
