package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate <step>",
	Short: "Replace the credential a step owns",
	Long: `Rotate issues a new credential for a step such as vmess:config or
container:outline. The next apply renders it and restarts the service.`,
	Args: cobra.ExactArgs(1),
	RunE: runRotate,
}

func init() {
	rootCmd.AddCommand(rotateCmd)
}

func runRotate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	cred, err := s.app.Rotate(cmd.Context(), s.cfg, args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rotated %s for %s. Run apply to roll it out.\n", cred.Kind, args[0])
	return nil
}
