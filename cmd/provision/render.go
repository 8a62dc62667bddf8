package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/provision/internal/domain/render"
)

var renderCmd = &cobra.Command{
	Use:   "render <kind>",
	Short: "Print a generated artifact",
	Long: `Render prints an artifact exactly as apply would write it:
  firewall  the firewall rule set
  kernel    the sysctl drop-in
  service   the proxy service config (needs an issued client ID)
  vhost     the reverse proxy vhost (needs a certificate)`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: kindNames(),
	RunE:      runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
}

func kindNames() []string {
	kinds := render.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

func runRender(cmd *cobra.Command, args []string) error {
	kind, err := render.ParseKind(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	art, err := s.app.Render(cmd.Context(), s.cfg, kind)
	if err != nil {
		return err
	}
	s.app.PrintArtifact(art)
	if verbose {
		_, _ = fmt.Fprintf(s.stderr, "blake3:%s\n", art.Digest())
	}
	return nil
}
