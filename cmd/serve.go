package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the operational HTTP API",
		Long: `Starts the ops HTTP server exposing health, Prometheus metrics, run
status and the stored file listing. The server runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Serve(cmd.Context())
		},
	}
}
