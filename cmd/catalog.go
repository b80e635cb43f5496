package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCatalogCmd creates the 'catalog' subcommand.
func newCatalogCmd() *cobra.Command {
	var sites []string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Runs one incremental catalog pass over the downloaded backlog",
		Long: `Selects downloaded files that are new, changed, or stamped with an
older pipeline version, extracts and classifies their text on a bounded
worker pool, and appends the results to the catalog output. Outcomes are
recorded per file so re-runs only touch what changed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Catalog(cmd.Context(), sites)
			if err != nil {
				return err
			}
			a.Logger.Info("catalog run finished",
				zap.Int64("scanned", stats.Scanned),
				zap.Int64("processed", stats.Processed),
				zap.Int64("written", stats.Written),
				zap.Int64("skipped", stats.Skipped),
				zap.Int64("errors", stats.Errors),
				zap.Int64("missing_files", stats.MissingFiles),
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sites, "sites", nil, "restrict the pass to files from matching source sites")
	return cmd
}
