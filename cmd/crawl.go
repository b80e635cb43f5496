package cmd

import (
	"github.com/spf13/cobra"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var siteName string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls configured sites and downloads matching documents",
		Long: `Walks each configured site breadth-first within its page and depth
budget, downloading documents that pass the relevance and exclusion
filters. Content is deduplicated so re-crawls only store what changed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Crawl(cmd.Context(), siteName)
		},
	}

	cmd.Flags().StringVar(&siteName, "site", "", "crawl only the named site (default: all configured sites)")
	return cmd
}
