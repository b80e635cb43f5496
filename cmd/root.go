// Package cmd defines and implements the CLI commands for the docharvest
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docharvest/internal/app"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docharvest",
		Short: "Acquires documents from configured web sources and catalogs them.",
		Long: `docharvest crawls configured sites for documents, deduplicates them
by content, and incrementally extracts and classifies their text into a
searchable catalog. Crawling and cataloging are independent commands so
each can run on its own schedule.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// buildApp constructs the application for one command invocation.
func buildApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
