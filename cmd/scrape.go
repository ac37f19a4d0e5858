package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Crawls the listing and exports every order",
		Long: `Renders every listing page, extracts and classifies each order, stores
its PDF and writes the exports. The run summary is printed as JSON.
The command fails when not a single listing page could be processed.`,
		Args: cobra.NoArgs,
		RunE: runScrapeCommand,
	}
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(app App, rt *runtime) error {
		res, err := app.Scrape(cmd.Context())
		if res.Summary.RunID != "" {
			if perr := printJSON(cmd.OutOrStdout(), res.Summary); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("scrape: %w", err)
		}
		if cmd.Context().Err() != nil {
			rt.logger.Warn("run interrupted; partial results exported", zap.Int("records", len(res.Records)))
		}
		return nil
	})
}
