package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRescrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescrape",
		Short: "Retries PDFs missing from object storage",
		Long: `Reads the full export, downloads and stores the PDF of every row whose
stored reference is empty or an error marker, then rewrites the exports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App, _ *runtime) error {
				summary, err := app.Rescrape(cmd.Context())
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
				if err != nil {
					return fmt.Errorf("rescrape: %w", err)
				}
				return nil
			})
		},
	}
}
