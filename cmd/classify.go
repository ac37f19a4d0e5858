package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/arretes-crawler/internal/server"
)

type classification struct {
	IsTraffic    bool   `json:"is_traffic"`
	Rule         string `json:"rule,omitempty"`
	RulesVersion string `json:"rules_version"`
}

func newClassifyCmd() *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classifies one order with the configured rule table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if title == "" && content == "" {
				return errors.New("--title or --content is required")
			}
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			c, err := server.NewClassifier(rt.cfg)
			if err != nil {
				return err
			}
			rule, ok := c.Match(title, content)
			return printJSON(cmd.OutOrStdout(), classification{
				IsTraffic:    ok,
				Rule:         rule,
				RulesVersion: c.Version(),
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "order title")
	cmd.Flags().StringVar(&content, "content", "", "order text or preview")
	return cmd
}
