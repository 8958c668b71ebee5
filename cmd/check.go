package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var articleURL string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ask the Wayback availability API whether a URL is already captured.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if articleURL == "" {
				return errors.New("--url is required")
			}
			appInstance, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			client := appInstance.Wayback()
			exists, err := client.CheckExists(cmd.Context(), articleURL)
			if err != nil {
				return fmt.Errorf("check %s: %w", articleURL, err)
			}
			out := cmd.OutOrStdout()
			if exists {
				fmt.Fprintf(out, "archived: %s\n", client.SnapshotURL(articleURL))
				return nil
			}
			fmt.Fprintf(out, "not archived: %s\n", articleURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&articleURL, "url", "", "article URL to look up")
	return cmd
}
