package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List candidate article URLs for a date without archiving them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			day, _, err := dateSelection{date: date}.resolve(appNow())
			if err != nil {
				return err
			}
			urls, err := appInstance.Discoverer().Discover(cmd.Context(), day)
			if err != nil {
				return fmt.Errorf("discover %s: %w", day.Format("2006-01-02"), err)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"#", "URL"})
			for i, u := range urls {
				tw.AppendRow(table.Row{i + 1, u})
			}
			tw.AppendFooter(table.Row{"", fmt.Sprintf("%d candidates", len(urls))})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "publication date (YYYY-MM-DD, defaults to today)")
	return cmd
}
