package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-news-archiver/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		sel    dateSelection
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored records for a date range to a prioritized CSV.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			start, end, err := sel.resolve(appNow())
			if err != nil {
				return err
			}
			exporter, err := appInstance.Exporter(cmd.Context())
			if err != nil {
				return fmt.Errorf("build exporter: %w", err)
			}
			if output == "" {
				output = export.DefaultName(start, end)
			}
			summary, err := exporter.Export(cmd.Context(), start, end, output)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %d rows to %s\n", summary.Rows, summary.URI)
			fmt.Fprintf(out, "sha256: %s\n", summary.SHA256)
			fmt.Fprintf(out, "archived: %d, not archived: %d\n", summary.Archived, summary.NotArchived)
			priorities := make([]string, 0, len(summary.ByPriority))
			for p := range summary.ByPriority {
				priorities = append(priorities, p)
			}
			sort.Strings(priorities)
			for _, p := range priorities {
				fmt.Fprintf(out, "  %s: %d\n", p, summary.ByPriority[p])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sel.start, "start", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&sel.end, "end", "", "last date, inclusive (defaults to today)")
	cmd.Flags().IntVar(&sel.backdays, "backdays", 0, "export the N days ending today")
	cmd.Flags().StringVarP(&output, "output", "o", "", "object name (defaults to articles_{start}_{end}.csv)")
	return cmd
}
