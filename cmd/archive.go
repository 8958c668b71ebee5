package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-news-archiver/internal/pipeline"
)

func newArchiveCmd() *cobra.Command {
	var sel dateSelection
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Discover and archive HK-GA articles for a date or date range.",
		Example: `  archiver archive --date 2025-01-15
  archiver archive --start 2025-01-01 --end 2025-01-07
  archiver archive --backdays 3 --keyword 國安法`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			start, end, err := sel.resolve(appNow())
			if err != nil {
				return err
			}
			if err := appInstance.StartMetrics(); err != nil {
				return fmt.Errorf("start metrics server: %w", err)
			}
			if addr := appInstance.MetricsAddr(); addr != "" {
				appInstance.Logger().Info("metrics server listening", zap.String("addr", addr))
			}

			orch, err := appInstance.Orchestrator()
			if err != nil {
				return fmt.Errorf("build orchestrator: %w", err)
			}
			summary := orch.ProcessRange(cmd.Context(), start, end)
			renderRangeSummary(cmd.OutOrStdout(), summary)
			return cmd.Context().Err()
		},
	}
	cmd.Flags().StringVar(&sel.date, "date", "", "single date to archive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&sel.start, "start", "", "first date of the range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&sel.end, "end", "", "last date of the range, inclusive (defaults to today)")
	cmd.Flags().IntVar(&sel.backdays, "backdays", 0, "archive the N days ending today")
	return cmd
}

func renderRangeSummary(w io.Writer, s pipeline.RangeSummary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(fmt.Sprintf("Archive run %s - %s", s.StartDate, s.EndDate))
	tw.AppendHeader(table.Row{"Date", "Found", "Archived", "Failed", "Rate Limited", "Filtered", "Seconds"})
	for _, d := range s.Days {
		tw.AppendRow(table.Row{
			d.Date, d.ArticlesFound, d.ArticlesArchived, d.ArticlesFailed,
			d.ArticlesRateLimited, d.KeywordsFiltered, fmt.Sprintf("%.1f", d.ExecutionTime),
		})
	}
	tw.AppendFooter(table.Row{
		"Total", s.Found, s.Archived, s.Failed, s.RateLimited, s.Filtered,
		fmt.Sprintf("%.1f", s.Duration.Seconds()),
	})
	tw.Render()
}
