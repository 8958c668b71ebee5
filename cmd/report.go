package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

func newReportCmd() *cobra.Command {
	var sel dateSelection
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize stored archive outcomes and per-date progress.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := appInstance.Store().GetStatistics(cmd.Context())
			if err != nil {
				return fmt.Errorf("load statistics: %w", err)
			}
			renderStatistics(cmd.OutOrStdout(), stats)

			startDate, endDate := stats.FirstDate, stats.LastDate
			if sel != (dateSelection{}) {
				start, end, err := sel.resolve(appNow())
				if err != nil {
					return err
				}
				startDate, endDate = start.Format("20060102"), end.Format("20060102")
			}
			if startDate == "" {
				return nil
			}
			days, err := appInstance.Store().ListDailyProgress(cmd.Context(), startDate, endDate)
			if err != nil {
				return fmt.Errorf("load daily progress: %w", err)
			}
			renderDailyProgress(cmd.OutOrStdout(), days)
			return nil
		},
	}
	cmd.Flags().StringVar(&sel.start, "start", "", "first date to list (defaults to the earliest recorded)")
	cmd.Flags().StringVar(&sel.end, "end", "", "last date to list, inclusive")
	cmd.Flags().IntVar(&sel.backdays, "backdays", 0, "list the N days ending today")
	return cmd
}

func renderStatistics(w io.Writer, s store.Statistics) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Archive statistics")
	tw.AppendHeader(table.Row{"Status", "Records"})
	for _, status := range store.AllStatuses() {
		if n := s.ByStatus[status]; n > 0 {
			tw.AppendRow(table.Row{string(status), n})
		}
	}
	tw.AppendFooter(table.Row{"Total", s.Total})
	tw.Render()

	fmt.Fprintf(w, "Success rate: %.1f%%\n", s.SuccessRate())
	if s.DaysRecorded > 0 {
		fmt.Fprintf(w, "Dates recorded: %d (%s to %s)\n", s.DaysRecorded, s.FirstDate, s.LastDate)
	}
}

func renderDailyProgress(w io.Writer, days []store.DailyProgress) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Daily progress")
	tw.AppendHeader(table.Row{"Date", "Found", "Archived", "Failed", "Rate Limited", "Filtered", "Completed"})
	for _, d := range days {
		completed := ""
		if !d.CompletedAt.IsZero() {
			completed = d.CompletedAt.UTC().Format("2006-01-02 15:04:05")
		}
		tw.AppendRow(table.Row{
			d.Date, d.ArticlesFound, d.ArticlesArchived, d.ArticlesFailed,
			d.ArticlesRateLimited, d.KeywordsFiltered, completed,
		})
	}
	tw.Render()
}
