package pipeline

import (
	"time"

	"github.com/JakeFAU/wayback-news-archiver/internal/clock/system"
	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

// tally accumulates one date's outcome counts.
type tally struct {
	found       int
	archived    int
	failed      int
	rateLimited int
	filtered    int
}

func (t *tally) add(status store.Status) {
	switch {
	case status.Terminal():
		t.archived++
	case status == store.StatusRateLimited:
		t.rateLimited++
	case status.Failed():
		t.failed++
	}
}

func (t tally) progress(date string, elapsed time.Duration, completedAt time.Time) store.DailyProgress {
	return store.DailyProgress{
		Date:                date,
		ArticlesFound:       t.found,
		ArticlesArchived:    t.archived,
		ArticlesFailed:      t.failed,
		ArticlesRateLimited: t.rateLimited,
		KeywordsFiltered:    t.filtered,
		ExecutionTime:       elapsed.Seconds(),
		CompletedAt:         completedAt,
	}
}

// RangeSummary aggregates the per-date results of ProcessRange.
type RangeSummary struct {
	StartDate   string
	EndDate     string
	Days        []store.DailyProgress
	Found       int
	Archived    int
	Failed      int
	RateLimited int
	Filtered    int
	Duration    time.Duration
}

func (s *RangeSummary) add(p store.DailyProgress) {
	s.Days = append(s.Days, p)
	s.Found += p.ArticlesFound
	s.Archived += p.ArticlesArchived
	s.Failed += p.ArticlesFailed
	s.RateLimited += p.ArticlesRateLimited
	s.Filtered += p.KeywordsFiltered
}

// DateRange returns every calendar day from start to end inclusive, truncated
// to midnight UTC. An inverted range is empty.
func DateRange(start, end time.Time) []time.Time {
	start = system.Midnight(start)
	end = system.Midnight(end)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
