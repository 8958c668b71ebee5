package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Status mirrors the archive_records.status column.
type Status string

// Archive statuses persisted in archive_records.status.
const (
	StatusSuccess     Status = "success"
	StatusExists      Status = "exists"
	StatusFailed      Status = "failed"
	StatusRateLimited Status = "rate_limited"
	StatusTimeout     Status = "timeout"
	StatusError       Status = "error"
)

// AllStatuses lists every status in reporting order.
func AllStatuses() []Status {
	return []Status{StatusSuccess, StatusExists, StatusFailed, StatusRateLimited, StatusTimeout, StatusError}
}

// TerminalStatuses returns the statuses after which a URL is never resubmitted.
func TerminalStatuses() []Status {
	return []Status{StatusSuccess, StatusExists}
}

// Terminal reports whether no further processing is needed for the URL.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusExists
}

// Failed reports whether the status counts toward a date's failed bucket.
// rate_limited is not a failure: those URLs stay new for the next run.
func (s Status) Failed() bool {
	return s == StatusFailed || s == StatusTimeout || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// ArchiveRecord models one row of archive_records.
type ArchiveRecord struct {
	// ArticleURL is the canonical source URL and the unique key.
	ArticleURL string
	// WaybackURL is the snapshot URL once known.
	WaybackURL *string
	// ArchiveDate is the YYYYMMDD date the article belongs to, not the time of archiving.
	ArchiveDate string
	// Status is the latest outcome; later attempts overwrite it.
	Status Status
	// HTTPStatus is the last observed response code.
	HTTPStatus *int
	// ErrorMessage keeps the last error text for diagnosis.
	ErrorMessage *string
	// MatchedKeywords is the comma-joined list of keyword hits.
	MatchedKeywords *string
	// ArticleTitle is the extracted headline, if any.
	ArticleTitle *string
	// CheckedWayback is true when the availability API was consulted before submitting.
	CheckedWayback bool
	// TitleSearchOnly is true when the keyword match came from the title alone.
	TitleSearchOnly bool
	// CreatedAt is set on first insert and never changed.
	CreatedAt time.Time
	// UpdatedAt is refreshed on every write.
	UpdatedAt time.Time
}

// Validate checks the fields every backend relies on before writing.
func (r ArchiveRecord) Validate() error {
	if strings.TrimSpace(r.ArticleURL) == "" {
		return errors.New("article_url is required")
	}
	if len(r.ArchiveDate) != 8 {
		return fmt.Errorf("archive_date %q must be YYYYMMDD", r.ArchiveDate)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	return nil
}

// Clock supplies write timestamps to store implementations.
type Clock interface {
	Now() time.Time
}

// DailyProgress models one row of daily_progress.
type DailyProgress struct {
	Date                string
	ArticlesFound       int
	ArticlesArchived    int
	ArticlesFailed      int
	ArticlesRateLimited int
	KeywordsFiltered    int
	// ExecutionTime is the wall time of the whole date run, in seconds.
	ExecutionTime float64
	CompletedAt   time.Time
}

// Statistics aggregates the archive_records and daily_progress tables.
type Statistics struct {
	ByStatus     map[Status]int
	Total        int
	FirstDate    string
	LastDate     string
	DaysRecorded int
}

// Archived returns the number of records in a terminal status.
func (s Statistics) Archived() int {
	return s.ByStatus[StatusSuccess] + s.ByStatus[StatusExists]
}

// SuccessRate returns archived/total as a percentage, or 0 for an empty store.
func (s Statistics) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Archived()) / float64(s.Total) * 100
}

// RecordFilter narrows ListRecords. Empty fields match everything.
type RecordFilter struct {
	StartDate string
	EndDate   string
	Statuses  []Status
}

// Store persists archive outcomes and per-date progress. Implementations assume
// a single writer; concurrent callers are serialized by the implementation.
type Store interface {
	// FilterNew returns the subset of urls without a terminal record, in input
	// order with duplicates removed. Implementations use one round trip.
	FilterNew(ctx context.Context, urls []string) ([]string, error)
	// UpsertBatch writes all records in one transaction keyed by article_url.
	UpsertBatch(ctx context.Context, records []ArchiveRecord) error
	// RecordDailyProgress inserts or replaces the row for p.Date.
	RecordDailyProgress(ctx context.Context, p DailyProgress) error
	// GetStatistics aggregates counts by status and the covered date range.
	GetStatistics(ctx context.Context) (Statistics, error)
	// GetRecord loads one record or returns ErrNotFound.
	GetRecord(ctx context.Context, articleURL string) (ArchiveRecord, error)
	// GetDailyProgress loads one date or returns ErrNotFound.
	GetDailyProgress(ctx context.Context, date string) (DailyProgress, error)
	// ListDailyProgress returns rows between the inclusive YYYYMMDD bounds, oldest first.
	ListDailyProgress(ctx context.Context, startDate, endDate string) ([]DailyProgress, error)
	// ListRecords returns records matching filter ordered by archive_date then URL.
	ListRecords(ctx context.Context, filter RecordFilter) ([]ArchiveRecord, error)
	Close() error
}

// Dedupe removes repeated URLs while keeping first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
