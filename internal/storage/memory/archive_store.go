// Package memory provides in-memory stores for development, dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

// ArchiveStore implements store.Store with maps guarded by a RWMutex.
type ArchiveStore struct {
	mu       sync.RWMutex
	records  map[string]store.ArchiveRecord
	progress map[string]store.DailyProgress
	now      func() time.Time

	// failNextBatch makes the next UpsertBatch fail after validation; tests use it
	// to assert that a failed batch leaves nothing behind.
	failNextBatch error
}

// NewArchiveStore constructs an empty ArchiveStore. A nil clock uses UTC wall time.
func NewArchiveStore(clock store.Clock) *ArchiveStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &ArchiveStore{
		records:  make(map[string]store.ArchiveRecord),
		progress: make(map[string]store.DailyProgress),
		now:      now,
	}
}

// FilterNew returns urls lacking a terminal record.
func (s *ArchiveStore) FilterNew(_ context.Context, urls []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(urls))
	for _, u := range store.Dedupe(urls) {
		if rec, ok := s.records[u]; ok && rec.Status.Terminal() {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// UpsertBatch validates every record before applying any of them.
func (s *ArchiveStore) UpsertBatch(_ context.Context, records []store.ArchiveRecord) error {
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNextBatch; err != nil {
		s.failNextBatch = nil
		return fmt.Errorf("upsert batch: %w", err)
	}
	now := s.now()
	for _, rec := range records {
		if prev, ok := s.records[rec.ArticleURL]; ok {
			rec.CreatedAt = prev.CreatedAt
			rec.WaybackURL = coalesce(rec.WaybackURL, prev.WaybackURL)
			rec.MatchedKeywords = coalesce(rec.MatchedKeywords, prev.MatchedKeywords)
			rec.ArticleTitle = coalesce(rec.ArticleTitle, prev.ArticleTitle)
		} else {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		s.records[rec.ArticleURL] = rec
	}
	return nil
}

// RecordDailyProgress replaces the row for p.Date.
func (s *ArchiveStore) RecordDailyProgress(_ context.Context, p store.DailyProgress) error {
	if len(p.Date) != 8 {
		return fmt.Errorf("record daily progress: date %q must be YYYYMMDD", p.Date)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[p.Date] = p
	return nil
}

// GetStatistics aggregates the in-memory tables.
func (s *ArchiveStore) GetStatistics(_ context.Context) (store.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := store.Statistics{ByStatus: make(map[store.Status]int), DaysRecorded: len(s.progress)}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
		stats.Total++
		if stats.FirstDate == "" || rec.ArchiveDate < stats.FirstDate {
			stats.FirstDate = rec.ArchiveDate
		}
		if rec.ArchiveDate > stats.LastDate {
			stats.LastDate = rec.ArchiveDate
		}
	}
	return stats, nil
}

// GetRecord returns a copy of the record for articleURL.
func (s *ArchiveStore) GetRecord(_ context.Context, articleURL string) (store.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[articleURL]
	if !ok {
		return store.ArchiveRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// GetDailyProgress returns the row for date.
func (s *ArchiveStore) GetDailyProgress(_ context.Context, date string) (store.DailyProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[date]
	if !ok {
		return store.DailyProgress{}, store.ErrNotFound
	}
	return p, nil
}

// ListDailyProgress returns rows within the inclusive bounds, oldest first.
func (s *ArchiveStore) ListDailyProgress(_ context.Context, startDate, endDate string) ([]store.DailyProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.DailyProgress, 0, len(s.progress))
	for date, p := range s.progress {
		if inRange(date, startDate, endDate) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ListRecords returns matching records ordered by archive_date then URL.
func (s *ArchiveStore) ListRecords(_ context.Context, filter store.RecordFilter) ([]store.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ArchiveRecord, 0)
	for _, rec := range s.records {
		if !inRange(rec.ArchiveDate, filter.StartDate, filter.EndDate) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, rec.Status) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArchiveDate != out[j].ArchiveDate {
			return out[i].ArchiveDate < out[j].ArchiveDate
		}
		return out[i].ArticleURL < out[j].ArticleURL
	})
	return out, nil
}

// Close is a no-op.
func (s *ArchiveStore) Close() error {
	return nil
}

// FailNextBatch arms a one-shot UpsertBatch failure.
func (s *ArchiveStore) FailNextBatch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextBatch = err
}

// Len returns the number of stored records.
func (s *ArchiveStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func inRange(date, start, end string) bool {
	if start != "" && date < start {
		return false
	}
	if end != "" && date > end {
		return false
	}
	return true
}

func containsStatus(list []store.Status, s store.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func coalesce[T any](next, prev *T) *T {
	if next != nil {
		return next
	}
	return prev
}

var _ store.Store = (*ArchiveStore)(nil)
