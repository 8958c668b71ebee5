package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func record(url string, status store.Status) store.ArchiveRecord {
	return store.ArchiveRecord{ArticleURL: url, ArchiveDate: "20250112", Status: status}
}

func TestArchiveStoreUpsertKeepsOneRecordPerURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &stepClock{t: time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)}
	s := NewArchiveStore(clock)

	title := "headline"
	first := record("http://a", store.StatusRateLimited)
	first.ArticleTitle = &title
	require.NoError(t, s.UpsertBatch(ctx, []store.ArchiveRecord{first}))
	require.NoError(t, s.UpsertBatch(ctx, []store.ArchiveRecord{record("http://a", store.StatusSuccess)}))

	require.Equal(t, 1, s.Len())
	got, err := s.GetRecord(ctx, "http://a")
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, got.Status)
	require.True(t, got.UpdatedAt.After(got.CreatedAt))
	require.NotNil(t, got.ArticleTitle)
	require.Equal(t, "headline", *got.ArticleTitle)
}

func TestArchiveStoreFilterNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewArchiveStore(nil)
	require.NoError(t, s.UpsertBatch(ctx, []store.ArchiveRecord{
		record("http://c", store.StatusExists),
		record("http://d", store.StatusRateLimited),
		record("http://e", store.StatusSuccess),
	}))

	remaining, err := s.FilterNew(ctx, []string{"http://a", "http://b", "http://c", "http://d", "http://a", "http://e"})
	require.NoError(t, err)
	require.Equal(t, []string{"http://a", "http://b", "http://d"}, remaining)
}

func TestArchiveStoreBatchIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewArchiveStore(nil)

	err := s.UpsertBatch(ctx, []store.ArchiveRecord{
		record("http://a", store.StatusSuccess),
		{ArticleURL: "", ArchiveDate: "20250112", Status: store.StatusSuccess},
	})
	require.Error(t, err)
	require.Zero(t, s.Len())

	s.FailNextBatch(errors.New("disk full"))
	err = s.UpsertBatch(ctx, []store.ArchiveRecord{record("http://a", store.StatusSuccess)})
	require.ErrorContains(t, err, "disk full")
	require.Zero(t, s.Len())

	require.NoError(t, s.UpsertBatch(ctx, []store.ArchiveRecord{record("http://a", store.StatusSuccess)}))
	require.Equal(t, 1, s.Len())
}

func TestArchiveStoreProgressAndStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewArchiveStore(nil)
	other := record("http://z", store.StatusFailed)
	other.ArchiveDate = "20250110"
	require.NoError(t, s.UpsertBatch(ctx, []store.ArchiveRecord{
		record("http://a", store.StatusSuccess),
		record("http://b", store.StatusExists),
		other,
	}))
	require.NoError(t, s.RecordDailyProgress(ctx, store.DailyProgress{Date: "20250112", ArticlesFound: 3}))
	require.NoError(t, s.RecordDailyProgress(ctx, store.DailyProgress{Date: "20250110", ArticlesFound: 1}))
	require.Error(t, s.RecordDailyProgress(ctx, store.DailyProgress{Date: "2025-01-12"}))

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.Archived())
	require.Equal(t, "20250110", stats.FirstDate)
	require.Equal(t, "20250112", stats.LastDate)
	require.Equal(t, 2, stats.DaysRecorded)

	days, err := s.ListDailyProgress(ctx, "20250111", "")
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Equal(t, "20250112", days[0].Date)

	_, err = s.GetDailyProgress(ctx, "20240101")
	require.ErrorIs(t, err, store.ErrNotFound)

	recs, err := s.ListRecords(ctx, store.RecordFilter{Statuses: []store.Status{store.StatusSuccess, store.StatusFailed}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "http://z", recs[0].ArticleURL)
}
