package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, 1, 12, 9, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s, err := NewWithPool(mock, Config{}, fixedClock{t: testNow})
	require.NoError(t, err)
	return s, mock
}

func TestNewWithPoolRejectsBadTableNames(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, Config{RecordsTable: "records; DROP TABLE x"}, nil)
	require.Error(t, err)
	_, err = NewWithPool(nil, Config{}, nil)
	require.Error(t, err)
}

func TestFilterNewUsesSingleQuery(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT article_url FROM archive_records WHERE article_url = ANY").
		WithArgs([]string{"A", "B", "C"}, []string{"success", "exists"}).
		WillReturnRows(pgxmock.NewRows([]string{"article_url"}).AddRow("C"))

	remaining, err := s.FilterNew(context.Background(), []string{"A", "B", "C", "A"})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchCommitsOnce(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	records := []store.ArchiveRecord{
		{ArticleURL: "A", ArchiveDate: "20250112", Status: store.StatusSuccess},
		{ArticleURL: "B", ArchiveDate: "20250112", Status: store.StatusRateLimited},
	}

	mock.ExpectBegin()
	for _, rec := range records {
		mock.ExpectExec("INSERT INTO archive_records").
			WithArgs(rec.ArticleURL, pgxmock.AnyArg(), "20250112", string(rec.Status), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), false, false, testNow).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.UpsertBatch(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchRollsBackOnError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO archive_records").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO archive_records").
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err := s.UpsertBatch(context.Background(), []store.ArchiveRecord{
		{ArticleURL: "A", ArchiveDate: "20250112", Status: store.StatusSuccess},
		{ArticleURL: "B", ArchiveDate: "20250112", Status: store.StatusSuccess},
	})
	require.ErrorContains(t, err, "connection lost")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchValidatesBeforeBegin(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	err := s.UpsertBatch(context.Background(), []store.ArchiveRecord{
		{ArticleURL: "A", ArchiveDate: "2025", Status: store.StatusSuccess},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDailyProgress(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO daily_progress").
		WithArgs("20250112", 3, 1, 0, 1, 0, 4.5, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordDailyProgress(context.Background(), store.DailyProgress{
		Date:                "20250112",
		ArticlesFound:       3,
		ArticlesArchived:    1,
		ArticlesRateLimited: 1,
		ExecutionTime:       4.5,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStatistics(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("success", int64(2)).
			AddRow("rate_limited", int64(1)))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(pgxmock.NewRows([]string{"min", "max", "days"}).
			AddRow("20250101", "20250112", int64(2)))

	stats, err := s.GetStatistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.Archived())
	require.Equal(t, "20250101", stats.FirstDate)
	require.Equal(t, "20250112", stats.LastDate)
	require.Equal(t, 2, stats.DaysRecorded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("FROM archive_records WHERE article_url").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRecord(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS archive_records").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for i := 0; i < 3; i++ {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS daily_progress").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
