// Package sqlite implements store.Store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

// ErrLocked is returned when another process holds the database file.
var ErrLocked = errors.New("sqlite database is locked by another process")

// Config controls how the database file is opened.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store is a SQLite-backed store.Store. The pool is capped at one connection so
// every statement is serialized.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS archive_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	article_url TEXT NOT NULL UNIQUE,
	wayback_url TEXT,
	archive_date TEXT NOT NULL,
	status TEXT NOT NULL,
	http_status INTEGER,
	error_message TEXT,
	matched_keywords TEXT,
	article_title TEXT,
	checked_wayback BOOLEAN NOT NULL DEFAULT 0,
	title_search_only BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archive_records_status ON archive_records(status);
CREATE INDEX IF NOT EXISTS idx_archive_records_date_status ON archive_records(archive_date, status);
CREATE INDEX IF NOT EXISTS idx_archive_records_url_status ON archive_records(article_url, status);

CREATE TABLE IF NOT EXISTS daily_progress (
	date TEXT PRIMARY KEY,
	articles_found INTEGER NOT NULL DEFAULT 0,
	archived INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	rate_limited INTEGER NOT NULL DEFAULT 0,
	keywords_filtered INTEGER NOT NULL DEFAULT 0,
	execution_time REAL NOT NULL DEFAULT 0,
	completed_at TIMESTAMP NOT NULL
);
`

const upsertRecordSQL = `
INSERT INTO archive_records (
	article_url, wayback_url, archive_date, status, http_status, error_message,
	matched_keywords, article_title, checked_wayback, title_search_only, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(article_url) DO UPDATE SET
	wayback_url = COALESCE(excluded.wayback_url, archive_records.wayback_url),
	archive_date = excluded.archive_date,
	status = excluded.status,
	http_status = excluded.http_status,
	error_message = excluded.error_message,
	matched_keywords = COALESCE(excluded.matched_keywords, archive_records.matched_keywords),
	article_title = COALESCE(excluded.article_title, archive_records.article_title),
	checked_wayback = excluded.checked_wayback,
	title_search_only = excluded.title_search_only,
	updated_at = excluded.updated_at`

const selectRecordColumns = `
	article_url, wayback_url, archive_date, status, http_status, error_message,
	matched_keywords, article_title, checked_wayback, title_search_only, created_at, updated_at`

// Open opens (creating if needed) the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config, clock store.Clock) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_txlock=immediate",
		cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", classify(err))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", classify(err))
	}
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &Store{db: db, now: now}, nil
}

// FilterNew issues a single IN query for the terminal URLs among urls.
func (s *Store) FilterNew(ctx context.Context, urls []string) ([]string, error) {
	unique := store.Dedupe(urls)
	if len(unique) == 0 {
		return []string{}, nil
	}
	terminal := store.TerminalStatuses()
	args := make([]any, 0, len(unique)+len(terminal))
	for _, st := range terminal {
		args = append(args, string(st))
	}
	for _, u := range unique {
		args = append(args, u)
	}
	query := `SELECT article_url FROM archive_records WHERE status IN (` + placeholders(len(terminal)) +
		`) AND article_url IN (` + placeholders(len(unique)) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query terminal urls: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	done := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan terminal url: %w", err)
		}
		done[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terminal urls: %w", err)
	}

	out := make([]string, 0, len(unique))
	for _, u := range unique {
		if _, ok := done[u]; !ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// UpsertBatch writes every record in one transaction; any failure rolls back all of them.
func (s *Store) UpsertBatch(ctx context.Context, records []store.ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert batch: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.ArticleURL, rec.WaybackURL, rec.ArchiveDate, string(rec.Status), rec.HTTPStatus,
			rec.ErrorMessage, rec.MatchedKeywords, rec.ArticleTitle, rec.CheckedWayback,
			rec.TitleSearchOnly, now, now,
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.ArticleURL, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert batch: %w", classify(err))
	}
	return nil
}

// RecordDailyProgress replaces the row for p.Date.
func (s *Store) RecordDailyProgress(ctx context.Context, p store.DailyProgress) error {
	if len(p.Date) != 8 {
		return fmt.Errorf("record daily progress: date %q must be YYYYMMDD", p.Date)
	}
	completed := p.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_progress (date, articles_found, archived, failed, rate_limited,
			keywords_filtered, execution_time, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			articles_found = excluded.articles_found,
			archived = excluded.archived,
			failed = excluded.failed,
			rate_limited = excluded.rate_limited,
			keywords_filtered = excluded.keywords_filtered,
			execution_time = excluded.execution_time,
			completed_at = excluded.completed_at`,
		p.Date, p.ArticlesFound, p.ArticlesArchived, p.ArticlesFailed, p.ArticlesRateLimited,
		p.KeywordsFiltered, p.ExecutionTime, completed,
	)
	if err != nil {
		return fmt.Errorf("upsert daily progress %s: %w", p.Date, classify(err))
	}
	return nil
}

// GetStatistics aggregates counts by status, the covered dates and recorded days.
func (s *Store) GetStatistics(ctx context.Context) (store.Statistics, error) {
	stats := store.Statistics{ByStatus: make(map[store.Status]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM archive_records GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("query status counts: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[store.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate status counts: %w", err)
	}

	var first, last sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(archive_date), MAX(archive_date) FROM archive_records`).Scan(&first, &last); err != nil {
		return stats, fmt.Errorf("query date range: %w", err)
	}
	stats.FirstDate, stats.LastDate = first.String, last.String

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_progress`).Scan(&stats.DaysRecorded); err != nil {
		return stats, fmt.Errorf("count daily progress: %w", err)
	}
	return stats, nil
}

// GetRecord loads one record by URL.
func (s *Store) GetRecord(ctx context.Context, articleURL string) (store.ArchiveRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectRecordColumns+` FROM archive_records WHERE article_url = ?`, articleURL)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ArchiveRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ArchiveRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetDailyProgress loads the row for date.
func (s *Store) GetDailyProgress(ctx context.Context, date string) (store.DailyProgress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date, articles_found, archived, failed, rate_limited, keywords_filtered,
			execution_time, completed_at
		FROM daily_progress WHERE date = ?`, date)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DailyProgress{}, store.ErrNotFound
	}
	if err != nil {
		return store.DailyProgress{}, fmt.Errorf("get daily progress: %w", err)
	}
	return p, nil
}

// ListDailyProgress returns rows within the inclusive bounds, oldest first.
func (s *Store) ListDailyProgress(ctx context.Context, startDate, endDate string) ([]store.DailyProgress, error) {
	query := `
		SELECT date, articles_found, archived, failed, rate_limited, keywords_filtered,
			execution_time, completed_at
		FROM daily_progress WHERE 1 = 1`
	var args []any
	if startDate != "" {
		query += ` AND date >= ?`
		args = append(args, startDate)
	}
	if endDate != "" {
		query += ` AND date <= ?`
		args = append(args, endDate)
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list daily progress: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	var out []store.DailyProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily progress: %w", err)
	}
	return out, nil
}

// ListRecords returns matching records ordered by archive_date then URL.
func (s *Store) ListRecords(ctx context.Context, filter store.RecordFilter) ([]store.ArchiveRecord, error) {
	query := `SELECT ` + selectRecordColumns + ` FROM archive_records WHERE 1 = 1`
	var args []any
	if filter.StartDate != "" {
		query += ` AND archive_date >= ?`
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		query += ` AND archive_date <= ?`
		args = append(args, filter.EndDate)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.Statuses)) + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY archive_date, article_url`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	var out []store.ArchiveRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite store: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.ArchiveRecord, error) {
	var (
		rec                              store.ArchiveRecord
		status                           string
		wayback, errMsg, keywords, title sql.NullString
		httpStatus                       sql.NullInt64
	)
	err := row.Scan(&rec.ArticleURL, &wayback, &rec.ArchiveDate, &status, &httpStatus, &errMsg,
		&keywords, &title, &rec.CheckedWayback, &rec.TitleSearchOnly, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return store.ArchiveRecord{}, err
	}
	rec.Status = store.Status(status)
	rec.WaybackURL = nullString(wayback)
	rec.ErrorMessage = nullString(errMsg)
	rec.MatchedKeywords = nullString(keywords)
	rec.ArticleTitle = nullString(title)
	if httpStatus.Valid {
		code := int(httpStatus.Int64)
		rec.HTTPStatus = &code
	}
	return rec, nil
}

func scanProgress(row rowScanner) (store.DailyProgress, error) {
	var p store.DailyProgress
	err := row.Scan(&p.Date, &p.ArticlesFound, &p.ArticlesArchived, &p.ArticlesFailed,
		&p.ArticlesRateLimited, &p.KeywordsFiltered, &p.ExecutionTime, &p.CompletedAt)
	return p, err
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// classify maps busy/locked driver errors onto ErrLocked.
func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	return err
}

var _ store.Store = (*Store)(nil)
