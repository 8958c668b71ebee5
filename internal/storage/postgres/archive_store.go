// Package postgres provides a Postgres-backed store.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	RecordsTable    string
	ProgressTable   string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it too.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store writes archive records and daily progress into Postgres.
type Store struct {
	pool     pool
	records  string
	progress string
	now      func() time.Time
}

// New connects a pgxpool using cfg.
func New(ctx context.Context, cfg Config, clock store.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool builds a Store on an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config, clock store.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	records := cfg.RecordsTable
	if records == "" {
		records = "archive_records"
	}
	progress := cfg.ProgressTable
	if progress == "" {
		progress = "daily_progress"
	}
	for _, name := range []string{records, progress} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &Store{pool: p, records: records, progress: progress, now: now}, nil
}

// EnsureSchema creates the tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			article_url TEXT NOT NULL UNIQUE,
			wayback_url TEXT,
			archive_date CHAR(8) NOT NULL,
			status TEXT NOT NULL,
			http_status INTEGER,
			error_message TEXT,
			matched_keywords TEXT,
			article_title TEXT,
			checked_wayback BOOLEAN NOT NULL DEFAULT FALSE,
			title_search_only BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status)`, s.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_date_status_idx ON %[1]s (archive_date, status)`, s.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_url_status_idx ON %[1]s (article_url, status)`, s.records),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			date CHAR(8) PRIMARY KEY,
			articles_found INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			rate_limited INTEGER NOT NULL DEFAULT 0,
			keywords_filtered INTEGER NOT NULL DEFAULT 0,
			execution_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			completed_at TIMESTAMPTZ NOT NULL
		)`, s.progress),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// FilterNew runs one ANY($1) query for the terminal URLs among urls.
func (s *Store) FilterNew(ctx context.Context, urls []string) ([]string, error) {
	unique := store.Dedupe(urls)
	if len(unique) == 0 {
		return []string{}, nil
	}
	query := fmt.Sprintf(
		`SELECT article_url FROM %s WHERE article_url = ANY($1) AND status = ANY($2)`, s.records)
	rows, err := s.pool.Query(ctx, query, unique, statusStrings(store.TerminalStatuses()))
	if err != nil {
		return nil, fmt.Errorf("query terminal urls: %w", err)
	}
	defer rows.Close()

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

// UpsertBatch writes every record inside one transaction.
func (s *Store) UpsertBatch(ctx context.Context, records []store.ArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert batch: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (
			article_url, wayback_url, archive_date, status, http_status, error_message,
			matched_keywords, article_title, checked_wayback, title_search_only, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (article_url) DO UPDATE SET
			wayback_url = COALESCE(EXCLUDED.wayback_url, %[1]s.wayback_url),
			archive_date = EXCLUDED.archive_date,
			status = EXCLUDED.status,
			http_status = EXCLUDED.http_status,
			error_message = EXCLUDED.error_message,
			matched_keywords = COALESCE(EXCLUDED.matched_keywords, %[1]s.matched_keywords),
			article_title = COALESCE(EXCLUDED.article_title, %[1]s.article_title),
			checked_wayback = EXCLUDED.checked_wayback,
			title_search_only = EXCLUDED.title_search_only,
			updated_at = EXCLUDED.updated_at`, s.records)

	now := s.now()
	for _, rec := range records {
		if _, err := tx.Exec(ctx, query,
			rec.ArticleURL, rec.WaybackURL, rec.ArchiveDate, string(rec.Status), rec.HTTPStatus,
			rec.ErrorMessage, rec.MatchedKeywords, rec.ArticleTitle, rec.CheckedWayback,
			rec.TitleSearchOnly, now,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert record %s: %w", rec.ArticleURL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit upsert batch: %w", err)
	}
	return nil
}

// RecordDailyProgress upserts the row for p.Date.
func (s *Store) RecordDailyProgress(ctx context.Context, p store.DailyProgress) error {
	if len(p.Date) != 8 {
		return fmt.Errorf("record daily progress: date %q must be YYYYMMDD", p.Date)
	}
	completed := p.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (date, articles_found, archived, failed, rate_limited,
			keywords_filtered, execution_time, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date) DO UPDATE SET
			articles_found = EXCLUDED.articles_found,
			archived = EXCLUDED.archived,
			failed = EXCLUDED.failed,
			rate_limited = EXCLUDED.rate_limited,
			keywords_filtered = EXCLUDED.keywords_filtered,
			execution_time = EXCLUDED.execution_time,
			completed_at = EXCLUDED.completed_at`, s.progress)
	_, err := s.pool.Exec(ctx, query,
		p.Date, p.ArticlesFound, p.ArticlesArchived, p.ArticlesFailed, p.ArticlesRateLimited,
		p.KeywordsFiltered, p.ExecutionTime, completed)
	if err != nil {
		return fmt.Errorf("upsert daily progress %s: %w", p.Date, err)
	}
	return nil
}

// GetStatistics aggregates counts by status plus the covered date range.
func (s *Store) GetStatistics(ctx context.Context) (store.Statistics, error) {
	stats := store.Statistics{ByStatus: make(map[store.Status]int)}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, s.records))
	if err != nil {
		return stats, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[store.Status(status)] = int(count)
		stats.Total += int(count)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate status counts: %w", err)
	}

	var days int64
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COALESCE(MIN(archive_date), ''), COALESCE(MAX(archive_date), ''),
			(SELECT COUNT(*) FROM %s)
		FROM %s`, s.progress, s.records)).Scan(&stats.FirstDate, &stats.LastDate, &days)
	if err != nil {
		return stats, fmt.Errorf("query date range: %w", err)
	}
	stats.DaysRecorded = int(days)
	return stats, nil
}

// GetRecord loads one record or returns store.ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, articleURL string) (store.ArchiveRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE article_url = $1`, recordColumns, s.records)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, articleURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ArchiveRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ArchiveRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetDailyProgress loads one date or returns store.ErrNotFound.
func (s *Store) GetDailyProgress(ctx context.Context, date string) (store.DailyProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE date = $1`, progressColumns, s.progress)
	p, err := scanProgress(s.pool.QueryRow(ctx, query, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.DailyProgress{}, store.ErrNotFound
	}
	if err != nil {
		return store.DailyProgress{}, fmt.Errorf("get daily progress: %w", err)
	}
	return p, nil
}

// ListDailyProgress returns rows within the inclusive bounds, oldest first.
func (s *Store) ListDailyProgress(ctx context.Context, startDate, endDate string) ([]store.DailyProgress, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE ($1 = '' OR date >= $1) AND ($2 = '' OR date <= $2)
		ORDER BY date`, progressColumns, s.progress)
	rows, err := s.pool.Query(ctx, query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("list daily progress: %w", err)
	}
	defer rows.Close()

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
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE ($1 = '' OR archive_date >= $1) AND ($2 = '' OR archive_date <= $2)
			AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		ORDER BY archive_date, article_url`, recordColumns, s.records)
	rows, err := s.pool.Query(ctx, query, filter.StartDate, filter.EndDate, statusStrings(filter.Statuses))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

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

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const recordColumns = `article_url, wayback_url, archive_date, status, http_status, error_message,
	matched_keywords, article_title, checked_wayback, title_search_only, created_at, updated_at`

const progressColumns = `date, articles_found, archived, failed, rate_limited, keywords_filtered,
	execution_time, completed_at`

func scanRecord(row pgx.Row) (store.ArchiveRecord, error) {
	var (
		rec        store.ArchiveRecord
		status     string
		httpStatus *int32
	)
	err := row.Scan(&rec.ArticleURL, &rec.WaybackURL, &rec.ArchiveDate, &status, &httpStatus,
		&rec.ErrorMessage, &rec.MatchedKeywords, &rec.ArticleTitle, &rec.CheckedWayback,
		&rec.TitleSearchOnly, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return store.ArchiveRecord{}, err
	}
	rec.Status = store.Status(status)
	if httpStatus != nil {
		code := int(*httpStatus)
		rec.HTTPStatus = &code
	}
	return rec, nil
}

func scanProgress(row pgx.Row) (store.DailyProgress, error) {
	var (
		p                                          store.DailyProgress
		found, archived, failed, limited, filtered int32
	)
	err := row.Scan(&p.Date, &found, &archived, &failed, &limited, &filtered, &p.ExecutionTime, &p.CompletedAt)
	if err != nil {
		return store.DailyProgress{}, err
	}
	p.ArticlesFound = int(found)
	p.ArticlesArchived = int(archived)
	p.ArticlesFailed = int(failed)
	p.ArticlesRateLimited = int(limited)
	p.KeywordsFiltered = int(filtered)
	return p, nil
}

func statusStrings(statuses []store.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}

var _ store.Store = (*Store)(nil)
