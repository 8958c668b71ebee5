// Package pipeline drives discovery, filtering, archiving and persistence for
// one publication date or a range of them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-news-archiver/internal/clock/system"
	"github.com/JakeFAU/wayback-news-archiver/internal/discovery"
	idgen "github.com/JakeFAU/wayback-news-archiver/internal/id/uuid"
	"github.com/JakeFAU/wayback-news-archiver/internal/keyword"
	"github.com/JakeFAU/wayback-news-archiver/internal/progress"
	"github.com/JakeFAU/wayback-news-archiver/internal/store"
	"github.com/JakeFAU/wayback-news-archiver/internal/wayback"
)

const (
	defaultBatchSize    = 20
	defaultFlushTimeout = 30 * time.Second
)

var tracer = otel.Tracer("github.com/JakeFAU/wayback-news-archiver/internal/pipeline")

// Archiver submits a single URL. Implementations fold every failure into the outcome.
type Archiver interface {
	Archive(ctx context.Context, articleURL string) wayback.Outcome
}

// KeywordFilter narrows candidates to the ones worth archiving.
type KeywordFilter interface {
	Active() bool
	Apply(ctx context.Context, urls []string) ([]keyword.Match, int, error)
}

// Config tunes batching and limits.
type Config struct {
	// BatchSize is the number of records per UpsertBatch call.
	BatchSize int
	// DailyLimit truncates a date's candidates; 0 means unlimited.
	DailyLimit int
	// FilterAfterDedupe runs the keyword filter only on URLs not yet archived.
	FilterAfterDedupe bool
	// FlushTimeout bounds the final writes of a date after ctx is canceled.
	FlushTimeout time.Duration
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Discoverer discovery.Discoverer
	Archiver   Archiver
	// Filter is optional.
	Filter  KeywordFilter
	Store   store.Store
	Emitter progress.Emitter
	Clock   store.Clock
	Logger  *zap.Logger
	// RunID tags progress events; uuid.Nil generates one.
	RunID uuid.UUID
}

// Orchestrator processes dates sequentially. It is not safe for concurrent use.
type Orchestrator struct {
	cfg        Config
	discoverer discovery.Discoverer
	archiver   Archiver
	filter     KeywordFilter
	store      store.Store
	emitter    progress.Emitter
	clock      store.Clock
	logger     *zap.Logger
	runID      uuid.UUID
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Discoverer == nil:
		return nil, errors.New("pipeline requires a discoverer")
	case deps.Archiver == nil:
		return nil, errors.New("pipeline requires an archiver")
	case deps.Store == nil:
		return nil, errors.New("pipeline requires a store")
	case deps.Clock == nil:
		return nil, errors.New("pipeline requires a clock")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RunID == uuid.Nil {
		id, err := idgen.NewRunID()
		if err != nil {
			return nil, fmt.Errorf("run id: %w", err)
		}
		deps.RunID = id
	}
	return &Orchestrator{
		cfg:        cfg,
		discoverer: deps.Discoverer,
		archiver:   deps.Archiver,
		filter:     deps.Filter,
		store:      deps.Store,
		emitter:    deps.Emitter,
		clock:      deps.Clock,
		logger:     deps.Logger.With(zap.String("run_id", deps.RunID.String())),
		runID:      deps.RunID,
	}, nil
}

// RunID identifies this orchestrator's events.
func (o *Orchestrator) RunID() uuid.UUID {
	return o.runID
}

// ProcessRange processes every date from start to end inclusive, in order.
// A failing date never stops later ones; cancellation does.
func (o *Orchestrator) ProcessRange(ctx context.Context, start, end time.Time) RangeSummary {
	began := o.clock.Now()
	days := DateRange(start, end)
	summary := RangeSummary{
		StartDate: system.Midnight(start).Format(dateLayout),
		EndDate:   system.Midnight(end).Format(dateLayout),
	}
	for _, day := range days {
		if ctx.Err() != nil {
			o.logger.Warn("range interrupted", zap.String("next_date", day.Format(dateLayout)), zap.Error(ctx.Err()))
			break
		}
		summary.add(o.ProcessDate(ctx, day))
	}
	summary.Duration = o.clock.Now().Sub(began)
	o.logger.Info("range complete",
		zap.String("start", summary.StartDate),
		zap.String("end", summary.EndDate),
		zap.Int("days", len(summary.Days)),
		zap.Int("found", summary.Found),
		zap.Int("archived", summary.Archived),
		zap.Int("failed", summary.Failed),
		zap.Int("rate_limited", summary.RateLimited),
		zap.Int("filtered", summary.Filtered),
		zap.Duration("duration", summary.Duration))
	return summary
}

const dateLayout = "20060102"

// ProcessDate runs one date end to end and returns its progress row. Errors
// from individual URLs, batch writes or the progress write are logged, never returned.
// A date cut short by ctx still flushes finished records but writes no progress
// row; the returned row has a zero CompletedAt.
func (o *Orchestrator) ProcessDate(ctx context.Context, date time.Time) store.DailyProgress {
	began := o.clock.Now()
	day := date.Format(dateLayout)
	ctx, span := tracer.Start(ctx, "pipeline.ProcessDate",
		trace.WithAttributes(attribute.String("archive.date", day)))
	defer span.End()
	logger := o.logger.With(zap.String("date", day))
	o.emit(progress.Event{Stage: progress.StageDateStart, Date: day})

	var t tally
	candidates, err := o.discoverer.Discover(ctx, date)
	if err != nil {
		logger.Error("discovery failed", zap.Error(err))
		candidates = nil
	}
	t.found = len(candidates)
	logger.Info("discovered articles", zap.Int("count", t.found))

	if o.cfg.DailyLimit > 0 && len(candidates) > o.cfg.DailyLimit {
		logger.Info("applying daily limit",
			zap.Int("limit", o.cfg.DailyLimit),
			zap.Int("dropped", len(candidates)-o.cfg.DailyLimit))
		candidates = candidates[:o.cfg.DailyLimit]
	}

	filterActive := o.filter != nil && o.filter.Active()
	var matches map[string]keyword.Match
	if filterActive && !o.cfg.FilterAfterDedupe {
		candidates, matches, t.filtered = o.applyFilter(ctx, logger, candidates)
	}

	remaining, err := o.store.FilterNew(ctx, candidates)
	if err != nil {
		logger.Warn("dedupe query failed, treating all urls as new", zap.Error(err))
		remaining = store.Dedupe(candidates)
	}
	logger.Info("pending after dedupe",
		zap.Int("pending", len(remaining)),
		zap.Int("already_archived", len(store.Dedupe(candidates))-len(remaining)))

	if filterActive && o.cfg.FilterAfterDedupe {
		remaining, matches, t.filtered = o.applyFilter(ctx, logger, remaining)
	}

	batch := make([]store.ArchiveRecord, 0, o.cfg.BatchSize)
	interrupted := false
	for _, articleURL := range remaining {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		out := o.archiver.Archive(ctx, articleURL)
		if ctx.Err() != nil && !out.Status.Terminal() {
			// The outcome reflects the cancellation, not the URL; leave it new.
			interrupted = true
			break
		}
		if !out.Status.Valid() {
			out.Status = store.StatusError
		}
		t.add(out.Status)
		o.logOutcome(logger, articleURL, out)
		o.emit(progress.Event{
			Stage:      progress.StageURLDone,
			Date:       day,
			URL:        articleURL,
			Status:     out.Status,
			HTTPStatus: deref(out.HTTPStatus),
			Attempts:   out.Attempts,
		})

		batch = append(batch, o.record(articleURL, day, out, matches[articleURL]))
		if len(batch) >= o.cfg.BatchSize {
			o.flush(ctx, logger, day, batch)
			batch = make([]store.ArchiveRecord, 0, o.cfg.BatchSize)
		}
	}

	writeCtx, cancel := o.writeContext(ctx)
	defer cancel()
	o.flush(writeCtx, logger, day, batch)

	now := o.clock.Now()
	elapsed := now.Sub(began)
	if interrupted {
		result := t.progress(day, elapsed, time.Time{})
		span.SetAttributes(attribute.Bool("archive.interrupted", true))
		logger.Warn("date interrupted, progress row not recorded",
			zap.Int("archived", result.ArticlesArchived),
			zap.Int("failed", result.ArticlesFailed),
			zap.Error(ctx.Err()))
		return result
	}
	result := t.progress(day, elapsed, now)
	if err := o.store.RecordDailyProgress(writeCtx, result); err != nil {
		logger.Error("record daily progress failed", zap.Error(err))
	}
	o.emit(progress.Event{Stage: progress.StageDateDone, Date: day, Dur: elapsed, Summary: &result})
	span.SetAttributes(
		attribute.Int("archive.found", result.ArticlesFound),
		attribute.Int("archive.archived", result.ArticlesArchived),
		attribute.Int("archive.failed", result.ArticlesFailed),
	)

	logger.Info("date complete",
		zap.Int("found", result.ArticlesFound),
		zap.Int("archived", result.ArticlesArchived),
		zap.Int("failed", result.ArticlesFailed),
		zap.Int("rate_limited", result.ArticlesRateLimited),
		zap.Int("filtered", result.KeywordsFiltered),
		zap.Float64("seconds", result.ExecutionTime))
	return result
}

func (o *Orchestrator) applyFilter(
	ctx context.Context,
	logger *zap.Logger,
	urls []string,
) ([]string, map[string]keyword.Match, int) {
	accepted, rejected, err := o.filter.Apply(ctx, urls)
	if err != nil {
		logger.Warn("keyword filter aborted", zap.Error(err))
		return nil, nil, 0
	}
	kept := make([]string, 0, len(accepted))
	meta := make(map[string]keyword.Match, len(accepted))
	for _, m := range accepted {
		kept = append(kept, m.URL)
		meta[m.URL] = m
	}
	return kept, meta, rejected
}

func (o *Orchestrator) record(articleURL, day string, out wayback.Outcome, m keyword.Match) store.ArchiveRecord {
	return store.ArchiveRecord{
		ArticleURL:      articleURL,
		WaybackURL:      out.WaybackURL,
		ArchiveDate:     day,
		Status:          out.Status,
		HTTPStatus:      out.HTTPStatus,
		ErrorMessage:    out.ErrorMessage,
		MatchedKeywords: m.Keywords(),
		ArticleTitle:    m.Title,
		CheckedWayback:  out.CheckedWayback,
		TitleSearchOnly: m.TitleSearchOnly,
	}
}

func (o *Orchestrator) flush(ctx context.Context, logger *zap.Logger, day string, batch []store.ArchiveRecord) {
	if len(batch) == 0 {
		return
	}
	err := o.store.UpsertBatch(ctx, batch)
	if err != nil {
		urls := make([]string, len(batch))
		for i, rec := range batch {
			urls[i] = rec.ArticleURL
		}
		logger.Error("batch write failed, records lost",
			zap.Int("count", len(batch)),
			zap.Strings("urls", urls),
			zap.Error(err))
		o.emit(progress.Event{Stage: progress.StageBatchFailed, Date: day, Count: len(batch), Note: err.Error()})
		return
	}
	logger.Debug("batch flushed", zap.Int("count", len(batch)))
	o.emit(progress.Event{Stage: progress.StageBatchFlushed, Date: day, Count: len(batch)})
}

// writeContext keeps end-of-date writes alive briefly when ctx is already done.
func (o *Orchestrator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FlushTimeout)
}

func (o *Orchestrator) logOutcome(logger *zap.Logger, articleURL string, out wayback.Outcome) {
	fields := []zap.Field{
		zap.String("url", articleURL),
		zap.String("status", string(out.Status)),
		zap.Int("http_status", deref(out.HTTPStatus)),
		zap.Int("attempts", out.Attempts),
	}
	if out.ErrorMessage != nil {
		fields = append(fields, zap.String("error", *out.ErrorMessage))
	}
	switch {
	case out.Status.Terminal():
		logger.Info("archived", fields...)
	case out.Status == store.StatusRateLimited:
		logger.Warn("rate limited", fields...)
	default:
		logger.Warn("archive failed", fields...)
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	evt.RunID = o.runID
	evt.TS = o.clock.Now()
	o.emitter.Emit(evt)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
