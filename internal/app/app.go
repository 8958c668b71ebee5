// Package app builds the archiver's long-lived services from configuration and
// hands them to the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-news-archiver/internal/api"
	"github.com/JakeFAU/wayback-news-archiver/internal/clock/system"
	"github.com/JakeFAU/wayback-news-archiver/internal/config"
	"github.com/JakeFAU/wayback-news-archiver/internal/discovery"
	"github.com/JakeFAU/wayback-news-archiver/internal/export"
	collyfetcher "github.com/JakeFAU/wayback-news-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/wayback-news-archiver/internal/keyword"
	"github.com/JakeFAU/wayback-news-archiver/internal/logging"
	"github.com/JakeFAU/wayback-news-archiver/internal/pipeline"
	"github.com/JakeFAU/wayback-news-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/wayback-news-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/wayback-news-archiver/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/wayback-news-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/wayback-news-archiver/internal/storage"
	gcsstorage "github.com/JakeFAU/wayback-news-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/wayback-news-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/wayback-news-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/wayback-news-archiver/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/wayback-news-archiver/internal/storage/sqlite"
	"github.com/JakeFAU/wayback-news-archiver/internal/store"
	"github.com/JakeFAU/wayback-news-archiver/internal/telemetry"
	"github.com/JakeFAU/wayback-news-archiver/internal/wayback"
)

// Version is stamped into trace resources; overridden at link time.
var Version = "dev"

// Option customizes construction, mostly for tests.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	transport  http.RoundTripper
	store      store.Store
	publisher  progresssinks.Publisher
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithRegisterer registers progress collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTransport replaces the pooled base transport under the rate gate.
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// WithStore replaces the configured store. The App takes ownership and closes it.
func WithStore(s store.Store) Option { return func(o *options) { o.store = s } }

// WithPublisher replaces the Pub/Sub publisher for DATE_DONE announcements.
func WithPublisher(p progresssinks.Publisher) Option { return func(o *options) { o.publisher = p } }

// App holds the shared services for one CLI invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	limiter    *ratelimit.Limiter
	fetcher    *collyfetcher.Fetcher
	wayback    *wayback.Client
	discoverer discovery.Discoverer
	filter     *keyword.Filter
	store      store.Store
	publisher  progresssinks.Publisher
	hub        *progress.Hub
	pubsub     *gcppublisher.Publisher
	ops        *api.Server
	tracer     *sdktrace.TracerProvider
	exportGCS  *gcsstorage.BlobStore
}

// New creates the application's dependencies. On error everything built so
// far is released.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if cfg.Telemetry.TracingEnabled {
		a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: "wayback-news-archiver",
			Version:     Version,
			ProjectID:   cfg.Telemetry.ProjectID,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	a.setupHTTP(o.transport)
	if err = a.setupDiscovery(); err != nil {
		return nil, err
	}
	a.setupFilter()

	if o.store != nil {
		a.store = o.store
	} else if a.store, err = openStore(ctx, cfg.Store, a.clock, logger); err != nil {
		return nil, err
	}

	if err = a.setupProgress(ctx, o.registerer, o.publisher); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.ops = api.NewServer(api.Config{Addr: cfg.Metrics.Addr}, a.ready, logger.Named("api"))
	}

	logger.Debug("application built",
		zap.String("store", cfg.Store.Driver),
		zap.String("discovery", cfg.Discovery.Strategy),
		zap.Bool("keywords", a.filter.Active()),
		zap.Duration("rate_limit_delay", cfg.Archiving.RateLimitDelay))
	return a, nil
}

// setupHTTP puts every outbound request behind one gate: source fetches,
// availability checks and save submissions share the interval.
func (a *App) setupHTTP(base http.RoundTripper) {
	if base == nil {
		base = wayback.NewTransport(a.cfg.Archiving.Timeout)
	}
	a.limiter = ratelimit.New(ratelimit.Config{Interval: a.cfg.Archiving.RateLimitDelay})
	gated := a.limiter.Transport(base)

	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Source.UserAgent,
		Timeout:   a.cfg.Archiving.Timeout,
	}, gated)
	a.wayback = wayback.New(wayback.Config{
		UserAgent:     a.cfg.Source.UserAgent,
		VerifyFirst:   a.cfg.Archiving.VerifyFirst,
		MaxRetries:    a.cfg.Archiving.MaxRetries,
		RetryDelay:    a.cfg.Archiving.RetryDelay,
		MaxRetryDelay: a.cfg.Archiving.MaxRetryDelay,
	}, gated, a.logger.Named("wayback"))
}

func (a *App) setupDiscovery() error {
	d, err := discovery.New(discovery.Config{
		BaseURL:              a.cfg.Source.BaseURL,
		Strategy:             a.cfg.Discovery.Strategy,
		FallbackToBruteForce: a.cfg.Discovery.FallbackToBruteForce,
		Prefixes:             a.cfg.Discovery.Prefixes,
		MaxSuffix:            a.cfg.Discovery.MaxSuffix,
	}, a.fetcher, a.logger.Named("discovery"))
	if err != nil {
		return fmt.Errorf("discovery init failed: %w", err)
	}
	a.discoverer = d
	return nil
}

func (a *App) setupFilter() {
	k := a.cfg.Keywords
	a.filter = keyword.New(keyword.Config{
		Enabled:         k.Enabled,
		Terms:           k.Terms,
		CaseSensitive:   k.CaseSensitive,
		Logic:           keyword.Logic(strings.ToLower(k.Logic)),
		SearchContent:   k.SearchContent,
		ParallelWorkers: k.ParallelWorkers,
		WaybackFirst:    k.WaybackFirst,
		WebBase:         wayback.DefaultWebBase,
	}, a.fetcher, a.logger.Named("keywords"))
}

func openStore(ctx context.Context, cfg config.StoreConfig, clock store.Clock, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory store; results are discarded on exit")
		return memorystorage.NewArchiveStore(clock), nil
	case config.DriverPostgres:
		s, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)}, clock) // #nosec G115 -- small config value
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		logger.Info("using postgres store")
		return s, nil
	default:
		s, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.Path}, clock)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("using sqlite store", zap.String("path", cfg.Path))
		return s, nil
	}
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer, pub progresssinks.Publisher) error {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	topic := a.cfg.PubSub.Topic
	if pub == nil && topic != "" {
		a.pubsub, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, topic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		pub = a.pubsub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", topic))
	}
	if pub != nil {
		sinkList = append(sinkList, progresssinks.NewPublishSink(pub, topic, a.logger.Named("progress_publish")))
	}

	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	return nil
}

// ready probes the store with a cheap keyed lookup.
func (a *App) ready(ctx context.Context) error {
	_, err := a.store.GetDailyProgress(ctx, "19700101")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the archive store.
func (a *App) Store() store.Store { return a.store }

// Discoverer returns the configured URL discoverer.
func (a *App) Discoverer() discovery.Discoverer { return a.discoverer }

// Wayback returns the save client.
func (a *App) Wayback() *wayback.Client { return a.wayback }

// Filter returns the keyword filter; it may be inactive.
func (a *App) Filter() *keyword.Filter { return a.filter }

// Orchestrator wires a pipeline over the app's services.
func (a *App) Orchestrator() (*pipeline.Orchestrator, error) {
	o, err := pipeline.New(pipeline.Config{
		BatchSize:         a.cfg.Archiving.BatchSize,
		DailyLimit:        a.cfg.Archiving.DailyLimit,
		FilterAfterDedupe: a.cfg.Keywords.FilterAfterDedupe,
	}, pipeline.Deps{
		Discoverer: a.discoverer,
		Archiver:   a.wayback,
		Filter:     a.filter,
		Store:      a.store,
		Emitter:    a.hub,
		Clock:      a.clock,
		Logger:     a.logger.Named("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	return o, nil
}

// Exporter builds the CSV exporter on the configured blob backend. The GCS
// client is created on first use.
func (a *App) Exporter(ctx context.Context) (*export.Exporter, error) {
	var blobs storage.BlobStore
	switch a.cfg.Export.Backend {
	case config.BackendGCS:
		if a.exportGCS == nil {
			s, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Export.Bucket, Prefix: a.cfg.Export.Prefix})
			if err != nil {
				return nil, fmt.Errorf("gcs blob store init failed: %w", err)
			}
			a.exportGCS = s
		}
		blobs = a.exportGCS
	default:
		s, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Export.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = s
	}
	exp, err := export.New(export.Config{
		HighPriority:   a.cfg.Export.HighPriority,
		MediumPriority: a.cfg.Export.MediumPriority,
	}, a.store, blobs, a.logger.Named("export"))
	if err != nil {
		return nil, fmt.Errorf("exporter init failed: %w", err)
	}
	return exp, nil
}

// StartMetrics serves /metrics, /healthz and /readyz when metrics are enabled.
func (a *App) StartMetrics() error {
	if a.ops == nil {
		return nil
	}
	if err := a.ops.Start(); err != nil {
		return fmt.Errorf("metrics server start failed: %w", err)
	}
	return nil
}

// MetricsAddr is the bound metrics address, or "" when not serving.
func (a *App) MetricsAddr() string {
	if a.ops == nil {
		return ""
	}
	return a.ops.Addr()
}

// Close flushes progress sinks, stops the publisher, closes the store and
// shuts down the metrics server and tracer. Every step runs; errors are joined.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ops != nil {
		if err := a.ops.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.exportGCS != nil {
		if err := a.exportGCS.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
