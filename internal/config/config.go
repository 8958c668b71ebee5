// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/JakeFAU/wayback-news-archiver/internal/discovery"
	"github.com/JakeFAU/wayback-news-archiver/internal/export"
	"github.com/JakeFAU/wayback-news-archiver/internal/wayback"
)

// EnvPrefix is prepended to every environment override, e.g. ARCHIVER_STORE_DRIVER.
const EnvPrefix = "ARCHIVER"

// Config captures all archiver configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Source    SourceConfig    `mapstructure:"source"`
	Archiving ArchivingConfig `mapstructure:"archiving"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Keywords  KeywordsConfig  `mapstructure:"keywords"`
	Store     StoreConfig     `mapstructure:"store"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Export    ExportConfig    `mapstructure:"export"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig describes the news site.
type SourceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// ArchivingConfig governs the gate, the save client and batching.
type ArchivingConfig struct {
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay  time.Duration `mapstructure:"max_retry_delay"`
	VerifyFirst    bool          `mapstructure:"verify_first"`
	BatchSize      int           `mapstructure:"batch_size"`
	DailyLimit     int           `mapstructure:"daily_limit"`
}

// DiscoveryConfig selects how candidate URLs are produced for a date.
type DiscoveryConfig struct {
	Strategy             string   `mapstructure:"strategy"`
	FallbackToBruteForce bool     `mapstructure:"fallback_to_bruteforce"`
	Prefixes             []string `mapstructure:"prefixes"`
	MaxSuffix            int      `mapstructure:"max_suffix"`
}

// KeywordsConfig controls the optional keyword filter.
type KeywordsConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Terms             []string `mapstructure:"terms"`
	CaseSensitive     bool     `mapstructure:"case_sensitive"`
	Logic             string   `mapstructure:"logic"`
	SearchContent     bool     `mapstructure:"search_content"`
	ParallelWorkers   int      `mapstructure:"parallel_workers"`
	WaybackFirst      bool     `mapstructure:"wayback_first"`
	FilterAfterDedupe bool     `mapstructure:"filter_after_dedupe"`
}

// StoreConfig picks the archive store backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// PubSubConfig holds the date-completed notification topic. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ExportConfig selects where CSV exports land and how rows are prioritized.
type ExportConfig struct {
	Backend        string   `mapstructure:"backend"`
	BaseDir        string   `mapstructure:"base_dir"`
	Bucket         string   `mapstructure:"bucket"`
	Prefix         string   `mapstructure:"prefix"`
	HighPriority   []string `mapstructure:"high_priority"`
	MediumPriority []string `mapstructure:"medium_priority"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ProjectID      string  `mapstructure:"project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Export backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Load builds a Config from defaults, the optional file at path and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("source.base_url", discovery.DefaultBaseURL)
	v.SetDefault("source.user_agent", wayback.DefaultUserAgent)

	v.SetDefault("archiving.rate_limit_delay", "3s")
	v.SetDefault("archiving.timeout", "30s")
	v.SetDefault("archiving.max_retries", 3)
	v.SetDefault("archiving.retry_delay", "10s")
	v.SetDefault("archiving.max_retry_delay", "60s")
	v.SetDefault("archiving.verify_first", false)
	v.SetDefault("archiving.batch_size", 20)
	v.SetDefault("archiving.daily_limit", 2000)

	v.SetDefault("discovery.strategy", discovery.StrategyIndex)
	v.SetDefault("discovery.fallback_to_bruteforce", true)
	v.SetDefault("discovery.prefixes", discovery.DefaultPrefixes())
	v.SetDefault("discovery.max_suffix", discovery.DefaultMaxSuffix)

	v.SetDefault("keywords.enabled", false)
	v.SetDefault("keywords.terms", []string{})
	v.SetDefault("keywords.case_sensitive", false)
	v.SetDefault("keywords.logic", "or")
	v.SetDefault("keywords.search_content", false)
	v.SetDefault("keywords.parallel_workers", 2)
	v.SetDefault("keywords.wayback_first", true)
	v.SetDefault("keywords.filter_after_dedupe", true)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "hkga_archive.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("export.backend", BackendLocal)
	v.SetDefault("export.base_dir", "exports")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("export.high_priority", export.DefaultHighPriority())
	v.SetDefault("export.medium_priority", export.DefaultMediumPriority())

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	a := c.Archiving
	if a.RateLimitDelay <= 0 || a.RateLimitDelay > 60*time.Second {
		return fmt.Errorf("archiving.rate_limit_delay must be in (0, 60s]")
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("archiving.timeout must be > 0")
	}
	if a.MaxRetries < 1 {
		return fmt.Errorf("archiving.max_retries must be >= 1")
	}
	if a.RetryDelay < 0 || a.MaxRetryDelay < a.RetryDelay {
		return fmt.Errorf("archiving.max_retry_delay must be >= archiving.retry_delay >= 0")
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("archiving.batch_size must be > 0")
	}
	if a.DailyLimit < 0 {
		return fmt.Errorf("archiving.daily_limit must be >= 0")
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}

	switch c.Discovery.Strategy {
	case discovery.StrategyIndex, discovery.StrategyBruteForce:
	default:
		return fmt.Errorf("discovery.strategy must be %q or %q", discovery.StrategyIndex, discovery.StrategyBruteForce)
	}
	if c.Discovery.MaxSuffix < 1 {
		return fmt.Errorf("discovery.max_suffix must be >= 1")
	}
	if c.Discovery.Strategy == discovery.StrategyBruteForce && len(c.Discovery.Prefixes) == 0 {
		return fmt.Errorf("discovery.prefixes must not be empty for the bruteforce strategy")
	}

	switch strings.ToLower(c.Keywords.Logic) {
	case "or", "and":
	default:
		return fmt.Errorf("keywords.logic must be \"or\" or \"and\"")
	}
	if c.Keywords.ParallelWorkers < 1 {
		return fmt.Errorf("keywords.parallel_workers must be >= 1")
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, memory")
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}

	switch c.Export.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Export.BaseDir) == "" {
			return fmt.Errorf("export.base_dir is required for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Export.Bucket) == "" {
			return fmt.Errorf("export.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("export.backend must be %q or %q", BackendLocal, BackendGCS)
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0, 1]")
	}
	return nil
}

// KeywordsActive reports whether keyword filtering will run.
func (c Config) KeywordsActive() bool {
	return c.Keywords.Enabled && len(c.Keywords.Terms) > 0
}
