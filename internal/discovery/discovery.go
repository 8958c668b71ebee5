// Package discovery produces the candidate article URLs for a publication date.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/wayback-news-archiver/internal/fetcher/colly"
)

// DefaultBaseURL is the Toronto edition root the article paths hang off.
const DefaultBaseURL = "http://www.mingpaocanada.com/tor"

// DefaultMaxSuffix is the highest article number tried per prefix.
const DefaultMaxSuffix = 8

// Strategy names accepted by New.
const (
	StrategyIndex      = "index"
	StrategyBruteForce = "bruteforce"
)

// DefaultPrefixes returns the known HK-GA category prefixes.
func DefaultPrefixes() []string {
	return []string{
		"gaa", "gab", "gac", "gad", "gae", "gaf",
		"gba", "gbb", "gbc", "gbd", "gbe", "gbf",
		"gca", "gcb", "gcc", "gcd", "gce", "gcf",
		"gga", "ggb", "ggc", "ggd", "gge", "ggf", "ggh",
		"gha", "ghb", "ghc", "ghd",
		"gma", "gmb",
	}
}

// Discoverer yields candidate article URLs for one date.
type Discoverer interface {
	Discover(ctx context.Context, date time.Time) ([]string, error)
}

// Fetcher is the subset of the colly fetcher discovery needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (collyfetcher.Response, error)
}

// Config selects and tunes the discovery strategy.
type Config struct {
	BaseURL              string
	Strategy             string
	FallbackToBruteForce bool
	Prefixes             []string
	MaxSuffix            int
}

// New builds the Discoverer named by cfg.Strategy.
func New(cfg Config, fetcher Fetcher, logger *zap.Logger) (Discoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	brute := NewBruteForce(cfg.BaseURL, cfg.Prefixes, cfg.MaxSuffix)

	switch strings.ToLower(cfg.Strategy) {
	case "", StrategyIndex:
		if fetcher == nil {
			return nil, fmt.Errorf("index discovery requires a fetcher")
		}
		index := NewIndex(cfg.BaseURL, fetcher, logger)
		if !cfg.FallbackToBruteForce {
			return index, nil
		}
		return &Fallback{Primary: index, Secondary: brute, Logger: logger}, nil
	case StrategyBruteForce:
		return brute, nil
	default:
		return nil, fmt.Errorf("unknown discovery strategy %q", cfg.Strategy)
	}
}

func dateDir(base string, date time.Time) string {
	return fmt.Sprintf("%s/htm/News/%s", normalizeBase(base), date.Format("20060102"))
}

func normalizeBase(base string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
