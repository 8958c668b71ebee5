package keyword

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	collyfetcher "github.com/JakeFAU/wayback-news-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/wayback-news-archiver/internal/title"
)

const defaultWebBase = "https://web.archive.org"

// Fetcher is the subset of the colly fetcher the filter needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (collyfetcher.Response, error)
}

// Config controls the keyword filter.
type Config struct {
	Enabled         bool
	Terms           []string
	CaseSensitive   bool
	Logic           Logic
	SearchContent   bool
	ParallelWorkers int
	WaybackFirst    bool
	// WebBase hosts the /web/2/ latest-snapshot redirect.
	WebBase string
}

// Match is an accepted URL with the metadata gathered while checking it.
type Match struct {
	URL             string
	Title           *string
	MatchedKeywords []string
	TitleSearchOnly bool
	FromWayback     bool
}

// Keywords returns the comma-joined hits, or nil when there are none.
func (m Match) Keywords() *string {
	if len(m.MatchedKeywords) == 0 {
		return nil
	}
	joined := strings.Join(m.MatchedKeywords, ",")
	return &joined
}

// Filter fetches candidate pages and keeps the ones whose title (or content)
// matches the configured terms.
type Filter struct {
	cfg     Config
	matcher *Matcher
	fetcher Fetcher
	logger  *zap.Logger
}

// New builds a Filter.
func New(cfg Config, fetcher Fetcher, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ParallelWorkers <= 0 {
		cfg.ParallelWorkers = 2
	}
	if cfg.WebBase == "" {
		cfg.WebBase = defaultWebBase
	}
	cfg.WebBase = strings.TrimRight(cfg.WebBase, "/")
	return &Filter{
		cfg:     cfg,
		matcher: NewMatcher(cfg.Terms, cfg.CaseSensitive, cfg.Logic),
		fetcher: fetcher,
		logger:  logger,
	}
}

// Active reports whether Apply will do any filtering.
func (f *Filter) Active() bool {
	return f.cfg.Enabled && len(f.matcher.Terms()) > 0 && f.fetcher != nil
}

// Apply returns the accepted URLs in input order and how many were rejected.
// Per-URL failures reject that URL; only ctx cancellation is returned.
func (f *Filter) Apply(ctx context.Context, urls []string) ([]Match, int, error) {
	if !f.Active() {
		if f.cfg.Enabled {
			f.logger.Warn("keyword filter enabled without terms, accepting all urls")
		}
		matches := make([]Match, len(urls))
		for i, u := range urls {
			matches[i] = Match{URL: u}
		}
		return matches, 0, nil
	}

	results := make([]*Match, len(urls))
	if f.cfg.SearchContent {
		for i, u := range urls {
			if err := ctx.Err(); err != nil {
				return nil, 0, fmt.Errorf("keyword filter canceled: %w", err)
			}
			results[i] = f.evaluate(ctx, u, true)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.cfg.ParallelWorkers)
		for i, u := range urls {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				results[i] = f.evaluate(gctx, u, false)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, fmt.Errorf("keyword filter canceled: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("keyword filter canceled: %w", err)
	}

	matches := make([]Match, 0, len(urls))
	for _, m := range results {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	rejected := len(urls) - len(matches)
	f.logger.Info("keyword filter complete",
		zap.Int("candidates", len(urls)),
		zap.Int("accepted", len(matches)),
		zap.Int("rejected", rejected),
		zap.Bool("search_content", f.cfg.SearchContent))
	return matches, rejected, nil
}

func (f *Filter) evaluate(ctx context.Context, rawURL string, searchContent bool) *Match {
	body, fromWayback, err := f.fetch(ctx, rawURL)
	if err != nil {
		f.logger.Debug("keyword fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}

	headline := title.Extract(body)
	var titleHits []string
	if headline != nil {
		titleHits = f.matcher.Match(*headline)
	}
	if f.matcher.Satisfied(titleHits) {
		return &Match{
			URL:             rawURL,
			Title:           headline,
			MatchedKeywords: titleHits,
			TitleSearchOnly: true,
			FromWayback:     fromWayback,
		}
	}
	if !searchContent {
		return nil
	}

	hits := f.matcher.Union(titleHits, f.matcher.Match(title.Decode(body)))
	if !f.matcher.Satisfied(hits) {
		return nil
	}
	return &Match{
		URL:             rawURL,
		Title:           headline,
		MatchedKeywords: hits,
		FromWayback:     fromWayback,
	}
}

// fetch returns page bytes, trying the latest Wayback snapshot first when configured.
func (f *Filter) fetch(ctx context.Context, rawURL string) ([]byte, bool, error) {
	if f.cfg.WaybackFirst {
		resp, err := f.fetcher.Fetch(ctx, f.cfg.WebBase+"/web/2/"+rawURL)
		switch {
		case err != nil:
			f.logger.Debug("wayback content fetch failed", zap.String("url", rawURL), zap.Error(err))
		case resp.OK() && len(strings.TrimSpace(string(resp.Body))) > 0:
			return resp.Body, true, nil
		}
	}

	resp, err := f.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, false, err
	}
	if !resp.OK() {
		return nil, false, fmt.Errorf("source returned status %d", resp.StatusCode)
	}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil, false, fmt.Errorf("source returned empty body")
	}
	return resp.Body, false, nil
}
