package discovery

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var articleLinkPattern = regexp.MustCompile(`htm/News/\d{8}/HK-[^"]+_r\.htm`)

// Index scrapes the daily HK-GA index page for article links.
type Index struct {
	baseURL string
	fetcher Fetcher
	logger  *zap.Logger
}

// NewIndex builds an Index discoverer.
func NewIndex(baseURL string, fetcher Fetcher, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		baseURL: normalizeBase(baseURL),
		fetcher: fetcher,
		logger:  logger,
	}
}

// IndexURL is the index page for date.
func (d *Index) IndexURL(date time.Time) string {
	return dateDir(d.baseURL, date) + "/HK-GAindex_r.htm"
}

// Discover fetches and parses the index page. Any failure yields zero URLs and
// a nil error so a fallback can take over.
func (d *Index) Discover(ctx context.Context, date time.Time) ([]string, error) {
	indexURL := d.IndexURL(date)
	resp, err := d.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		d.logger.Warn("index fetch failed", zap.String("url", indexURL), zap.Error(err))
		return nil, nil
	}
	if !resp.OK() {
		d.logger.Warn("index page unavailable",
			zap.String("url", indexURL),
			zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	urls, err := extractArticleLinks(indexURL, resp.Body)
	if err != nil {
		d.logger.Warn("index parse failed", zap.String("url", indexURL), zap.Error(err))
		return nil, nil
	}
	d.logger.Info("index discovery complete",
		zap.String("date", date.Format("20060102")),
		zap.Int("articles", len(urls)))
	return urls, nil
}

// extractArticleLinks returns the sorted, de-duplicated absolute article URLs
// linked from an index page at pageURL.
func extractArticleLinks(pageURL string, body []byte) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !articleLinkPattern.MatchString(href) {
			return
		}
		if strings.Contains(strings.ToLower(href), "index") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		seen[abs.String()] = struct{}{}
	})

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, nil
}
