package discovery

import (
	"context"
	"fmt"
	"time"
)

// BruteForce enumerates every prefix/number combination without touching the network.
type BruteForce struct {
	baseURL   string
	prefixes  []string
	maxSuffix int
}

// NewBruteForce builds a BruteForce discoverer. Empty prefixes and a
// non-positive maxSuffix fall back to the defaults.
func NewBruteForce(baseURL string, prefixes []string, maxSuffix int) *BruteForce {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes()
	}
	if maxSuffix <= 0 {
		maxSuffix = DefaultMaxSuffix
	}
	return &BruteForce{
		baseURL:   normalizeBase(baseURL),
		prefixes:  append([]string(nil), prefixes...),
		maxSuffix: maxSuffix,
	}
}

// Discover returns len(prefixes)*maxSuffix URLs in prefix-major order.
func (b *BruteForce) Discover(_ context.Context, date time.Time) ([]string, error) {
	dir := dateDir(b.baseURL, date)
	urls := make([]string, 0, len(b.prefixes)*b.maxSuffix)
	for _, prefix := range b.prefixes {
		for n := 1; n <= b.maxSuffix; n++ {
			urls = append(urls, fmt.Sprintf("%s/HK-%s%d_r.htm", dir, prefix, n))
		}
	}
	return urls, nil
}
