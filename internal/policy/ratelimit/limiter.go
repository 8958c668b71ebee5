// Package ratelimit implements the process-wide gate every outbound request passes.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/wayback-news-archiver/internal/metrics"
)

// Limiter spaces gate passes at least Interval apart. Burst is fixed at 1:
// after any idle period only a single caller proceeds without waiting.
// Spacing is measured between actual returns, so a caller that wakes late
// pushes the next pass back instead of shortening the gap.
type Limiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	// turn admits one waiter at a time; the holder owns last.
	turn chan struct{}
	last time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	Interval time.Duration
}

// New creates a Limiter. A non-positive interval disables waiting.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Limiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: cfg.Interval,
		turn:     make(chan struct{}, 1),
	}
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire blocks until the gate opens or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.wait(ctx, "direct")
}

func (l *Limiter) wait(ctx context.Context, host string) error {
	start := time.Now()
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
	defer func() { <-l.turn }()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if !l.last.IsZero() {
		if err := sleepCtx(ctx, l.interval-time.Since(l.last)); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	l.last = time.Now()

	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transport wraps base so each request acquires the gate before it is sent.
func (l *Limiter) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &gatedTransport{base: base, limiter: l}
}

type gatedTransport struct {
	base    http.RoundTripper
	limiter *Limiter
}

func (t *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.wait(req.Context(), req.URL.Hostname()); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	metrics.ObserveHTTPRequest(req.Method, req.URL.Hostname(), resp.StatusCode)
	return resp, nil
}
