// Package wayback submits article URLs to the Internet Archive save API.
package wayback

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-news-archiver/internal/metrics"
	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

// Default Internet Archive endpoints.
const (
	DefaultWebBase         = "https://web.archive.org"
	DefaultAvailabilityURL = "https://archive.org/wayback/available"
	DefaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

const maxDrainBytes = 64 << 10

// Config controls the save client.
type Config struct {
	// WebBase hosts /save/ and /web/2/. Defaults to DefaultWebBase.
	WebBase string
	// AvailabilityURL is the JSON availability endpoint.
	AvailabilityURL string
	UserAgent       string
	// VerifyFirst consults the availability API before submitting.
	VerifyFirst bool
	// MaxRetries is the total number of save attempts.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.WebBase == "" {
		c.WebBase = DefaultWebBase
	}
	c.WebBase = strings.TrimRight(c.WebBase, "/")
	if c.AvailabilityURL == "" {
		c.AvailabilityURL = DefaultAvailabilityURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	return c
}

// Outcome is the final result of archiving one URL.
type Outcome struct {
	Status         store.Status
	WaybackURL     *string
	HTTPStatus     *int
	ErrorMessage   *string
	Attempts       int
	CheckedWayback bool
}

// Option customizes a Client.
type Option func(*Client)

// WithPauser replaces the timer-based pauser.
func WithPauser(p Pauser) Option {
	return func(c *Client) {
		if p != nil {
			c.pauser = p
		}
	}
}

// WithJitter replaces the crypto jitter source of the retry policy.
func WithJitter(j func(limit time.Duration) time.Duration) Option {
	return func(c *Client) {
		c.policy.Jitter = j
	}
}

// Client talks to the Wayback Machine. All requests go through the supplied
// transport, which is expected to be rate limited.
type Client struct {
	cfg    Config
	http   *http.Client
	policy RetryPolicy
	pauser Pauser
	logger *zap.Logger
}

// New builds a Client on transport.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if transport == nil {
		transport = NewTransport(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport},
		policy: NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay, cfg.MaxRetryDelay),
		pauser: timerPauser{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewTransport returns a pooled transport whose response header wait is bounded by timeout.
func NewTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}

// SnapshotURL is the redirecting "latest capture" URL for articleURL.
func (c *Client) SnapshotURL(articleURL string) string {
	return c.cfg.WebBase + "/web/2/" + articleURL
}

// Archive submits articleURL and classifies the result. It does not return an
// error: every failure is folded into the Outcome.
func (c *Client) Archive(ctx context.Context, articleURL string) (out Outcome) {
	defer func() { metrics.ObserveArchiveOutcome(string(out.Status)) }()

	if c.cfg.VerifyFirst {
		out.CheckedWayback = true
		exists, err := c.CheckExists(ctx, articleURL)
		switch {
		case err != nil:
			c.logger.Debug("availability check failed, submitting anyway",
				zap.String("url", articleURL), zap.Error(err))
		case exists:
			out.Status = store.StatusExists
			out.WaybackURL = ptr(c.SnapshotURL(articleURL))
			return out
		}
	}

	for attempt := 0; ; attempt++ {
		out.Attempts = attempt + 1
		res := c.submit(ctx, articleURL)
		if res.statusCode != 0 {
			out.HTTPStatus = ptr(res.statusCode)
		}
		if res.err != nil {
			out.ErrorMessage = ptr(res.err.Error())
		} else {
			out.ErrorMessage = nil
		}

		if res.kind == KindNone {
			c.resolveSuccess(ctx, articleURL, res, &out)
			return out
		}

		action := c.policy.Decide(attempt, res.kind)
		if !action.Retry {
			out.Status = action.Status
			if res.kind == KindFatal && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() != nil {
				out.Status = store.StatusTimeout
			}
			return out
		}

		c.logger.Warn("archive attempt failed, retrying",
			zap.String("url", articleURL),
			zap.Int("attempt", out.Attempts),
			zap.Duration("delay", action.Delay),
			zap.Error(res.err))
		metrics.ObserveRetry()
		if err := c.pauser.Pause(ctx, action.Delay); err != nil {
			out.Status = store.StatusError
			out.ErrorMessage = ptr(err.Error())
			return out
		}
	}
}

func (c *Client) resolveSuccess(ctx context.Context, articleURL string, res attemptResult, out *Outcome) {
	if res.location != "" {
		out.Status = store.StatusSuccess
		out.WaybackURL = ptr(c.absolute(res.location))
		return
	}
	ok, err := c.snapshotReachable(ctx, articleURL)
	if err == nil && ok {
		out.Status = store.StatusExists
		out.WaybackURL = ptr(c.SnapshotURL(articleURL))
		return
	}
	out.Status = store.StatusFailed
	msg := fmt.Sprintf("save returned %d without Content-Location", res.statusCode)
	if err != nil {
		msg += ": " + err.Error()
	}
	out.ErrorMessage = ptr(msg)
}

func (c *Client) absolute(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	if !strings.HasPrefix(location, "/") {
		location = "/" + location
	}
	return c.cfg.WebBase + location
}

type attemptResult struct {
	statusCode int
	location   string
	kind       ErrorKind
	err        error
}

func (c *Client) submit(ctx context.Context, articleURL string) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebBase+"/save/"+articleURL, nil)
	if err != nil {
		return attemptResult{kind: KindFatal, err: fmt.Errorf("build save request: %w", err)}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return attemptResult{kind: classifyError(ctx, err), err: fmt.Errorf("save request: %w", err)}
	}
	defer drain(resp.Body)

	res := attemptResult{statusCode: resp.StatusCode, kind: classifyStatus(resp.StatusCode)}
	if res.kind == KindNone {
		res.location = resp.Header.Get("Content-Location")
	} else {
		res.err = fmt.Errorf("save returned status %d", resp.StatusCode)
	}
	return res
}

// classifyStatus maps a save response code onto an ErrorKind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return KindNone
	case code == http.StatusTooManyRequests || code == http.StatusForbidden:
		return KindRateLimited
	case code >= 500:
		return KindTransient
	default:
		return KindClient
	}
}

// classifyError maps a transport error onto an ErrorKind. A done ctx,
// certificate failures and unknown hosts are fatal; connection-level failures
// and timeouts are transient. http.Client wraps every failure in *url.Error,
// which itself satisfies net.Error, so only its cause is inspected.
func classifyError(ctx context.Context, err error) ErrorKind {
	if ctx.Err() != nil {
		return KindFatal
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		certInvalid      x509.CertificateInvalidError
		hostname         x509.HostnameError
		verifyErr        *tls.CertificateVerificationError
		dnsErr           *net.DNSError
		opErr            *net.OpError
		netErr           net.Error
	)
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &certInvalid),
		errors.As(err, &hostname),
		errors.As(err, &verifyErr):
		return KindFatal
	case errors.As(err, &dnsErr):
		if dnsErr.IsNotFound {
			return KindFatal
		}
		return KindTransient
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &opErr):
		return KindTransient
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTransient
	default:
		return KindFatal
	}
}

// snapshotReachable reports whether /web/2/{url} answers 200.
func (c *Client) snapshotReachable(ctx context.Context, articleURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SnapshotURL(articleURL), nil)
	if err != nil {
		return false, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("snapshot request: %w", err)
	}
	defer drain(resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// CheckExists asks the availability API whether a snapshot of articleURL exists.
func (c *Client) CheckExists(ctx context.Context, articleURL string) (bool, error) {
	endpoint, err := url.Parse(c.cfg.AvailabilityURL)
	if err != nil {
		return false, fmt.Errorf("parse availability url: %w", err)
	}
	q := endpoint.Query()
	q.Set("url", articleURL)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return false, fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("availability request: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("availability returned status %d", resp.StatusCode)
	}

	var payload availabilityResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDrainBytes)).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode availability response: %w", err)
	}
	closest := payload.ArchivedSnapshots.Closest
	return closest != nil && closest.Available, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	_ = body.Close()
}

func ptr[T any](v T) *T {
	return &v
}
