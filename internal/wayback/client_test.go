package wayback

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

const articleURL = "http://www.mingpaocanada.com/tor/htm/News/20250112/HK-gaa1_r.htm"

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
	return ctx.Err()
}

type fakeArchive struct {
	saves     atomic.Int32
	snapshots atomic.Int32
	checks    atomic.Int32

	save         http.HandlerFunc
	snapshotCode int

	mu        sync.Mutex
	available string
	lastQuery string
}

func (f *fakeArchive) setAvailable(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = body
}

func (f *fakeArchive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/save/"):
		f.saves.Add(1)
		f.save(w, r)
	case strings.HasPrefix(r.URL.Path, "/web/2/"):
		f.snapshots.Add(1)
		code := f.snapshotCode
		if code == 0 {
			code = http.StatusNotFound
		}
		w.WriteHeader(code)
	case r.URL.Path == "/wayback/available":
		f.checks.Add(1)
		f.mu.Lock()
		body := f.available
		f.lastQuery = r.URL.Query().Get("url")
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeArchive, cfg Config) (*Client, *recordingPauser) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg.WebBase = srv.URL
	cfg.AvailabilityURL = srv.URL + "/wayback/available"
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 60 * time.Second
	}
	pauser := &recordingPauser{}
	c := New(cfg, srv.Client().Transport, zap.NewNop(), WithPauser(pauser), WithJitter(zeroJitter))
	return c, pauser
}

func TestArchiveSuccessUsesContentLocation(t *testing.T) {
	t.Parallel()

	var gotUA, gotMethod, gotPath atomic.Value
	fake := &fakeArchive{save: func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotMethod.Store(r.Method)
		gotPath.Store(r.URL.Path)
		w.Header().Set("Content-Location", "/web/20250112093000/"+articleURL)
		w.WriteHeader(http.StatusOK)
	}}
	c, pauser := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusSuccess, out.Status)
	require.NotNil(t, out.WaybackURL)
	require.Equal(t, c.cfg.WebBase+"/web/20250112093000/"+articleURL, *out.WaybackURL)
	require.Equal(t, 200, *out.HTTPStatus)
	require.Nil(t, out.ErrorMessage)
	require.Equal(t, 1, out.Attempts)
	require.False(t, out.CheckedWayback)
	require.Empty(t, pauser.delays)
	require.Equal(t, DefaultUserAgent, gotUA.Load())
	require.Equal(t, http.MethodPost, gotMethod.Load())
	require.Equal(t, "/save/"+articleURL, gotPath.Load())
}

func TestArchiveRateLimitedDoesNotRetry(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}}
	c, pauser := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusRateLimited, out.Status)
	require.Equal(t, http.StatusTooManyRequests, *out.HTTPStatus)
	require.Equal(t, 1, out.Attempts)
	require.EqualValues(t, 1, fake.saves.Load())
	require.Empty(t, pauser.delays)
}

func TestArchiveForbiddenIsRateLimited(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}}
	c, _ := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusRateLimited, out.Status)
}

func TestArchiveClientErrorFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}}
	c, pauser := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusFailed, out.Status)
	require.Equal(t, http.StatusNotFound, *out.HTTPStatus)
	require.Equal(t, 1, out.Attempts)
	require.Contains(t, *out.ErrorMessage, "404")
	require.Empty(t, pauser.delays)
}

func TestArchiveServerErrorRetriesUntilExhausted(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}}
	c, pauser := newTestClient(t, fake, Config{MaxRetries: 4, RetryDelay: 10 * time.Second, MaxRetryDelay: 30 * time.Second})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusFailed, out.Status)
	require.Equal(t, 4, out.Attempts)
	require.EqualValues(t, 4, fake.saves.Load())
	require.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, pauser.delays)
	require.Contains(t, *out.ErrorMessage, "502")
}

func TestArchiveConnectionResetRetriesThenFails(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}}
	c, pauser := newTestClient(t, fake, Config{MaxRetries: 3})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusFailed, out.Status)
	require.Equal(t, 3, out.Attempts)
	require.EqualValues(t, 3, fake.saves.Load())
	require.Nil(t, out.HTTPStatus)
	require.NotNil(t, out.ErrorMessage)
	require.Contains(t, *out.ErrorMessage, "save request")
	require.Len(t, pauser.delays, 2)
	require.LessOrEqual(t, pauser.delays[0], pauser.delays[1])
}

func TestArchiveRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Location", "/web/1/"+articleURL)
		w.WriteHeader(http.StatusOK)
	}}
	c, _ := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusSuccess, out.Status)
	require.Equal(t, 2, out.Attempts)
	require.Nil(t, out.ErrorMessage)
}

func TestArchiveWithoutContentLocationFallsBackToSnapshot(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{
		save:         func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
		snapshotCode: http.StatusOK,
	}
	c, _ := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusExists, out.Status)
	require.Equal(t, c.SnapshotURL(articleURL), *out.WaybackURL)
	require.EqualValues(t, 1, fake.snapshots.Load())
}

func TestArchiveWithoutContentLocationAndNoSnapshotFails(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{
		save:         func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
		snapshotCode: http.StatusNotFound,
	}
	c, _ := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusFailed, out.Status)
	require.Contains(t, *out.ErrorMessage, "without Content-Location")
}

func TestArchiveVerifyFirstSkipsSave(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{
		save:      func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
		available: `{"archived_snapshots":{"closest":{"available":true,"status":"200","url":"x","timestamp":"20250112"}}}`,
	}
	c, _ := newTestClient(t, fake, Config{VerifyFirst: true})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusExists, out.Status)
	require.True(t, out.CheckedWayback)
	require.Equal(t, 0, out.Attempts)
	require.EqualValues(t, 0, fake.saves.Load())
	require.EqualValues(t, 1, fake.checks.Load())
}

func TestArchiveVerifyFirstSubmitsWhenMissing(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{
		save: func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Location", "/web/1/"+articleURL)
			w.WriteHeader(http.StatusOK)
		},
		available: `{"archived_snapshots":{}}`,
	}
	c, _ := newTestClient(t, fake, Config{VerifyFirst: true})

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusSuccess, out.Status)
	require.True(t, out.CheckedWayback)
	require.EqualValues(t, 1, fake.saves.Load())
}

func TestArchiveBadURLIsError(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }}
	c, _ := newTestClient(t, fake, Config{})

	out := c.Archive(context.Background(), "http://bad\nurl")
	require.Equal(t, store.StatusError, out.Status)
	require.Equal(t, 1, out.Attempts)
	require.EqualValues(t, 0, fake.saves.Load())
}

func TestArchiveCanceledContextIsError(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{save: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }}
	c, _ := newTestClient(t, fake, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := c.Archive(ctx, articleURL)
	require.Equal(t, store.StatusError, out.Status)
	require.Contains(t, *out.ErrorMessage, "canceled")
}

func TestCheckExists(t *testing.T) {
	t.Parallel()

	fake := &fakeArchive{available: `{"archived_snapshots":{"closest":{"available":true}}}`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(Config{AvailabilityURL: srv.URL + "/wayback/available"}, srv.Client().Transport, nil)
	ok, err := c.CheckExists(context.Background(), articleURL)
	require.NoError(t, err)
	require.True(t, ok)
	fake.mu.Lock()
	require.Equal(t, articleURL, fake.lastQuery)
	fake.mu.Unlock()

	fake.setAvailable(`{"archived_snapshots":{}}`)
	ok, err = c.CheckExists(context.Background(), articleURL)
	require.NoError(t, err)
	require.False(t, ok)

	fake.setAvailable(`not json`)
	_, err = c.CheckExists(context.Background(), articleURL)
	require.ErrorContains(t, err, "decode availability response")
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindNone, classifyStatus(201))
	require.Equal(t, KindRateLimited, classifyStatus(429))
	require.Equal(t, KindRateLimited, classifyStatus(403))
	require.Equal(t, KindTransient, classifyStatus(500))
	require.Equal(t, KindTransient, classifyStatus(504))
	require.Equal(t, KindClient, classifyStatus(404))
	require.Equal(t, KindClient, classifyStatus(304))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	t.Parallel()

	wrap := func(err error) error { return &url.Error{Op: "Post", URL: articleURL, Err: err} }
	reset := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unknown authority", wrap(x509.UnknownAuthorityError{}), KindFatal},
		{"hostname mismatch", wrap(x509.HostnameError{Host: "web.archive.org"}), KindFatal},
		{"verification", wrap(&tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}), KindFatal},
		{"plain cause", wrap(errors.New("http: server gave HTTP response to HTTPS client")), KindFatal},
		{"no such host", wrap(&net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}), KindFatal},
		{"dns timeout", wrap(&net.DNSError{Err: "timeout", Name: "web.archive.org", IsTimeout: true}), KindTransient},
		{"connection reset", wrap(reset), KindTransient},
		{"eof", wrap(io.EOF), KindTransient},
		{"unexpected eof", wrap(io.ErrUnexpectedEOF), KindTransient},
		{"timeout", wrap(timeoutError{}), KindTransient},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classifyError(context.Background(), tc.err), tc.name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, KindFatal, classifyError(ctx, wrap(reset)))
}

func TestArchiveDoesNotRetryCertificateFailure(t *testing.T) {
	t.Parallel()

	var saves atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		saves.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pauser := &recordingPauser{}
	// The default transport does not trust the test server's certificate.
	c := New(Config{WebBase: srv.URL, MaxRetries: 3}, &http.Transport{}, zap.NewNop(),
		WithPauser(pauser), WithJitter(zeroJitter))

	out := c.Archive(context.Background(), articleURL)
	require.Equal(t, store.StatusError, out.Status)
	require.Equal(t, 1, out.Attempts)
	require.Empty(t, pauser.delays)
	require.Zero(t, saves.Load())
}
