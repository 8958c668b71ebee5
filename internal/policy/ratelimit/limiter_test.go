package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireSpacesCalls(t *testing.T) {
	t.Parallel()

	const interval = 40 * time.Millisecond
	l := New(Config{Interval: interval})
	ctx := context.Background()

	start := time.Now()
	var returns []time.Time
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Acquire(ctx))
		returns = append(returns, time.Now())
	}

	require.Less(t, returns[0].Sub(start), interval/2, "first acquire after idle must not wait")
	for i := 1; i < len(returns); i++ {
		require.GreaterOrEqual(t, returns[i].Sub(start), time.Duration(i)*interval)
		require.GreaterOrEqual(t, returns[i].Sub(returns[i-1]), interval)
	}
}

func TestAcquireNeverBurstsAfterIdle(t *testing.T) {
	t.Parallel()

	const interval = 30 * time.Millisecond
	l := New(Config{Interval: interval})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	time.Sleep(5 * interval)

	first := time.Now()
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	require.GreaterOrEqual(t, time.Since(first), interval)
}

func TestAcquireGapHoldsWhenCallerIsLate(t *testing.T) {
	t.Parallel()

	const interval = 2 * time.Millisecond
	l := New(Config{Interval: interval})
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 150; i++ {
		if i%3 == 0 {
			time.Sleep(interval + 300*time.Microsecond)
		}
		require.NoError(t, l.Acquire(ctx))
		now := time.Now()
		if !prev.IsZero() {
			require.GreaterOrEqual(t, now.Sub(prev), interval, "acquire %d", i)
		}
		prev = now
	}
}

func TestAcquireSharedAcrossGoroutines(t *testing.T) {
	t.Parallel()

	const interval = 20 * time.Millisecond
	l := New(Config{Interval: interval})
	ctx := context.Background()

	var (
		mu      sync.Mutex
		returns []time.Time
		wg      sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx))
			mu.Lock()
			returns = append(returns, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, returns, 5)
	require.GreaterOrEqual(t, time.Since(start), 4*interval)

}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Hour})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Acquire(ctx))
}

func TestAcquireCanceledWhileQueued(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Hour})
	require.NoError(t, l.Acquire(context.Background()))

	holderCtx, stopHolder := context.WithCancel(context.Background())
	t.Cleanup(stopHolder)
	holder := make(chan error, 1)
	go func() { holder <- l.Acquire(holderCtx) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.Error(t, l.Acquire(ctx))
	require.Less(t, time.Since(start), time.Second)
	select {
	case err := <-holder:
		t.Fatalf("hour-long wait returned early: %v", err)
	default:
	}
}

func TestZeroIntervalDoesNotWait(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestTransportGatesEveryMethod(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		hits []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	const interval = 30 * time.Millisecond
	l := New(Config{Interval: interval})
	client := &http.Client{Transport: l.Transport(nil)}

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost} {
		req, err := http.NewRequestWithContext(context.Background(), method, srv.URL, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 3)
	require.GreaterOrEqual(t, hits[2].Sub(hits[0]), 2*interval-10*time.Millisecond)
}
