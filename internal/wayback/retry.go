package wayback

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

// ErrorKind classifies the result of one submission attempt.
type ErrorKind int

// Attempt classifications fed to RetryPolicy.Decide.
const (
	KindNone ErrorKind = iota
	KindTransient
	KindRateLimited
	KindClient
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindClient:
		return "client"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Action is the next step after a failed attempt: either wait Delay and retry,
// or stop with Status.
type Action struct {
	Retry  bool
	Delay  time.Duration
	Status store.Status
}

// RetryPolicy is an exponential backoff policy with bounded jitter.
type RetryPolicy struct {
	// MaxAttempts is the total number of submissions, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps any single delay, jitter included.
	MaxDelay time.Duration
	// Jitter returns a value in [0, limit). Nil uses crypto/rand.
	Jitter func(limit time.Duration) time.Duration
}

// NewRetryPolicy builds a policy with crypto jitter.
func NewRetryPolicy(maxAttempts int, base, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      randomJitter,
	}
}

// Decide maps the zero-based attempt that just finished and its kind onto the
// next action. It never sleeps.
func (p RetryPolicy) Decide(attempt int, kind ErrorKind) Action {
	switch kind {
	case KindNone:
		return Action{Status: store.StatusSuccess}
	case KindRateLimited:
		return Action{Status: store.StatusRateLimited}
	case KindClient:
		return Action{Status: store.StatusFailed}
	case KindTransient:
		if attempt+1 >= p.MaxAttempts {
			return Action{Status: store.StatusFailed}
		}
		return Action{Retry: true, Delay: p.Backoff(attempt)}
	default:
		return Action{Status: store.StatusError}
	}
}

// Backoff returns base*2^attempt plus jitter below base/2, never above MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		delay *= 2
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = randomJitter
	}
	delay += jitter(p.BaseDelay / 2)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Pauser sleeps between attempts.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

type timerPauser struct{}

// Pause waits for d or until ctx is done.
func (timerPauser) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
