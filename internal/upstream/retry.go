package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
)

// Policy bounds retries of transient and rate-limit failures.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MLIT_RETRY_MAX_ATTEMPTS" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// DefaultPolicy returns three attempts starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Backoff returns the delay ceiling after the given zero-based failed attempt:
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Delay returns the jittered wait after attempt. Half of the backoff is
// fixed and the other half is drawn from rnd, so concurrent callers spread out
// without ever retrying immediately. A longer Retry-After from upstream wins;
// the result never exceeds MaxDelay. Fetch does not retry at all when
// Retry-After is beyond MaxDelay.
func (p Policy) Delay(attempt int, retryAfter time.Duration, rnd func(int64) int64) time.Duration {
	ceiling := p.Backoff(attempt)
	half := ceiling / 2
	d := half
	if span := int64(ceiling - half); span > 0 {
		d += time.Duration(rnd(span + 1))
	}
	if retryAfter > d {
		d = retryAfter
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryFetcher wraps any Fetcher with retry logic.
type retryFetcher struct {
	inner  Fetcher
	policy Policy
	rnd    func(int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// WithRetry wraps f so retryable failures are retried according to p.
func WithRetry(f Fetcher, p Policy) Fetcher {
	if p.MaxAttempts <= 1 {
		return f
	}
	return &retryFetcher{
		inner:  f,
		policy: p,
		rnd:    rand.Int64N,
		sleep:  sleepCtx,
		logger: slog.Default(),
	}
}

func (r *retryFetcher) Fetch(ctx context.Context, path string, params url.Values) (any, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		doc, err := r.inner.Fetch(ctx, path, params)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !apperr.IsRetryable(err) {
			return nil, err
		}
		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		var retryAfter time.Duration
		if e, ok := apperr.As(err); ok {
			retryAfter = e.RetryAfter
		}
		if retryAfter > r.policy.MaxDelay {
			r.logger.Warn("upstream asked to wait longer than the retry limit",
				"path", path,
				"retry_after", retryAfter,
				"max_delay", r.policy.MaxDelay,
			)
			return nil, err
		}
		delay := r.policy.Delay(attempt, retryAfter, r.rnd)
		r.logger.Warn("upstream request failed, retrying",
			"path", path,
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
