// Package resilience provides the retry and circuit-breaker primitives
// shared by the outbound clients. Retries use exponential backoff with
// uniform jitter; the breaker guards a host that keeps failing.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls DoVal.
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first.
	// 1 means no retries.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the pre-jitter delay.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter adds a uniform random delay in [0, Jitter) to every sleep
	// so concurrent retries spread out instead of thundering together.
	Jitter time.Duration

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each retry sleep with the number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// backoffFor returns the pre-jitter delay before retry n (1-based):
// InitialBackoff grown by Multiplier per prior retry, capped at
// MaxBackoff.
func (c RetryConfig) backoffFor(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// delayFor is backoffFor plus the jitter draw.
func (c RetryConfig) delayFor(n int) time.Duration {
	d := c.backoffFor(n)
	if c.Jitter > 0 {
		d += rand.N(c.Jitter)
	}
	return d
}

// DoVal calls fn until it succeeds, the attempt budget is spent, the
// error is not retryable, or ctx is done. On failure the last error is
// returned; the zero T is returned alongside it.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt >= cfg.MaxAttempts {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleepFor(ctx, cfg.delayFor(attempt)) {
			return zero, err
		}
	}
}

// sleepFor blocks for d or until ctx is done, reporting whether the
// full delay elapsed.
func sleepFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RetryLogger returns an OnRetry hook that logs each retry under the
// service and operation it belongs to.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
