package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps test sleeps in the microsecond range.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Microsecond,
		Multiplier:     2.0,
	}
}

func TestDoVal_FirstTrySucceeds(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		return "listing", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "listing", got)
	assert.Equal(t, 1, calls)
}

func TestDoVal_RecoversWithinBudget(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(eris.New("http 503 from reddit"), 503)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoVal_BudgetSpentReturnsLastError(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		return "partial", NewTransientError(eris.Errorf("http 429, attempt %d", calls), 429)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 3")
	assert.Equal(t, 3, calls)
	assert.Empty(t, got, "failed call must return the zero value")
}

func TestDoVal_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, eris.New("subreddit not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a 404 is not worth retrying")
}

func TestDoVal_ShouldRetryGatesErrors(t *testing.T) {
	retryable := eris.New("rate limited")
	cfg := fastRetry(4)
	cfg.ShouldRetry = func(err error) bool { return eris.Is(err, retryable) }

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, retryable
		}
		return 0, eris.New("invalid credentials")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "stop as soon as ShouldRetry says no")
}

func TestDoVal_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := DoVal(ctx, fastRetry(10), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(eris.New("connection reset"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_CancelDuringBackoffReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := DoVal(ctx, cfg, func(ctx context.Context) (int, error) {
			return 0, NewTransientError(eris.New("slow host"), 503)
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Contains(t, err.Error(), "slow host")
	case <-time.After(time.Second):
		t.Fatal("DoVal did not return after cancellation")
	}
}

func TestDoVal_OnRetryReportsFailedAttempts(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) { attempts = append(attempts, attempt) }

	_, _ = DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		return 0, NewTransientError(eris.New("flaky upstream"), 500)
	})
	assert.Equal(t, []int{1, 2}, attempts, "no hook after the final attempt")
}

func TestBackoffFor_DoublesPerRetry(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, w := range want {
		assert.Equal(t, w, cfg.backoffFor(i+1), "retry %d", i+1)
	}
}

func TestBackoffFor_CapsAtMaxBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
	assert.Equal(t, 4*time.Second, cfg.backoffFor(3))
	assert.Equal(t, 5*time.Second, cfg.backoffFor(4))
	assert.Equal(t, 5*time.Second, cfg.backoffFor(20))
}

func TestDelayFor_JitterStaysInBound(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		Jitter:         5 * time.Millisecond,
	}

	varied := false
	first := cfg.delayFor(1)
	for range 200 {
		d := cfg.delayFor(1)
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.Less(t, d, 15*time.Millisecond)
		if d != first {
			varied = true
		}
	}
	assert.True(t, varied, "jitter should spread the delays")
}

func TestDelayFor_NoJitterIsDeterministic(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2.0}
	assert.Equal(t, time.Second, cfg.delayFor(1))
	assert.Equal(t, 2*time.Second, cfg.delayFor(2))
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestRetryLogger_DoesNotPanic(t *testing.T) {
	hook := RetryLogger("reddit", "fetch listing")
	assert.NotPanics(t, func() { hook(1, eris.New("http 502")) })
}
