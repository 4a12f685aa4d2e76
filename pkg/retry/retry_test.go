package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/imagegate/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrCodeNetworkError, "connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return errors.New(errors.ErrCodeValidationFailed, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-retryable error must not be retried")
}

func TestDoPlainErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return stderr.New("plain failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	cause := errors.New(errors.ErrCodeNetworkError, "still down")
	err := New(fastConfig()).Do(func() error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, stderr.Is(err, cause), "the final error wraps the last attempt's error")
}

func TestDoExtraRetryableCodes(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = []errors.ErrorCode{errors.ErrCodeStoreRead}

	calls := 0
	err := New(cfg).Do(func() error {
		calls++
		if calls < 2 {
			return errors.New(errors.ErrCodeStoreRead, "deadlock")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoWithContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New(fastConfig()).DoWithContext(ctx, func(context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Zero(t, calls, "a canceled context prevents the first attempt")
}

func TestDoWithContextCanceledBetweenAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := New(cfg).DoWithContext(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New(errors.ErrCodeNetworkError, "reset")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation during backoff stops the loop")
}

func TestOnRetryCallback(t *testing.T) {
	cfg := fastConfig()
	var attempts []int
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = New(cfg).Do(func() error {
		return errors.New(errors.ErrCodeNetworkError, "reset")
	})
	assert.Equal(t, []int{1, 2}, attempts, "callback fires before each retry, not the final failure")
}

func TestCalculateDelayCapsAtMax(t *testing.T) {
	r := New(Config{
		MaxAttempts:  10,
		InitialDelay: time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
		Multiplier:   2.0,
	})

	// attempt 5 would be 16ms uncapped.
	assert.Equal(t, 8*time.Millisecond, r.calculateDelay(5))
}

func TestCalculateDelayJitterStaysInBand(t *testing.T) {
	r := New(Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	})

	for i := 0; i < 50; i++ {
		d := r.calculateDelay(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestWithMaxAttempts(t *testing.T) {
	r := New(fastConfig()).WithMaxAttempts(1)

	calls := 0
	_ = r.Do(func() error {
		calls++
		return errors.New(errors.ErrCodeNetworkError, "reset")
	})
	assert.Equal(t, 1, calls)
}
