package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		JitterMax:   time.Millisecond,
	}
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryFailsFastOnTerminalError(t *testing.T) {
	calls := 0
	authErr := errors.New("401 unauthorized")
	err := Retry(context.Background(), fastRetryConfig(5), "op", func(ctx context.Context) error {
		calls++
		return authErr
	})

	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, calls, "terminal errors must not be retried")
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), "op", func(ctx context.Context) error {
		calls++
		return errors.New("503 service unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("network timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation must cut the backoff sleep short")
}

func TestRetryHonorsQuotaDelayFloor(t *testing.T) {
	// Quota errors carry a 5s suggested delay; with two attempts the single
	// sleep between them must respect it.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Retry(ctx, fastRetryConfig(2), "op", func(ctx context.Context) error {
		return errors.New("429 rate limit")
	})

	// The context expires long before the 5s floor, proving the floor was used
	// instead of the millisecond-scale backoff.
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
