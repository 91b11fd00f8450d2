package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig tunes the retry-with-backoff operator.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, first call included.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff curve.
	BaseDelay time.Duration
	// MaxDelay caps the exponential part of the delay.
	MaxDelay time.Duration
	// JitterMax is the upper bound of the uniform jitter added to every delay.
	JitterMax time.Duration
}

// DefaultRetryConfig returns the tuning used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		JitterMax:   250 * time.Millisecond,
	}
}

// Retry runs op until it succeeds, the classifier rules the error terminal,
// attempts are exhausted, or ctx is done. The delay before attempt n is
// min(base·2^n, max) plus uniform jitter, raised to the classifier's
// suggested floor when that is larger.
func Retry(ctx context.Context, cfg RetryConfig, name string, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		classification := Classify(lastErr)
		if !classification.ShouldRetry {
			slog.Debug("Error is terminal, not retrying",
				"operation", name,
				"category", classification.Category,
				"error", lastErr)
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if classification.SuggestedRetryDelay > delay {
			delay = classification.SuggestedRetryDelay
		}

		slog.Warn("Retrying after failure",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxAttempts,
			"category", classification.Category,
			"delay", delay,
			"error", lastErr)

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// backoffDelay computes min(base·2^attempt, max) plus uniform jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay * (1 << uint(attempt))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(cfg.JitterMax)))
	}
	return delay
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
