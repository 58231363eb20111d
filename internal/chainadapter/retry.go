package chainadapter

import (
	"context"
	"time"
)

// retryConfig is the fixed backoff schedule every ChainAdapter call uses
// (initial 500ms, multiplier 2, capped at 15s, 5 attempts total).
var retryConfig = struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
	attempts   int
}{
	initial:    500 * time.Millisecond,
	multiplier: 2,
	max:        15 * time.Second,
	attempts:   5,
}

// withRetry runs op up to retryConfig.attempts times, backing off
// exponentially between attempts, and stops early on a NonRetryable,
// UserIntervention or Spoofing ChainError — those will not succeed on
// retry by definition.
func withRetry(ctx context.Context, op func() error) error {
	backoff := retryConfig.initial
	var lastErr error

	for attempt := 1; attempt <= retryConfig.attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if ce, ok := lastErr.(*ChainError); ok && ce.Classification != Retryable {
			return lastErr
		}

		if attempt == retryConfig.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * retryConfig.multiplier)
		if backoff > retryConfig.max {
			backoff = retryConfig.max
		}
	}
	return lastErr
}
