package chainadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return NewRetryableError(ErrCodeIndexerTimeout, "transient", nil, errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsImmediatelyOnNonRetryable(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return NewNonRetryableError(ErrCodeInvalidDatum, "bad shape", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsNonRetryable(err))
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return NewRetryableError(ErrCodeIndexerUnavailable, "down", nil, nil)
	})
	require.Error(t, err)
	assert.Equal(t, retryConfig.attempts, attempts)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := withRetry(ctx, func() error {
		attempts++
		return NewRetryableError(ErrCodeIndexerTimeout, "transient", nil, nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
