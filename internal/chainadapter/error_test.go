package chainadapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainErrorClassificationHelpers(t *testing.T) {
	retryable := NewRetryableError(ErrCodeIndexerTimeout, "timeout", nil, nil)
	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsNonRetryable(retryable))

	nonRetryable := NewNonRetryableError(ErrCodeInvalidDatum, "bad", nil)
	assert.True(t, IsNonRetryable(nonRetryable))

	userIntervention := NewUserInterventionError(ErrCodeMultiSigPending, "needs signers", nil)
	assert.True(t, IsUserIntervention(userIntervention))

	spoof := NewSpoofingError("fields mismatched", []string{"buyer_vkey", "pay_by_time"})
	assert.True(t, IsSpoofing(spoof))
	assert.Contains(t, spoof.Error(), "fields mismatched")
	assert.Contains(t, spoof.Cause.Error(), "buyer_vkey")
}

func TestChainErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	ce := NewChainError("ERR_X", "wrapping", Retryable, cause)
	assert.Equal(t, cause, errors.Unwrap(ce))
}

func TestErrorClassificationString(t *testing.T) {
	assert.Equal(t, "Retryable", Retryable.String())
	assert.Equal(t, "NonRetryable", NonRetryable.String())
	assert.Equal(t, "UserIntervention", UserIntervention.String())
	assert.Equal(t, "Spoofing", Spoofing.String())
}
