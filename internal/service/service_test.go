package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/escrowd/coordinator/internal/domain"
)

func TestNewBlockchainIdentifierAppendsPurchaserSuffix(t *testing.T) {
	id, err := newBlockchainIdentifier("purchaser-42")
	assert.NoError(t, err)
	assert.True(t, len(id) > len("purchaser-42"))
	assert.Equal(t, "purchaser-42", id[len(id)-len("purchaser-42"):])
}

func TestNewBlockchainIdentifierVariesPerCall(t *testing.T) {
	first, err := newBlockchainIdentifier("same-suffix")
	assert.NoError(t, err)
	second, err := newBlockchainIdentifier("same-suffix")
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewIDProducesDistinctValues(t *testing.T) {
	assert.NotEqual(t, newID(), newID())
}

func TestRegisterAgentRejectsMissingFields(t *testing.T) {
	s := &Service{}

	env := s.RegisterAgent(context.Background(), "", "vkey-1", AgentMetadata{Name: "agent"})
	assert.Nil(t, env.Value)
	assert.Equal(t, "validation_error", env.Err.Code)

	env = s.RegisterAgent(context.Background(), "src-1", "", AgentMetadata{Name: "agent"})
	assert.Equal(t, "validation_error", env.Err.Code)

	env = s.RegisterAgent(context.Background(), "src-1", "vkey-1", AgentMetadata{})
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestCreatePaymentRejectsOutOfOrderTimings(t *testing.T) {
	s := &Service{}
	env := s.CreatePayment(context.Background(), CreatePaymentParams{
		AgentIdentifier:           "agent-1",
		InputHash:                 "hash-1",
		PayByTime:                 100,
		SubmitResultTime:          50,
		UnlockTime:                200,
		ExternalDisputeUnlockTime: 300,
	})
	assert.Nil(t, env.Value)
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestCreatePaymentRejectsMissingAgentIdentifier(t *testing.T) {
	s := &Service{}
	env := s.CreatePayment(context.Background(), CreatePaymentParams{InputHash: "hash-1"})
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestCreatePurchaseRejectsMissingSellerVKey(t *testing.T) {
	s := &Service{}
	env := s.CreatePurchase(context.Background(), CreatePurchaseParams{
		AgentIdentifier: "agent-1",
		InputHash:       "hash-1",
	})
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestCreatePurchaseRejectsOutOfOrderTimings(t *testing.T) {
	s := &Service{}
	env := s.CreatePurchase(context.Background(), CreatePurchaseParams{
		AgentIdentifier:           "agent-1",
		SellerVKey:                "vkey-1",
		InputHash:                 "hash-1",
		PayByTime:                 100,
		SubmitResultTime:          100,
		UnlockTime:                200,
		ExternalDisputeUnlockTime: 300,
	})
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestSubmitResultRejectsMissingResultHash(t *testing.T) {
	s := &Service{}
	env := s.SubmitResult(context.Background(), "escrow-1", "")
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestQueuePaymentActionRejectsMissingBlockchainIdentifier(t *testing.T) {
	s := &Service{}
	env := s.queuePaymentAction(context.Background(), "", domain.PaymentActionSubmitResultRequested, nil, nil)
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestQueuePurchasingActionRejectsMissingBlockchainIdentifier(t *testing.T) {
	s := &Service{}
	env := s.queuePurchasingAction(context.Background(), "", domain.PurchasingActionSetRefundRequestedRequested, nil)
	assert.Equal(t, "validation_error", env.Err.Code)
}

func TestErrValidationWrapsReason(t *testing.T) {
	err := errValidation("refund has not been requested on chain")
	assert.EqualError(t, err, "refund has not been requested on chain")
}
