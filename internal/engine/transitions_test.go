package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/escrowd/coordinator/internal/domain"
)

func TestNextPaymentActionMapsTerminalStatesToNone(t *testing.T) {
	cases := []domain.OnChainState{
		domain.OnChainWithdrawn,
		domain.OnChainRefundWithdrawn,
		domain.OnChainDisputedWithdrawn,
	}
	for _, state := range cases {
		got := NextPaymentAction(domain.NextAction[domain.PaymentAction]{}, state, "")
		assert.Equal(t, domain.PaymentActionNone, got.RequestedAction)
		assert.Equal(t, domain.ErrorTypeNone, got.ErrorType)
	}
}

func TestNextPaymentActionEscalatesOnFundsOrDatumInvalid(t *testing.T) {
	current := domain.NextAction[domain.PaymentAction]{RequestedAction: domain.PaymentActionWaitingForExternalAction}
	got := NextPaymentAction(current, domain.OnChainFundsOrDatumInvalid, "seller address mismatch")

	assert.Equal(t, domain.PaymentActionWaitingForManualAction, got.RequestedAction)
	assert.Equal(t, domain.ErrorTypeSpoofing, got.ErrorType)
	assert.Contains(t, got.ErrorNote, "seller address mismatch")
}

func TestNextPaymentActionClearsErrorOnDispute(t *testing.T) {
	current := domain.NextAction[domain.PaymentAction]{
		RequestedAction: domain.PaymentActionWaitingForManualAction,
		ErrorType:       domain.ErrorTypeSpoofing,
		ErrorNote:       "prior violation",
	}
	got := NextPaymentAction(current, domain.OnChainDisputed, "")

	assert.Equal(t, domain.PaymentActionWaitingForManualAction, got.RequestedAction)
	assert.Equal(t, domain.ErrorTypeNone, got.ErrorType)
	assert.Empty(t, got.ErrorNote)
}

func TestNextPaymentActionDefaultsUnknownStateToManualAction(t *testing.T) {
	got := NextPaymentAction(domain.NextAction[domain.PaymentAction]{}, domain.OnChainState("SomethingUnmapped"), "")
	assert.Equal(t, domain.PaymentActionWaitingForManualAction, got.RequestedAction)
}

func TestNextPurchasingActionMirrorsPaymentSide(t *testing.T) {
	current := domain.NextAction[domain.PurchasingAction]{RequestedAction: domain.PurchasingActionWaitingForExternalAction}
	got := NextPurchasingAction(current, domain.OnChainFundsOrDatumInvalid, "buyer vkey mismatch")

	assert.Equal(t, domain.PurchasingActionWaitingForManualAction, got.RequestedAction)
	assert.Equal(t, domain.ErrorTypeSpoofing, got.ErrorType)
	assert.Contains(t, got.ErrorNote, "buyer vkey mismatch")
}

func TestRolledBackPaymentActionAlwaysEscalatesWithRollbackErrorType(t *testing.T) {
	current := domain.NextAction[domain.PaymentAction]{RequestedAction: domain.PaymentActionWaitingForExternalAction}
	got := RolledBackPaymentAction(current)

	assert.Equal(t, domain.PaymentActionWaitingForManualAction, got.RequestedAction)
	assert.Equal(t, domain.ErrorTypeRollback, got.ErrorType)
	assert.Contains(t, got.ErrorNote, "Rolled back transaction detected")
}

func TestRolledBackPurchasingActionAlwaysEscalatesWithRollbackErrorType(t *testing.T) {
	current := domain.NextAction[domain.PurchasingAction]{RequestedAction: domain.PurchasingActionWaitingForExternalAction}
	got := RolledBackPurchasingAction(current)

	assert.Equal(t, domain.PurchasingActionWaitingForManualAction, got.RequestedAction)
	assert.Equal(t, domain.ErrorTypeRollback, got.ErrorType)
	assert.Contains(t, got.ErrorNote, "Rolled back transaction detected")
}
