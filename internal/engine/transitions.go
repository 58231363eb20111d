// Package engine is the State Engine: the Sync Loop that reconciles chain
// reality into the relational store, the Action Dispatchers that push
// requests forward, the Wallet Locker, and the Rollback Handler.
package engine

import (
	"github.com/escrowd/coordinator/internal/domain"
)

// seller-side transition table: every OnChainState the Sync Loop can
// observe maps to exactly one PaymentAction a freshly-confirmed transition
// leaves the seller's request in. Terminal states carry PaymentActionNone;
// FundsOrDatumInvalid and Disputed always escalate to a human.
var paymentActionByState = map[domain.OnChainState]domain.PaymentAction{
	domain.OnChainFundsLocked:         domain.PaymentActionWaitingForExternalAction,
	domain.OnChainResultSubmitted:     domain.PaymentActionWaitingForExternalAction,
	domain.OnChainRefundRequested:     domain.PaymentActionWaitingForExternalAction,
	domain.OnChainDisputed:            domain.PaymentActionWaitingForManualAction,
	domain.OnChainWithdrawn:           domain.PaymentActionNone,
	domain.OnChainRefundWithdrawn:     domain.PaymentActionNone,
	domain.OnChainDisputedWithdrawn:   domain.PaymentActionNone,
	domain.OnChainFundsOrDatumInvalid: domain.PaymentActionWaitingForManualAction,
}

// buyer-side transition table: same on-chain vocabulary, a different
// action enum, and a different default escalation path.
var purchasingActionByState = map[domain.OnChainState]domain.PurchasingAction{
	domain.OnChainFundsLocked:         domain.PurchasingActionWaitingForExternalAction,
	domain.OnChainResultSubmitted:     domain.PurchasingActionWaitingForExternalAction,
	domain.OnChainRefundRequested:     domain.PurchasingActionWaitingForExternalAction,
	domain.OnChainDisputed:            domain.PurchasingActionWaitingForManualAction,
	domain.OnChainWithdrawn:           domain.PurchasingActionNone,
	domain.OnChainRefundWithdrawn:     domain.PurchasingActionNone,
	domain.OnChainDisputedWithdrawn:   domain.PurchasingActionNone,
	domain.OnChainFundsOrDatumInvalid: domain.PurchasingActionWaitingForManualAction,
}

// NextPaymentAction computes (new_action, error_type?, error_note?) for the
// seller-side mirror given its current action and the OnChainState a
// transition just confirmed (spec §4.3.2). For FundsOrDatumInvalid, the
// current action's error note is chained onto violationNote via
// domain.ChainErrorNote so repeated manual-action escalations keep their
// history instead of overwriting it; other states carry no error note.
func NextPaymentAction(current domain.NextAction[domain.PaymentAction], newState domain.OnChainState, violationNote string) domain.NextAction[domain.PaymentAction] {
	next, ok := paymentActionByState[newState]
	if !ok {
		next = domain.PaymentActionWaitingForManualAction
	}

	switch newState {
	case domain.OnChainFundsOrDatumInvalid:
		return domain.NextAction[domain.PaymentAction]{
			RequestedAction: next,
			ErrorType:       domain.ErrorTypeSpoofing,
			ErrorNote:       domain.ChainErrorNote(current.ErrorNote, string(current.RequestedAction), violationNote),
		}
	case domain.OnChainDisputed:
		return domain.NextAction[domain.PaymentAction]{
			RequestedAction: next,
			ErrorType:       domain.ErrorTypeNone,
			ErrorNote:       "",
		}
	default:
		return domain.NextAction[domain.PaymentAction]{RequestedAction: next}
	}
}

// NextPurchasingAction is NextPaymentAction's buyer-side counterpart.
func NextPurchasingAction(current domain.NextAction[domain.PurchasingAction], newState domain.OnChainState, violationNote string) domain.NextAction[domain.PurchasingAction] {
	next, ok := purchasingActionByState[newState]
	if !ok {
		next = domain.PurchasingActionWaitingForManualAction
	}

	switch newState {
	case domain.OnChainFundsOrDatumInvalid:
		return domain.NextAction[domain.PurchasingAction]{
			RequestedAction: next,
			ErrorType:       domain.ErrorTypeSpoofing,
			ErrorNote:       domain.ChainErrorNote(current.ErrorNote, string(current.RequestedAction), violationNote),
		}
	case domain.OnChainDisputed:
		return domain.NextAction[domain.PurchasingAction]{
			RequestedAction: next,
			ErrorType:       domain.ErrorTypeNone,
			ErrorNote:       "",
		}
	default:
		return domain.NextAction[domain.PurchasingAction]{RequestedAction: next}
	}
}

// RolledBackPaymentAction is the terminal state the Rollback Handler forces
// a seller-side request into (spec §4.3 step 2, §4.6).
func RolledBackPaymentAction(current domain.NextAction[domain.PaymentAction]) domain.NextAction[domain.PaymentAction] {
	return domain.NextAction[domain.PaymentAction]{
		RequestedAction: domain.PaymentActionWaitingForManualAction,
		ErrorType:       domain.ErrorTypeRollback,
		ErrorNote:       domain.ChainErrorNote(current.ErrorNote, string(current.RequestedAction), "Rolled back transaction detected; manual review required"),
	}
}

// RolledBackPurchasingAction is the buyer-side counterpart.
func RolledBackPurchasingAction(current domain.NextAction[domain.PurchasingAction]) domain.NextAction[domain.PurchasingAction] {
	return domain.NextAction[domain.PurchasingAction]{
		RequestedAction: domain.PurchasingActionWaitingForManualAction,
		ErrorType:       domain.ErrorTypeRollback,
		ErrorNote:       domain.ChainErrorNote(current.ErrorNote, string(current.RequestedAction), "Rolled back transaction detected; manual review required"),
	}
}
