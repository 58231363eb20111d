package service

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/escrowd/coordinator/internal/apitypes"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/store"
)

// CreatePurchaseParams mirrors create_purchase's parameter list (spec.md §6).
type CreatePurchaseParams struct {
	AgentIdentifier           string
	SellerVKey                string
	IdentifierFromPurchaser   string
	InputHash                 string
	PayByTime                 int64
	SubmitResultTime          int64
	UnlockTime                int64
	ExternalDisputeUnlockTime int64
	RequestedFunds            []domain.AmountEntry
}

// CreatePurchase creates a PurchaseRequest with next_action=FundsLockingRequested
// against a purchasing wallet on the PaymentSource that owns AgentIdentifier
// (spec.md §6 create_purchase). sellerVKey identifies the counterparty's
// selling wallet, recorded as CounterpartyWallet on the new row.
func (s *Service) CreatePurchase(ctx context.Context, p CreatePurchaseParams) apitypes.Envelope[domain.PurchaseRequest] {
	if p.AgentIdentifier == "" {
		return validationError[domain.PurchaseRequest]("agentIdentifier", "required")
	}
	if p.SellerVKey == "" {
		return validationError[domain.PurchaseRequest]("sellerVKey", "required")
	}
	if p.InputHash == "" {
		return validationError[domain.PurchaseRequest]("inputHash", "required")
	}
	if p.PayByTime <= 0 || p.SubmitResultTime <= p.PayByTime || p.UnlockTime <= p.SubmitResultTime || p.ExternalDisputeUnlockTime <= p.UnlockTime {
		return validationError[domain.PurchaseRequest]("timings", "must satisfy pay_by_time < submit_result_time < unlock_time < external_dispute_unlock_time")
	}

	rr, err := s.store.Registry.GetByAgentIdentifier(ctx, p.AgentIdentifier)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[domain.PurchaseRequest]("no registered agent with that identifier")
	}
	if err != nil {
		return internalError[domain.PurchaseRequest](err)
	}
	if rr.State != domain.RegistrationConfirmed {
		return validationError[domain.PurchaseRequest]("agentIdentifier", "agent registration is not confirmed")
	}

	seller, err := s.store.HotWallets.GetByVKey(ctx, rr.PaymentSourceID, p.SellerVKey)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[domain.PurchaseRequest]("no selling wallet with that vkey under this payment source")
	}
	if err != nil {
		return internalError[domain.PurchaseRequest](err)
	}

	purchasing, err := s.store.HotWallets.ListByRole(ctx, rr.PaymentSourceID, domain.WalletRolePurchasing)
	if err != nil {
		return internalError[domain.PurchaseRequest](err)
	}
	if len(purchasing) == 0 {
		return internalError[domain.PurchaseRequest](errors.New("service: payment source has no purchasing wallet configured"))
	}
	// Purchasing wallets are fungible working capital for this PaymentSource;
	// the first unlocked one found is used. Locking is enforced later by the
	// Lock Funds dispatcher's TryLock, not here.
	wallet := purchasing[0]
	for _, w := range purchasing {
		if !w.Locked() {
			wallet = w
			break
		}
	}

	blockchainID, err := newBlockchainIdentifier(p.IdentifierFromPurchaser)
	if err != nil {
		return internalError[domain.PurchaseRequest](err)
	}

	req := domain.PurchaseRequest{
		EscrowSide: domain.EscrowSide{
			ID:                        newID(),
			PaymentSourceID:           rr.PaymentSourceID,
			BlockchainIdentifier:      blockchainID,
			InputHash:                 p.InputHash,
			PayByTime:                 p.PayByTime,
			SubmitResultTime:          p.SubmitResultTime,
			UnlockTime:                p.UnlockTime,
			ExternalDisputeUnlockTime: p.ExternalDisputeUnlockTime,
			RequestedFunds:            p.RequestedFunds,
			SmartContractWalletID:     wallet.ID,
			CounterpartyWallet:        &domain.WalletBase{VKey: seller.VKey, Address: seller.Address},
		},
		NextAction: domain.NextAction[domain.PurchasingAction]{RequestedAction: domain.PurchasingActionFundsLockingRequested},
	}
	if err := s.store.Purchases.Create(ctx, req); err != nil {
		return internalError[domain.PurchaseRequest](err)
	}
	return apitypes.Success(req)
}

// RequestRefund queues the Request Refund dispatcher (spec.md §6
// request_refund). Only valid once funds are locked on chain and the result
// has not yet been submitted and accepted.
func (s *Service) RequestRefund(ctx context.Context, blockchainIdentifier string) apitypes.Envelope[domain.PurchaseRequest] {
	return s.queuePurchasingAction(ctx, blockchainIdentifier, domain.PurchasingActionSetRefundRequestedRequested,
		func(req domain.PurchaseRequest) error {
			if req.OnChainState == nil || (*req.OnChainState != domain.OnChainFundsLocked && *req.OnChainState != domain.OnChainResultSubmitted) {
				return errValidation("funds are not in a state that can be refund-requested")
			}
			return nil
		},
	)
}

// CancelRefundRequest queues the Cancel Refund Request dispatcher (spec.md §6
// cancel_refund_request). Only valid while a refund is pending and not yet
// escalated to a dispute.
func (s *Service) CancelRefundRequest(ctx context.Context, blockchainIdentifier string) apitypes.Envelope[domain.PurchaseRequest] {
	return s.queuePurchasingAction(ctx, blockchainIdentifier, domain.PurchasingActionCancelRefundRequestRequested,
		func(req domain.PurchaseRequest) error {
			if req.OnChainState == nil || *req.OnChainState != domain.OnChainRefundRequested {
				return errValidation("no pending refund request to cancel")
			}
			return nil
		},
	)
}

func (s *Service) queuePurchasingAction(ctx context.Context, blockchainIdentifier string, action domain.PurchasingAction, precondition func(domain.PurchaseRequest) error) apitypes.Envelope[domain.PurchaseRequest] {
	if blockchainIdentifier == "" {
		return validationError[domain.PurchaseRequest]("blockchainIdentifier", "required")
	}

	var updated domain.PurchaseRequest
	err := s.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		req, err := s.store.Purchases.GetByBlockchainIdentifier(ctx, tx, blockchainIdentifier)
		if err != nil {
			return err
		}
		if precondition != nil {
			if err := precondition(req); err != nil {
				return err
			}
		}
		if err := s.store.Purchases.RequestAction(ctx, tx, req.ID, action); err != nil {
			return err
		}
		req.NextAction.RequestedAction = action
		req.NextAction.ErrorType = domain.ErrorTypeNone
		req.NextAction.ErrorNote = ""
		updated = req
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[domain.PurchaseRequest]("purchase request")
	}
	var ve *validationErr
	if errors.As(err, &ve) {
		return validationError[domain.PurchaseRequest]("state", ve.reason)
	}
	if err != nil {
		return internalError[domain.PurchaseRequest](err)
	}
	return apitypes.Success(updated)
}

// QueryPaymentsPage is query_payments' result shape (spec.md §6).
type QueryPaymentsPage struct {
	Items      []domain.PaymentRequest
	NextCursor string
}

// QueryPayments lists PaymentRequests for a PaymentSource with cursorId-based
// pagination (spec.md §6, page size 10).
func (s *Service) QueryPayments(ctx context.Context, paymentSourceID, cursor string) apitypes.Envelope[QueryPaymentsPage] {
	items, next, err := s.store.PaymentRequests.ListPage(ctx, paymentSourceID, cursor, defaultPageSize)
	if err != nil {
		return internalError[QueryPaymentsPage](err)
	}
	return apitypes.Success(QueryPaymentsPage{Items: items, NextCursor: next})
}

// QueryPurchasesPage is query_purchases' result shape (spec.md §6).
type QueryPurchasesPage struct {
	Items      []domain.PurchaseRequest
	NextCursor string
}

// QueryPurchases lists PurchaseRequests for a PaymentSource with cursorId-based
// pagination (spec.md §6, page size 10).
func (s *Service) QueryPurchases(ctx context.Context, paymentSourceID, cursor string) apitypes.Envelope[QueryPurchasesPage] {
	items, next, err := s.store.Purchases.ListPage(ctx, paymentSourceID, cursor, defaultPageSize)
	if err != nil {
		return internalError[QueryPurchasesPage](err)
	}
	return apitypes.Success(QueryPurchasesPage{Items: items, NextCursor: next})
}
