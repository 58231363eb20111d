package service

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/escrowd/coordinator/internal/apitypes"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/store"
)

// CreatePaymentParams mirrors create_payment's parameter list (spec.md §6).
type CreatePaymentParams struct {
	AgentIdentifier           string
	IdentifierFromPurchaser   string
	InputHash                 string
	PayByTime                 int64
	SubmitResultTime          int64
	UnlockTime                int64
	ExternalDisputeUnlockTime int64
	RequestedFunds            []domain.AmountEntry
}

// CreatePayment creates a PaymentRequest with next_action=WaitingForExternalAction,
// buyer wallet and on_chain_state unset, under the PaymentSource that minted
// AgentIdentifier (spec.md §6 create_payment).
func (s *Service) CreatePayment(ctx context.Context, p CreatePaymentParams) apitypes.Envelope[domain.PaymentRequest] {
	if p.AgentIdentifier == "" {
		return validationError[domain.PaymentRequest]("agentIdentifier", "required")
	}
	if p.InputHash == "" {
		return validationError[domain.PaymentRequest]("inputHash", "required")
	}
	if p.PayByTime <= 0 || p.SubmitResultTime <= p.PayByTime || p.UnlockTime <= p.SubmitResultTime || p.ExternalDisputeUnlockTime <= p.UnlockTime {
		return validationError[domain.PaymentRequest]("timings", "must satisfy pay_by_time < submit_result_time < unlock_time < external_dispute_unlock_time")
	}

	rr, err := s.store.Registry.GetByAgentIdentifier(ctx, p.AgentIdentifier)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[domain.PaymentRequest]("no registered agent with that identifier")
	}
	if err != nil {
		return internalError[domain.PaymentRequest](err)
	}
	if rr.State != domain.RegistrationConfirmed {
		return validationError[domain.PaymentRequest]("agentIdentifier", "agent registration is not confirmed")
	}

	blockchainID, err := newBlockchainIdentifier(p.IdentifierFromPurchaser)
	if err != nil {
		return internalError[domain.PaymentRequest](err)
	}

	req := domain.PaymentRequest{
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
			SmartContractWalletID:     rr.SellingWalletID,
		},
		NextAction: domain.NextAction[domain.PaymentAction]{RequestedAction: domain.PaymentActionWaitingForExternalAction},
	}
	if err := s.store.PaymentRequests.Create(ctx, req); err != nil {
		return internalError[domain.PaymentRequest](err)
	}
	return apitypes.Success(req)
}

// SubmitResult records the seller's off-chain result hash and queues the
// Submit Result dispatcher (spec.md §6 submit_result). Only valid while the
// request is still waiting on the seller.
func (s *Service) SubmitResult(ctx context.Context, blockchainIdentifier, resultHash string) apitypes.Envelope[domain.PaymentRequest] {
	if resultHash == "" {
		return validationError[domain.PaymentRequest]("resultHash", "required")
	}
	return s.queuePaymentAction(ctx, blockchainIdentifier, domain.PaymentActionSubmitResultRequested,
		func(req domain.PaymentRequest) error {
			if req.NextAction.RequestedAction != domain.PaymentActionWaitingForExternalAction {
				return errValidation("request is not waiting for the seller's result")
			}
			return nil
		},
		func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `UPDATE payment_requests SET result_hash = $2 WHERE blockchain_identifier = $1`, blockchainIdentifier, resultHash)
			return err
		},
	)
}

// AuthorizeRefund queues the admin multi-sig Authorize Refund dispatcher
// (spec.md §6 authorize_refund). Only valid once the buyer has requested a
// refund on chain.
func (s *Service) AuthorizeRefund(ctx context.Context, blockchainIdentifier string) apitypes.Envelope[domain.PaymentRequest] {
	return s.queuePaymentAction(ctx, blockchainIdentifier, domain.PaymentActionAuthorizeRefundRequested,
		func(req domain.PaymentRequest) error {
			if req.OnChainState == nil || *req.OnChainState != domain.OnChainRefundRequested {
				return errValidation("refund has not been requested on chain")
			}
			return nil
		}, nil,
	)
}

// queuePaymentAction resolves blockchainIdentifier, runs precondition against
// the current row, applies an optional side-effecting write (e.g. stamping
// result_hash), then sets next_action to action — all inside one serializable
// transaction so the precondition check and the write are atomic.
func (s *Service) queuePaymentAction(ctx context.Context, blockchainIdentifier string, action domain.PaymentAction, precondition func(domain.PaymentRequest) error, extra func(*sqlx.Tx) error) apitypes.Envelope[domain.PaymentRequest] {
	if blockchainIdentifier == "" {
		return validationError[domain.PaymentRequest]("blockchainIdentifier", "required")
	}

	var updated domain.PaymentRequest
	err := s.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		req, err := s.store.PaymentRequests.GetByBlockchainIdentifier(ctx, tx, blockchainIdentifier)
		if err != nil {
			return err
		}
		if precondition != nil {
			if err := precondition(req); err != nil {
				return err
			}
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		if err := s.store.PaymentRequests.RequestAction(ctx, tx, req.ID, action); err != nil {
			return err
		}
		req.NextAction.RequestedAction = action
		req.NextAction.ErrorType = domain.ErrorTypeNone
		req.NextAction.ErrorNote = ""
		updated = req
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError[domain.PaymentRequest]("payment request")
	}
	var ve *validationErr
	if errors.As(err, &ve) {
		return validationError[domain.PaymentRequest]("state", ve.reason)
	}
	if err != nil {
		return internalError[domain.PaymentRequest](err)
	}
	return apitypes.Success(updated)
}
