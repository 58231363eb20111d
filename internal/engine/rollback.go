package engine

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/store"
)

// RollbackHandler implements spec §4.3 step 2 and §4.6: when the Sync Loop
// discovers that previously-confirmed transactions no longer resolve on
// chain, every entity they were blocking moves to a manual-review state
// and the wallet locks they held are released.
type RollbackHandler struct {
	store *store.Store
	log   *zap.Logger
}

// Handle processes one source's rolled-back hashes in the order given (the
// sync loop passes them newest first).
// A hash that was never recorded as a coordinator-submitted Transaction
// (e.g. a third party's unrelated rollback) is skipped.
func (h *RollbackHandler) Handle(ctx context.Context, source domain.PaymentSource, txHashes []string) error {
	for _, hash := range txHashes {
		if err := h.handleOne(ctx, source, hash); err != nil {
			h.log.Error("handling rolled back transaction failed", zap.String("tx_hash", hash), zap.Error(err))
		}
	}
	return h.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		return h.store.Identifiers.DeleteHashes(ctx, tx, source.ID, txHashes)
	})
}

func (h *RollbackHandler) handleOne(ctx context.Context, source domain.PaymentSource, txHash string) error {
	txn, err := h.store.Transactions.GetByTxHash(ctx, txHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return h.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		if err := h.store.Transactions.RollBack(ctx, tx, txn.ID); err != nil {
			return err
		}
		if txn.BlocksWalletID != nil {
			if err := h.store.HotWallets.Unlock(ctx, tx, *txn.BlocksWalletID); err != nil {
				return err
			}
		}

		if pr, err := h.store.PaymentRequests.FindByCurrentTransactionID(ctx, tx, txn.ID); err == nil {
			next := RolledBackPaymentAction(pr.NextAction)
			if err := h.store.PaymentRequests.ApplyTransition(ctx, tx, pr.ID, *defaultOnChainState(pr.OnChainState), next); err != nil {
				return err
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if pu, err := h.store.Purchases.FindByCurrentTransactionID(ctx, tx, txn.ID); err == nil {
			next := RolledBackPurchasingAction(pu.NextAction)
			if err := h.store.Purchases.ApplyTransition(ctx, tx, pu.ID, *defaultOnChainState(pu.OnChainState), next); err != nil {
				return err
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if rr, err := h.store.Registry.FindByCurrentTransactionID(ctx, tx, txn.ID); err == nil {
			note := "Rolled back transaction detected; manual review required"
			var nextState domain.RegistrationState
			switch rr.State {
			case domain.RegistrationInitiated:
				nextState = domain.RegistrationFailed
			case domain.DeregistrationInitiated:
				nextState = domain.RegistrationConfirmed // deregistration never went through, agent is still live
			default:
				nextState = rr.State
			}
			if err := h.store.Registry.SetState(ctx, tx, rr.ID, nextState, &note); err != nil {
				return err
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		return nil
	})
}

// defaultOnChainState preserves whatever on_chain_state a request already
// carried across a rollback — the rollback only changes next_action and
// error_type, it does not invent a new reconstructed chain state.
func defaultOnChainState(current *domain.OnChainState) *domain.OnChainState {
	if current != nil {
		return current
	}
	none := domain.OnChainState("")
	return &none
}
