package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
)

// processInitial implements spec §4.3.1: for each script output of an
// Initial transaction, try to match it first against a pending
// PurchaseRequest, then independently against a pending PaymentRequest.
func (sl *SyncLoop) processInitial(ctx context.Context, source domain.PaymentSource, d *chainadapter.TxDetail, io scriptIO) error {
	for _, out := range io.ScriptOutputs {
		datum := decodeOutputDatum(out, sl.log)
		if datum == nil {
			continue
		}

		fields := initialTxFields{
			Datum:               *datum,
			InputAddresses:      scriptInputAddresses(d.Inputs),
			BlockTimeMs:         d.BlockTime.UnixMilli(),
			ReferenceScriptHash: out.ReferenceScriptHash,
		}

		if err := sl.tryMatchPurchase(ctx, source, d, fields); err != nil {
			sl.log.Error("matching initial tx against purchase requests failed", zap.String("tx_hash", d.TxHash), zap.Error(err))
		}
		if err := sl.tryMatchPayment(ctx, source, d, fields); err != nil {
			sl.log.Error("matching initial tx against payment requests failed", zap.String("tx_hash", d.TxHash), zap.Error(err))
		}
	}
	return nil
}

func (sl *SyncLoop) tryMatchPurchase(ctx context.Context, source domain.PaymentSource, d *chainadapter.TxDetail, f initialTxFields) error {
	return sl.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		req, err := sl.store.Purchases.GetByBlockchainIdentifier(ctx, tx, f.Datum.BlockchainIdentifier)
		if err != nil {
			return nil // no matching record, nothing to do — not an error
		}
		if req.NextAction.RequestedAction != domain.PurchasingActionFundsLockingInitiated {
			return nil
		}

		sellerWallet, buyerWallet, err := sl.resolveInitialWallets(ctx, req.SmartContractWalletID, req.CounterpartyWallet)
		if err != nil {
			return err
		}
		if violations := checkInitialFields(f, req.EscrowSide, sellerWallet, buyerWallet); len(violations) > 0 {
			// Purchase side is not authoritative: a spoofed or malformed
			// Initial output against a purchase is silently ignored.
			sl.log.Debug("initial tx did not match purchase request, ignoring",
				zap.String("blockchain_identifier", f.Datum.BlockchainIdentifier), zap.Strings("violations", violations))
			return nil
		}

		next := NextPurchasingAction(req.NextAction, domain.OnChainFundsLocked, "")
		if err := sl.store.Purchases.ApplyTransition(ctx, tx, req.ID, domain.OnChainFundsLocked, next); err != nil {
			return err
		}
		return sl.recordNewCurrentTransaction(ctx, tx, "purchase_requests", req.ID, req.CurrentTransactionID, d.TxHash)
	})
}

func (sl *SyncLoop) tryMatchPayment(ctx context.Context, source domain.PaymentSource, d *chainadapter.TxDetail, f initialTxFields) error {
	return sl.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		req, err := sl.store.PaymentRequests.GetByBlockchainIdentifier(ctx, tx, f.Datum.BlockchainIdentifier)
		if err != nil {
			return nil
		}
		if req.NextAction.RequestedAction != domain.PaymentActionWaitingForExternalAction || req.CounterpartyWallet != nil {
			return nil
		}

		sellerWallet, buyerWallet, err := sl.resolveInitialWallets(ctx, req.SmartContractWalletID, nil)
		if err != nil {
			return err
		}
		// The buyer wallet is not yet attached on the payment side; derive
		// it straight from the datum the same way the seller's own wallet
		// is validated, then attach it once the fields check out.
		buyerWallet = domain.WalletBase{VKey: f.Datum.BuyerVKey, Address: addressString(f.Datum.BuyerAddress)}

		// Payment side is authoritative: any mismatch is recorded, not
		// ignored (spec §4.3.1's deliberate asymmetry).
		violations := checkInitialFields(f, req.EscrowSide, sellerWallet, buyerWallet)
		if len(violations) > 0 {
			note := "spoof check failed: " + strings.Join(violations, "; ")
			next := NextPaymentAction(req.NextAction, domain.OnChainFundsOrDatumInvalid, note)
			return sl.store.PaymentRequests.ApplyTransition(ctx, tx, req.ID, domain.OnChainFundsOrDatumInvalid, next)
		}

		if err := sl.attachCounterpartyWallet(ctx, tx, req.ID, buyerWallet); err != nil {
			return err
		}
		next := NextPaymentAction(req.NextAction, domain.OnChainFundsLocked, "")
		if err := sl.store.PaymentRequests.ApplyTransition(ctx, tx, req.ID, domain.OnChainFundsLocked, next); err != nil {
			return err
		}
		return sl.recordNewCurrentTransaction(ctx, tx, "payment_requests", req.ID, req.CurrentTransactionID, d.TxHash)
	})
}

// resolveInitialWallets loads the seller HotWallet's public identity and,
// when already known, the counterparty's.
func (sl *SyncLoop) resolveInitialWallets(ctx context.Context, smartContractWalletID string, counterparty *domain.WalletBase) (domain.WalletBase, domain.WalletBase, error) {
	hw, err := sl.store.HotWallets.Get(ctx, smartContractWalletID)
	if err != nil {
		return domain.WalletBase{}, domain.WalletBase{}, err
	}
	sellerWallet := domain.WalletBase{VKey: hw.VKey, Address: hw.Address}
	var buyerWallet domain.WalletBase
	if counterparty != nil {
		buyerWallet = *counterparty
	}
	return sellerWallet, buyerWallet, nil
}

func (sl *SyncLoop) attachCounterpartyWallet(ctx context.Context, tx *sqlx.Tx, requestID string, wallet domain.WalletBase) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_requests SET counterparty_vkey = $2, counterparty_address = $3 WHERE id = $1`,
		requestID, wallet.VKey, wallet.Address)
	return err
}

// recordNewCurrentTransaction archives whatever was current into history
// and creates+attaches a fresh Confirmed Transaction, releasing any wallet
// lock it held (spec §4.3.1: "move prior current_tx to history, create a
// new Confirmed Transaction, release wallet lock if held").
func (sl *SyncLoop) recordNewCurrentTransaction(ctx context.Context, tx *sqlx.Tx, table, requestID string, prevTxID *string, txHash string) error {
	if err := sl.store.Transactions.ArchiveCurrent(ctx, tx, table, requestID, sl.maxHistoryLevels); err != nil {
		return err
	}
	newTxID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, tx_hash, status) VALUES ($1, $2, 'Confirmed')`, newTxID, txHash); err != nil {
		return err
	}
	query := "UPDATE " + validTableIdentForEngine(table) + " SET current_transaction_id = $2 WHERE id = $1"
	if _, err := tx.ExecContext(ctx, query, requestID, newTxID); err != nil {
		return err
	}
	if prevTxID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE hot_wallets SET locked_at = NULL WHERE id IN (
			SELECT blocks_wallet_id FROM transactions WHERE id = $1)`, *prevTxID); err != nil {
			return err
		}
	}
	return nil
}

// validTableIdentForEngine mirrors store.validTableIdent's allowlist guard;
// duplicated rather than exported because the Persistence Façade does not
// expose table names outside its own package.
func validTableIdentForEngine(table string) string {
	switch table {
	case "payment_requests", "purchase_requests":
		return table
	default:
		panic("engine: unexpected table " + table)
	}
}
