package engine

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

// processTransition implements spec §4.3.2: a confirmed transaction that
// spends exactly one script UTXO with exactly one redeemer, computing the
// resulting OnChainState and applying it to whichever mirror the consumed
// datum's blockchain_identifier resolves to.
func (sl *SyncLoop) processTransition(ctx context.Context, source domain.PaymentSource, d *chainadapter.TxDetail, io scriptIO) error {
	if len(io.ScriptInputs) != 1 || len(io.Redeemers) != 1 {
		sl.log.Warn("transition tx did not have exactly one script input/redeemer, skipping", zap.String("tx_hash", d.TxHash))
		return nil
	}
	spent := io.ScriptInputs[0]
	redeemer := io.Redeemers[0]

	oldDatum := decodeOutputDatum(spent, sl.log)
	if oldDatum == nil {
		sl.log.Warn("spent script UTXO had no decodable datum, skipping", zap.String("tx_hash", d.TxHash))
		return nil
	}
	var newDatum *plutus.EscrowDatum
	var newUTXO *chainadapter.UTXO
	if len(io.ScriptOutputs) == 1 {
		newUTXO = &io.ScriptOutputs[0]
		newDatum = decodeOutputDatum(*newUTXO, sl.log)
	}

	if err := sl.applyTransitionToPayment(ctx, source, d, spent, newUTXO, *oldDatum, newDatum, redeemer.Tag); err != nil {
		sl.log.Error("applying transition to payment request failed", zap.String("tx_hash", d.TxHash), zap.Error(err))
	}
	if err := sl.applyTransitionToPurchase(ctx, source, d, spent, newUTXO, *oldDatum, newDatum, redeemer.Tag); err != nil {
		sl.log.Error("applying transition to purchase request failed", zap.String("tx_hash", d.TxHash), zap.Error(err))
	}
	return nil
}

func (sl *SyncLoop) applyTransitionToPayment(ctx context.Context, source domain.PaymentSource, d *chainadapter.TxDetail, spent chainadapter.UTXO, newUTXO *chainadapter.UTXO, oldDatum plutus.EscrowDatum, newDatum *plutus.EscrowDatum, tag domain.RedeemerTag) error {
	return sl.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		req, err := sl.store.PaymentRequests.GetByBlockchainIdentifier(ctx, tx, oldDatum.BlockchainIdentifier)
		if err != nil {
			return nil
		}
		if !sl.isLegitimateSuccessor(ctx, req.CurrentTransactionID, req.TransactionHistory, spent.TxHash) {
			sl.log.Warn("transition tx does not descend from the request's known current transaction, ignoring",
				zap.String("blockchain_identifier", oldDatum.BlockchainIdentifier))
			return nil
		}

		amountOK := newUTXO == nil || AmountCorrect(newUTXO.Amounts, req.RequestedFunds, req.CollateralReturnLovelace)
		newState := ResultingOnChainState(tag, newDatum, amountOK)
		next := NextPaymentAction(req.NextAction, newState, "")

		if err := sl.store.PaymentRequests.ApplyTransition(ctx, tx, req.ID, newState, next); err != nil {
			return err
		}
		if newState == domain.OnChainDisputedWithdrawn {
			sellerAddr := sl.hotWalletAddress(ctx, req.SmartContractWalletID)
			buyerAddr := ""
			if req.CounterpartyWallet != nil {
				buyerAddr = req.CounterpartyWallet.Address
			}
			if err := sl.recordDisputedWithdrawal(ctx, tx, "payment_requests", req.ID, d, sellerAddr, buyerAddr); err != nil {
				return err
			}
		}
		return sl.recordNewCurrentTransaction(ctx, tx, "payment_requests", req.ID, req.CurrentTransactionID, d.TxHash)
	})
}

func (sl *SyncLoop) applyTransitionToPurchase(ctx context.Context, source domain.PaymentSource, d *chainadapter.TxDetail, spent chainadapter.UTXO, newUTXO *chainadapter.UTXO, oldDatum plutus.EscrowDatum, newDatum *plutus.EscrowDatum, tag domain.RedeemerTag) error {
	return sl.store.WithSerializable(ctx, func(tx *sqlx.Tx) error {
		req, err := sl.store.Purchases.GetByBlockchainIdentifier(ctx, tx, oldDatum.BlockchainIdentifier)
		if err != nil {
			return nil
		}
		if !sl.isLegitimateSuccessor(ctx, req.CurrentTransactionID, req.TransactionHistory, spent.TxHash) {
			sl.log.Warn("transition tx does not descend from the request's known current transaction, ignoring",
				zap.String("blockchain_identifier", oldDatum.BlockchainIdentifier))
			return nil
		}

		amountOK := newUTXO == nil || AmountCorrect(newUTXO.Amounts, req.RequestedFunds, req.CollateralReturnLovelace)
		newState := ResultingOnChainState(tag, newDatum, amountOK)
		next := NextPurchasingAction(req.NextAction, newState, "")

		if err := sl.store.Purchases.ApplyTransition(ctx, tx, req.ID, newState, next); err != nil {
			return err
		}
		if newState == domain.OnChainDisputedWithdrawn {
			buyerAddr := sl.hotWalletAddress(ctx, req.SmartContractWalletID)
			sellerAddr := ""
			if req.CounterpartyWallet != nil {
				sellerAddr = req.CounterpartyWallet.Address
			}
			if err := sl.recordDisputedWithdrawal(ctx, tx, "purchase_requests", req.ID, d, sellerAddr, buyerAddr); err != nil {
				return err
			}
		}
		return sl.recordNewCurrentTransaction(ctx, tx, "purchase_requests", req.ID, req.CurrentTransactionID, d.TxHash)
	})
}

// isLegitimateSuccessor walks up to MAX_HISTORY_LEVELS hops of a request's
// known Transaction trail looking for spentTxHash, matching the Sync Loop's
// "is this tx a legitimate successor" check (spec §4.3.2).
func (sl *SyncLoop) isLegitimateSuccessor(ctx context.Context, currentTxID *string, history []string, spentTxHash string) bool {
	if currentTxID != nil {
		if t, err := sl.store.Transactions.Get(ctx, *currentTxID); err == nil && t.TxHash == spentTxHash {
			return true
		}
	}
	limit := len(history)
	if limit > sl.maxHistoryLevels {
		limit = sl.maxHistoryLevels
	}
	for i := len(history) - 1; i >= len(history)-limit && i >= 0; i-- {
		if t, err := sl.store.Transactions.Get(ctx, history[i]); err == nil && t.TxHash == spentTxHash {
			return true
		}
	}
	return false
}

// hotWalletAddress resolves one of the coordinator's own wallet addresses,
// returning "" on any lookup failure so disputed-withdrawal accounting
// degrades to an empty share rather than failing the whole transition.
func (sl *SyncLoop) hotWalletAddress(ctx context.Context, walletID string) string {
	hw, err := sl.store.HotWallets.Get(ctx, walletID)
	if err != nil {
		return ""
	}
	return hw.Address
}

// recordDisputedWithdrawal computes each side's payout from the withdrawal
// transaction's non-script outputs and records it on the entity row (spec
// §4.3.2, "Disputed -> DisputedWithdrawn": withdrawn_for_seller/_buyer).
func (sl *SyncLoop) recordDisputedWithdrawal(ctx context.Context, tx *sqlx.Tx, table, requestID string, d *chainadapter.TxDetail, sellerAddr, buyerAddr string) error {
	sellerAmounts := netAmountsTo(d.Outputs, d.Inputs, sellerAddr)
	buyerAmounts := netAmountsTo(d.Outputs, d.Inputs, buyerAddr)

	sellerJSON, err := marshalAmountEntries(sellerAmounts)
	if err != nil {
		return err
	}
	buyerJSON, err := marshalAmountEntries(buyerAmounts)
	if err != nil {
		return err
	}

	column := validTableIdentForEngine(table)
	_, err = tx.ExecContext(ctx, "UPDATE "+column+" SET withdrawn_for_seller = $2, withdrawn_for_buyer = $3 WHERE id = $1",
		requestID, sellerJSON, buyerJSON)
	return err
}

// netAmountsTo computes address's net value from a transaction: matching
// outputs minus matching inputs. A wallet that also funds the transaction
// (fees, collateral, change) appears on both sides, so a plain output sum
// overstates what it actually received.
func netAmountsTo(outputs, inputs []chainadapter.UTXO, address string) []domain.AmountEntry {
	if address == "" {
		return nil
	}
	totals := map[string]int64{}
	for _, o := range outputs {
		if o.Address != address {
			continue
		}
		for _, a := range o.Amounts {
			totals[a.Unit] += a.Quantity
		}
	}
	for _, in := range inputs {
		if in.Address != address {
			continue
		}
		for _, a := range in.Amounts {
			totals[a.Unit] -= a.Quantity
		}
	}
	entries := make([]domain.AmountEntry, 0, len(totals))
	for unit, amount := range totals {
		if amount == 0 {
			continue
		}
		entries = append(entries, domain.AmountEntry{Unit: unit, Amount: amount})
	}
	return entries
}

func marshalAmountEntries(entries []domain.AmountEntry) ([]byte, error) {
	return json.Marshal(entries)
}
