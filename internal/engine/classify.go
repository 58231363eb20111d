package engine

import (
	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

// TxClassification identifies what role a confirmed transaction plays
// against the escrow script address (spec §4.3 step 4).
type TxClassification int

const (
	ClassInvalid TxClassification = iota
	ClassInitial
	ClassTransaction
	ClassUnrelated
)

// scriptIO is the subset of a TxDetail's inputs/outputs that touch the
// script address, extracted once so classification and dispatch both work
// from the same filtered view.
type scriptIO struct {
	ScriptInputs  []chainadapter.UTXO
	ScriptOutputs []chainadapter.UTXO
	Redeemers     []plutus.Redeemer
}

// Classify applies spec §4.3 step 4's rules to one confirmed transaction.
func Classify(io scriptIO) TxClassification {
	for _, out := range io.ScriptOutputs {
		if out.ReferenceScriptHash != nil {
			return ClassInvalid
		}
	}

	switch {
	case len(io.ScriptInputs) == 0 && len(io.ScriptOutputs) >= 1 && len(io.Redeemers) == 0:
		return ClassInitial
	case len(io.ScriptInputs) == 1 && len(io.Redeemers) == 1 && len(io.ScriptOutputs) <= 1:
		return ClassTransaction
	case len(io.ScriptInputs) == 0 && len(io.ScriptOutputs) == 0:
		return ClassUnrelated
	default:
		return ClassInvalid
	}
}

// ResultingOnChainState maps (redeemer, new_datum, amount_ok) to the
// OnChainState a state-transition transaction produces (spec §4.3.2's
// table). newDatum is nil when the redeemer leaves no script output
// (Withdraw, WithdrawRefund, WithdrawDisputed).
func ResultingOnChainState(redeemer domain.RedeemerTag, newDatum *plutus.EscrowDatum, amountOK bool) domain.OnChainState {
	switch redeemer {
	case domain.RedeemerWithdraw:
		return domain.OnChainWithdrawn
	case domain.RedeemerRequestRefund:
		if newDatum != nil && newDatum.ResultHash != "" {
			return domain.OnChainDisputed
		}
		return domain.OnChainRefundRequested
	case domain.RedeemerCancelRefundRequest:
		if newDatum != nil && newDatum.ResultHash != "" {
			return domain.OnChainResultSubmitted
		}
		if amountOK {
			return domain.OnChainFundsLocked
		}
		return domain.OnChainFundsOrDatumInvalid
	case domain.RedeemerWithdrawRefund:
		return domain.OnChainRefundWithdrawn
	case domain.RedeemerWithdrawDisputed:
		return domain.OnChainDisputedWithdrawn
	case domain.RedeemerSubmitResult:
		if newDatum != nil && (newDatum.State == domain.ContractRefundRequested || newDatum.State == domain.ContractDisputed) {
			return domain.OnChainDisputed
		}
		return domain.OnChainResultSubmitted
	case domain.RedeemerAllowRefund:
		return domain.OnChainRefundRequested
	default:
		return domain.OnChainFundsOrDatumInvalid
	}
}

// AmountCorrect implements the amount-correctness predicate from §4.3.2:
// the new output must cover every requested unit — lovelace must meet or
// exceed requested+collateral, every token unit must match exactly.
func AmountCorrect(newOutputAmounts []chainadapter.Amount, requested []domain.AmountEntry, collateralReturn int64) bool {
	have := map[string]int64{}
	for _, a := range newOutputAmounts {
		have[a.Unit] += a.Quantity
	}

	for _, r := range requested {
		if r.Unit == "lovelace" {
			if have[r.Unit] < r.Amount+collateralReturn {
				return false
			}
			continue
		}
		if have[r.Unit] != r.Amount {
			return false
		}
	}
	return true
}
