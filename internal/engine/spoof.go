package engine

import (
	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

// initialTxFields is the set of an Initial transaction's script-output
// datum fields and tx-level facts the anti-spoofing check validates against
// a stored request (spec §4.3.1).
type initialTxFields struct {
	Datum          plutus.EscrowDatum
	InputAddresses []string
	BlockTimeMs    int64
	ReferenceScriptHash *string
}

// checkInitialFields validates an Initial transaction's script-output
// datum against a stored request's EscrowSide (spec §4.3.1). It is used for
// both the PurchaseRequest and PaymentRequest match attempts — the two
// sides share every field the check inspects, differing only in what the
// caller does with a non-empty violation list (purchase silently ignores,
// payment records FundsOrDatumInvalid with the accumulated notes).
func checkInitialFields(f initialTxFields, req domain.EscrowSide, sellerWallet, buyerWallet domain.WalletBase) []string {
	var violations []string

	if f.Datum.SellerVKey != sellerWallet.VKey || addressString(f.Datum.SellerAddress) != sellerWallet.Address {
		violations = append(violations, "seller vkey/address does not match recorded seller wallet")
	}
	if f.Datum.BuyerVKey != buyerWallet.VKey || addressString(f.Datum.BuyerAddress) != buyerWallet.Address {
		violations = append(violations, "buyer vkey/address does not match recorded buyer wallet")
	}
	if !containsAddress(f.InputAddresses, buyerWallet.Address) {
		violations = append(violations, "no transaction input originates from the buyer address")
	}
	if f.Datum.PayByTime != req.PayByTime {
		violations = append(violations, "pay_by_time does not match")
	}
	if f.Datum.ResultTime != req.SubmitResultTime {
		violations = append(violations, "result_time does not match")
	}
	if f.Datum.ExternalDisputeUnlockTime != req.ExternalDisputeUnlockTime {
		violations = append(violations, "external_dispute_unlock_time does not match")
	}
	if f.Datum.UnlockTime < req.UnlockTime {
		violations = append(violations, "unlock_time is earlier than the stored value")
	}
	if f.Datum.CollateralReturnLovelace != req.CollateralReturnLovelace {
		violations = append(violations, "collateral_return_lovelace does not match")
	}
	if f.Datum.BuyerCooldownTime != 0 || f.Datum.SellerCooldownTime != 0 {
		violations = append(violations, "cooldown times must be zero on an initial lock")
	}
	if f.Datum.State == domain.ContractRefundRequested || f.Datum.State == domain.ContractDisputed {
		violations = append(violations, "datum state must not already be RefundRequested or Disputed")
	}
	if f.Datum.ResultHash != "" {
		violations = append(violations, "result_hash must be empty on an initial lock")
	}
	if f.BlockTimeMs > f.Datum.PayByTime {
		violations = append(violations, "block time is after pay_by_time")
	}
	if f.ReferenceScriptHash != nil {
		violations = append(violations, "reference script must be absent")
	}

	return violations
}

func addressString(a plutus.Address) string {
	return plutus.EncodeAddress(a)
}

func containsAddress(addrs []string, want string) bool {
	for _, a := range addrs {
		if a == want {
			return true
		}
	}
	return false
}

// scriptInputAddresses collects the addresses of all of a transaction's
// inputs, script inputs included, the set checked for "some tx input
// address equals buyer address".
func scriptInputAddresses(inputs []chainadapter.UTXO) []string {
	addrs := make([]string, len(inputs))
	for i, u := range inputs {
		addrs[i] = u.Address
	}
	return addrs
}
