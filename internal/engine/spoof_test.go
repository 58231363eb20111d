package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

func validInitialFixture(t *testing.T) (initialTxFields, domain.EscrowSide, domain.WalletBase, domain.WalletBase) {
	t.Helper()
	sellerCred, err := plutus.VKeyHash("aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44"[:56])
	if err != nil {
		t.Fatalf("building seller credential: %v", err)
	}
	buyerCred, err := plutus.VKeyHash("1122334455667788990011223344556677889900112233445566778899001122"[:56])
	if err != nil {
		t.Fatalf("building buyer credential: %v", err)
	}
	sellerAddr := plutus.Address{PaymentCredential: sellerCred}
	buyerAddr := plutus.Address{PaymentCredential: buyerCred}

	sellerWallet := domain.WalletBase{VKey: "seller-vkey", Address: plutus.EncodeAddress(sellerAddr)}
	buyerWallet := domain.WalletBase{VKey: "buyer-vkey", Address: plutus.EncodeAddress(buyerAddr)}

	req := domain.EscrowSide{
		PayByTime:                 1_000,
		SubmitResultTime:          2_000,
		ExternalDisputeUnlockTime: 4_000,
		UnlockTime:                3_000,
		CollateralReturnLovelace:  2_000_000,
	}

	fields := initialTxFields{
		Datum: plutus.EscrowDatum{
			SellerVKey:                sellerWallet.VKey,
			SellerAddress:             sellerAddr,
			BuyerVKey:                 buyerWallet.VKey,
			BuyerAddress:              buyerAddr,
			PayByTime:                 req.PayByTime,
			ResultTime:                req.SubmitResultTime,
			ExternalDisputeUnlockTime: req.ExternalDisputeUnlockTime,
			UnlockTime:                req.UnlockTime,
			CollateralReturnLovelace:  req.CollateralReturnLovelace,
		},
		InputAddresses: []string{buyerWallet.Address},
		BlockTimeMs:    500,
	}
	return fields, req, sellerWallet, buyerWallet
}

func TestCheckInitialFieldsAcceptsAMatchingInitialTx(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Empty(t, violations)
}

func TestCheckInitialFieldsRejectsSellerMismatch(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	fields.Datum.SellerVKey = "someone-else"
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "seller vkey/address does not match recorded seller wallet")
}

func TestCheckInitialFieldsRejectsMissingBuyerInput(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	fields.InputAddresses = []string{"some-other-address"}
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "no transaction input originates from the buyer address")
}

func TestCheckInitialFieldsRejectsPayByTimeMismatch(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	fields.Datum.PayByTime = req.PayByTime + 1
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "pay_by_time does not match")
}

func TestCheckInitialFieldsRejectsNonZeroCooldowns(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	fields.Datum.BuyerCooldownTime = 1
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "cooldown times must be zero on an initial lock")
}

func TestCheckInitialFieldsRejectsNonEmptyResultHash(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	fields.Datum.ResultHash = "already-submitted"
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "result_hash must be empty on an initial lock")
}

func TestCheckInitialFieldsRejectsBlockTimeAfterPayByTime(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	fields.BlockTimeMs = req.PayByTime + 1
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "block time is after pay_by_time")
}

func TestCheckInitialFieldsRejectsReferenceScript(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	hash := "deadbeef"
	fields.ReferenceScriptHash = &hash
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "reference script must be absent")
}

func TestCheckInitialFieldsRejectsRefundRequestedOrDisputedState(t *testing.T) {
	fields, req, sellerWallet, buyerWallet := validInitialFixture(t)
	fields.Datum.State = domain.ContractRefundRequested
	violations := checkInitialFields(fields, req, sellerWallet, buyerWallet)
	assert.Contains(t, violations, "datum state must not already be RefundRequested or Disputed")
}
