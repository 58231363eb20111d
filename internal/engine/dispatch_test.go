package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
)

func TestToTxInputSplitsLovelaceFromAssets(t *testing.T) {
	u := chainadapter.UTXO{
		TxHash:      "hash-1",
		OutputIndex: 2,
		Address:     "addr-1",
		Amounts: []chainadapter.Amount{
			{Unit: "lovelace", Quantity: 5_000_000},
			{Unit: "policyid.token", Quantity: 3},
		},
	}

	in := toTxInput(u)
	assert.Equal(t, "hash-1", in.TxHash)
	assert.Equal(t, 2, in.OutputIndex)
	assert.Equal(t, int64(5_000_000), in.Lovelace)
	assert.Equal(t, int64(3), in.Assets["policyid.token"])
}

func TestToTxInputsPreservesOrder(t *testing.T) {
	utxos := []chainadapter.UTXO{
		{TxHash: "a", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 1}}},
		{TxHash: "b", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 2}}},
	}
	ins := toTxInputs(utxos)
	assert.Equal(t, "a", ins[0].TxHash)
	assert.Equal(t, "b", ins[1].TxHash)
}

func TestAmountEntriesToOutputValueSeparatesLovelaceAndAssets(t *testing.T) {
	entries := []domain.AmountEntry{
		{Unit: "lovelace", Amount: 10_000_000},
		{Unit: "policyid.token", Amount: 1},
		{Unit: "lovelace", Amount: 5_000_000},
	}
	lovelace, assets := amountEntriesToOutputValue(entries)
	assert.Equal(t, int64(15_000_000), lovelace)
	assert.Equal(t, int64(1), assets["policyid.token"])
}

func TestValidityWindowAppliesSymmetricOffset(t *testing.T) {
	from, to := validityWindow(1_000, 150_000_000_000) // 150s as nanoseconds via time.Duration
	assert.Equal(t, int64(850), from)
	assert.Equal(t, int64(1150), to)
}

func TestDecodeVKeyReturnsNilOnBadHex(t *testing.T) {
	w := domain.HotWallet{VKey: "not-hex"}
	assert.Nil(t, decodeVKey(w))
}

func TestDecodeVKeyDecodesHex(t *testing.T) {
	w := domain.HotWallet{VKey: "deadbeef"}
	got := decodeVKey(w)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got)
}

func TestStrPtrReturnsAddressableCopy(t *testing.T) {
	p := strPtr("cause")
	assert.Equal(t, "cause", *p)
}
