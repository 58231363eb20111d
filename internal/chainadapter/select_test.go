package chainadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utxoWithLovelace(hash string, amount int64) UTXO {
	return UTXO{TxHash: hash, Amounts: []Amount{{Unit: "lovelace", Quantity: amount}}}
}

func TestSelectUTXOsLargestFirst(t *testing.T) {
	utxos := []UTXO{
		utxoWithLovelace("a", 1_000_000),
		utxoWithLovelace("b", 5_000_000),
		utxoWithLovelace("c", 2_000_000),
	}

	selected, change, err := SelectUTXOs(utxos, 6_000_000, DefaultMaxUTXOsPerTx)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "b", selected[0].TxHash)
	assert.Equal(t, "c", selected[1].TxHash)
	assert.Equal(t, int64(1_000_000), change)
}

func TestSelectUTXOsInsufficientFunds(t *testing.T) {
	utxos := []UTXO{utxoWithLovelace("a", 1_000_000)}
	_, _, err := SelectUTXOs(utxos, 5_000_000, DefaultMaxUTXOsPerTx)
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestSelectUTXOsTruncatesToMax(t *testing.T) {
	utxos := []UTXO{
		utxoWithLovelace("a", 1),
		utxoWithLovelace("b", 1),
		utxoWithLovelace("c", 1),
	}
	_, _, err := SelectUTXOs(utxos, 3, 2)
	require.Error(t, err)
}

func TestSelectCollateralRejectsMixedAssetUTXO(t *testing.T) {
	utxos := []UTXO{
		{TxHash: "a", Amounts: []Amount{{Unit: "lovelace", Quantity: 10_000_000}, {Unit: "policy.token", Quantity: 1}}},
		{TxHash: "b", Amounts: []Amount{{Unit: "lovelace", Quantity: 6_000_000}}},
	}
	got, err := SelectCollateral(utxos, 5_000_000)
	require.NoError(t, err)
	assert.Equal(t, "b", got.TxHash)
}

func TestSelectCollateralNoneMeetsMinimum(t *testing.T) {
	utxos := []UTXO{utxoWithLovelace("a", 1_000_000)}
	_, err := SelectCollateral(utxos, 5_000_000)
	assert.Error(t, err)
}

func TestSelectUTXOsCarryingIncludesHolderAndFeeInputs(t *testing.T) {
	unit := "policyid.agentname"
	utxos := []UTXO{
		utxoWithLovelace("fee-small", 1_000_000),
		{TxHash: "holder", Amounts: []Amount{{Unit: "lovelace", Quantity: 2_000_000}, {Unit: unit, Quantity: 1}}},
		utxoWithLovelace("fee-large", 5_000_000),
	}

	selected, total, err := SelectUTXOsCarrying(utxos, unit, DefaultMaxUTXOsPerTx)
	require.NoError(t, err)
	require.Len(t, selected, 3)
	assert.Equal(t, "holder", selected[0].TxHash)
	assert.Equal(t, "fee-large", selected[1].TxHash)
	assert.Equal(t, "fee-small", selected[2].TxHash)
	assert.Equal(t, int64(8_000_000), total)
}

func TestSelectUTXOsCarryingNoHolder(t *testing.T) {
	utxos := []UTXO{utxoWithLovelace("a", 1_000_000)}
	_, _, err := SelectUTXOsCarrying(utxos, "policyid.missing", DefaultMaxUTXOsPerTx)
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestSelectUTXOsCarryingTruncatesFeeInputsToMax(t *testing.T) {
	unit := "policyid.agentname"
	utxos := []UTXO{
		{TxHash: "holder", Amounts: []Amount{{Unit: "lovelace", Quantity: 2_000_000}, {Unit: unit, Quantity: 1}}},
		utxoWithLovelace("fee-1", 1_000_000),
		utxoWithLovelace("fee-2", 1_000_000),
	}
	selected, _, err := SelectUTXOsCarrying(utxos, unit, 2)
	require.NoError(t, err)
	assert.Len(t, selected, 2)
	assert.Equal(t, "holder", selected[0].TxHash)
}
