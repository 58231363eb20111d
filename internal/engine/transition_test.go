package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/escrowd/coordinator/internal/chainadapter"
	"github.com/escrowd/coordinator/internal/domain"
)

func TestNetAmountsToSubtractsMatchingInputs(t *testing.T) {
	outputs := []chainadapter.UTXO{
		{Address: "seller", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 10_000_000}}},
	}
	inputs := []chainadapter.UTXO{
		{Address: "seller", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 3_000_000}}},
	}

	got := netAmountsTo(outputs, inputs, "seller")
	assert.Equal(t, []domain.AmountEntry{{Unit: "lovelace", Amount: 7_000_000}}, got)
}

func TestNetAmountsToIgnoresOtherAddresses(t *testing.T) {
	outputs := []chainadapter.UTXO{
		{Address: "seller", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 5_000_000}}},
		{Address: "buyer", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 1_000_000}}},
	}
	got := netAmountsTo(outputs, nil, "seller")
	assert.Equal(t, []domain.AmountEntry{{Unit: "lovelace", Amount: 5_000_000}}, got)
}

func TestNetAmountsToDropsZeroNetUnits(t *testing.T) {
	outputs := []chainadapter.UTXO{
		{Address: "seller", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 5_000_000}}},
	}
	inputs := []chainadapter.UTXO{
		{Address: "seller", Amounts: []chainadapter.Amount{{Unit: "lovelace", Quantity: 5_000_000}}},
	}
	got := netAmountsTo(outputs, inputs, "seller")
	assert.Empty(t, got)
}

func TestNetAmountsToEmptyAddressYieldsNil(t *testing.T) {
	got := netAmountsTo(nil, nil, "")
	assert.Nil(t, got)
}
