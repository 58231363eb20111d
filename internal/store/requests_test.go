package store

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowd/coordinator/internal/domain"
)

func TestEscrowSideRowDecodesJSONBColumns(t *testing.T) {
	requestedFunds, err := marshalJSON([]domain.AmountEntry{{Unit: "lovelace", Amount: 10_000_000}})
	require.NoError(t, err)
	history, err := marshalJSON([]string{"tx-1", "tx-2"})
	require.NoError(t, err)

	row := escrowSideRow{
		ID:                     "req-1",
		PaymentSourceID:        "src-1",
		BlockchainIdentifier:   "escrow-1",
		RequestedFunds:         requestedFunds,
		TransactionHistory:     history,
		OnChainState:           sql.NullString{String: "FundsLocked", Valid: true},
		CounterpartyWalletVKey: sql.NullString{String: "vkey-buyer", Valid: true},
		CounterpartyWalletAddress: sql.NullString{String: "addr-buyer", Valid: true},
		SmartContractWalletID:  "wallet-1",
	}

	side, err := row.toEscrowSide()
	require.NoError(t, err)
	assert.Equal(t, []domain.AmountEntry{{Unit: "lovelace", Amount: 10_000_000}}, side.RequestedFunds)
	assert.Equal(t, []string{"tx-1", "tx-2"}, side.TransactionHistory)
	require.NotNil(t, side.OnChainState)
	assert.Equal(t, domain.OnChainFundsLocked, *side.OnChainState)
	require.NotNil(t, side.CounterpartyWallet)
	assert.Equal(t, "vkey-buyer", side.CounterpartyWallet.VKey)
}

func TestEscrowSideRowHandlesEmptyJSONBColumns(t *testing.T) {
	row := escrowSideRow{ID: "req-2"}
	side, err := row.toEscrowSide()
	require.NoError(t, err)
	assert.Nil(t, side.RequestedFunds)
	assert.Nil(t, side.TransactionHistory)
	assert.Nil(t, side.OnChainState)
	assert.Nil(t, side.CounterpartyWallet)
}

func TestEscrowSideRowRejectsMalformedJSON(t *testing.T) {
	row := escrowSideRow{ID: "req-3", RequestedFunds: []byte("not json")}
	_, err := row.toEscrowSide()
	assert.Error(t, err)
}

func TestValidTableIdentRejectsUnknownTable(t *testing.T) {
	assert.Panics(t, func() { validTableIdent("drop_table") })
}

func TestMarshalJSONRoundTrips(t *testing.T) {
	raw, err := marshalJSON(domain.Pricing{Type: domain.PricingFixed, Amounts: []domain.AmountEntry{{Unit: "lovelace", Amount: 1}}})
	require.NoError(t, err)

	var decoded domain.Pricing
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, domain.PricingFixed, decoded.Type)
}
