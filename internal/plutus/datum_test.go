package plutus

import (
	"strings"
	"testing"

	"github.com/escrowd/coordinator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDatum() EscrowDatum {
	return EscrowDatum{
		BuyerVKey:                 strings.Repeat("ab", 32),
		BuyerAddress:              Address{PaymentCredential: Credential{Hash: make([]byte, 28)}},
		SellerVKey:                strings.Repeat("cd", 32),
		SellerAddress:             Address{PaymentCredential: Credential{IsScript: true, Hash: make([]byte, 28)}},
		BlockchainIdentifier:      "escrow-12345",
		ResultHash:                "",
		ResultTime:                1_700_000_000_000,
		UnlockTime:                1_700_000_600_000,
		ExternalDisputeUnlockTime: 1_700_001_200_000,
		PayByTime:                 1_699_999_000_000,
		BuyerCooldownTime:         600_000,
		SellerCooldownTime:        600_000,
		State:                     domain.ContractFundsLocked,
		InputHash:                 strings.Repeat("11", 32),
		CollateralReturnLovelace:  5_000_000,
	}
}

func TestEscrowDatumRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		datum EscrowDatum
	}{
		{name: "funds locked, no stake credential", datum: sampleDatum()},
		{name: "result submitted, with result hash", datum: func() EscrowDatum {
			d := sampleDatum()
			d.State = domain.ContractResultSubmitted
			d.ResultHash = strings.Repeat("22", 32)
			return d
		}()},
		{name: "disputed, stake credential present on both sides", datum: func() EscrowDatum {
			d := sampleDatum()
			d.State = domain.ContractDisputed
			stake := Credential{Hash: make([]byte, 28)}
			d.BuyerAddress.StakeCredential = &stake
			d.SellerAddress.StakeCredential = &stake
			return d
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.datum.Encode()
			require.NoError(t, err)

			decoded, err := DecodeDatum(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.datum, decoded)
		})
	}
}

func TestDatumFromDataRejectsWrongShape(t *testing.T) {
	_, err := DatumFromData(Constr(0, Int(1)))
	assert.Error(t, err)

	_, err = DatumFromData(Constr(1))
	assert.Error(t, err)
}

func TestAddressRoundTripNoStake(t *testing.T) {
	addr := Address{PaymentCredential: Credential{Hash: []byte{1, 2, 3}}}
	decoded, err := AddressFromData(addr.ToData())
	require.NoError(t, err)
	assert.Equal(t, addr, decoded)
}

func TestAddressRoundTripWithStake(t *testing.T) {
	stake := Credential{IsScript: true, Hash: []byte{9, 9, 9}}
	addr := Address{
		PaymentCredential: Credential{Hash: []byte{1, 2, 3}},
		StakeCredential:   &stake,
	}
	decoded, err := AddressFromData(addr.ToData())
	require.NoError(t, err)
	assert.Equal(t, addr, decoded)
}

func TestRedeemerRoundTrip(t *testing.T) {
	for tag := domain.RedeemerWithdraw; tag <= domain.RedeemerAllowRefund; tag++ {
		r := Redeemer{Tag: tag}
		raw, err := r.Encode()
		require.NoError(t, err)

		decoded, err := DecodeRedeemer(raw)
		require.NoError(t, err)
		assert.Equal(t, r, decoded)
	}
}

func TestRedeemerFromDataRejectsOutOfRangeTag(t *testing.T) {
	_, err := RedeemerFromData(Constr(7))
	assert.Error(t, err)
}

func TestStringToMetadataShortStringUnchanged(t *testing.T) {
	chunks := stringToMetadata("short description")
	assert.Equal(t, []string{"short description"}, chunks)
}

func TestStringToMetadataSplitsLongStrings(t *testing.T) {
	long := strings.Repeat("a", 130)
	chunks := stringToMetadata(long)
	require.Len(t, chunks, 3)
	for _, c := range chunks[:2] {
		assert.LessOrEqual(t, len(c), metadataChunkSize)
	}
	assert.Equal(t, long, strings.Join(chunks, ""))
}

func TestStringToMetadataPreservesMultiByteRunes(t *testing.T) {
	long := strings.Repeat("中", 40) // each rune is 3 bytes
	chunks := stringToMetadata(long)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), metadataChunkSize)
		assert.True(t, len(c)%3 == 0 || c == chunks[len(chunks)-1])
	}
	assert.Equal(t, long, strings.Join(chunks, ""))
}
