package engine

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/escrowd/coordinator/internal/domain"
	"github.com/escrowd/coordinator/internal/plutus"
)

func TestDeriveAssetNameMatchesBlake2b256OfTxHashAndIndex(t *testing.T) {
	txHash := "aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44"
	in := plutus.TxInput{TxHash: txHash, OutputIndex: 1}

	got, err := deriveAssetName(in)
	require.NoError(t, err)

	raw, _ := hex.DecodeString(txHash)
	want := blake2b.Sum256(append(raw, 0, 0, 0, 1))
	assert.Equal(t, want[:], got)
	assert.Len(t, got, 32)
}

func TestDeriveAssetNameRejectsBadTxHash(t *testing.T) {
	_, err := deriveAssetName(plutus.TxInput{TxHash: "not-hex"})
	assert.Error(t, err)
}

func TestDeriveAssetNameVariesWithOutputIndex(t *testing.T) {
	txHash := "aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44"
	a, err := deriveAssetName(plutus.TxInput{TxHash: txHash, OutputIndex: 0})
	require.NoError(t, err)
	b, err := deriveAssetName(plutus.TxInput{TxHash: txHash, OutputIndex: 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRegisterAgentMetadataProducesLabels721And674(t *testing.T) {
	rr := domain.RegistryRequest{
		Name:        "summarizer-agent",
		Description: "summarizes documents",
		APIBaseURL:  "https://agent.example/api",
		Capability:  domain.Capability{Name: "summarize", Version: "1.0"},
		Author:      domain.Author{Name: "acme", ContactInfo: "ops@acme.example"},
		Legal:       domain.Legal{PrivacyPolicy: "https://acme.example/privacy"},
		Tags:        []string{"nlp"},
	}

	metadata, err := registerAgentMetadata(rr)
	require.NoError(t, err)
	assert.Contains(t, metadata, uint(metadataLabelAgentInfo))
	assert.Contains(t, metadata, uint(metadataLabelMsg))
	assert.NotEmpty(t, metadata[metadataLabelAgentInfo])
	assert.NotEmpty(t, metadata[metadataLabelMsg])
}
