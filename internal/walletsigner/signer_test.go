package walletsigner

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrowd/coordinator/internal/domain"
)

func TestEncryptDecryptSeedRoundTrip(t *testing.T) {
	masterKey := []byte("test-master-key-do-not-use-in-prod")
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	seed := priv.Seed()

	encrypted, err := EncryptSeed(masterKey, seed)
	require.NoError(t, err)

	s := NewSigner(masterKey)
	decrypted, err := s.decryptSeed(encrypted)
	require.NoError(t, err)
	require.Equal(t, seed, decrypted)
}

func TestDecryptSeedRejectsWrongMasterKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	encrypted, err := EncryptSeed([]byte("key-one"), priv.Seed())
	require.NoError(t, err)

	s := NewSigner([]byte("key-two"))
	_, err = s.decryptSeed(encrypted)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptSeedRejectsTruncatedCiphertext(t *testing.T) {
	s := NewSigner([]byte("key"))
	_, err := s.decryptSeed([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	masterKey := []byte("test-master-key")
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	encrypted, err := EncryptSeed(masterKey, priv.Seed())
	require.NoError(t, err)

	wallet := domain.HotWallet{EncryptedMnemonic: encrypted}
	s := NewSigner(masterKey)
	sig, err := s.Sign(wallet, []byte("unsigned tx bytes"))
	require.NoError(t, err)
	require.True(t, ed25519.Verify(pub, []byte("unsigned tx bytes"), sig))
}

func TestCoSignStopsAtThreshold(t *testing.T) {
	masterKey := []byte("admin-master-key")
	var wallets []domain.HotWallet
	for i := 0; i < 3; i++ {
		_, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		encrypted, err := EncryptSeed(masterKey, priv.Seed())
		require.NoError(t, err)
		wallets = append(wallets, domain.HotWallet{EncryptedMnemonic: encrypted})
	}

	s := NewSigner(masterKey)
	sigs, err := s.CoSign(wallets, 2, []byte("tx"))
	require.NoError(t, err)
	require.Len(t, sigs, 2)
}

func TestCoSignFailsBelowThreshold(t *testing.T) {
	s := NewSigner([]byte("key"))
	_, err := s.CoSign(nil, 2, []byte("tx"))
	require.Error(t, err)
}
