// Package walletsigner implements the decrypt-to-sign half of hot-wallet
// key handling: it never generates or encrypts a mnemonic (spec.md §1
// Non-goals), it only decrypts an already-stored one in memory long enough
// to produce a transaction witness.
package walletsigner

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/escrowd/coordinator/internal/domain"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
	nonceLen      = 12
)

// ErrDecryptFailed covers both an authentication failure (wrong master key)
// and a malformed ciphertext; callers never distinguish the two, so a
// brute-force attempt learns nothing beyond "the key is wrong".
var ErrDecryptFailed = errors.New("walletsigner: failed to decrypt wallet mnemonic")

// Signer decrypts a HotWallet's mnemonic on demand and signs unsigned
// transaction bytes with the key it derives. masterKey is the process-wide
// secret (spec.md §6 ADMIN_KEY-adjacent secret, held only in memory).
type Signer struct {
	masterKey []byte
}

func NewSigner(masterKey []byte) *Signer {
	return &Signer{masterKey: masterKey}
}

// Sign decrypts wallet's mnemonic, derives its Ed25519 signing key, signs
// txBytes, and clears the derived seed material before returning (spec §4.4
// step 5: "reads encrypted mnemonic, decrypts in memory only").
func (s *Signer) Sign(wallet domain.HotWallet, txBytes []byte) ([]byte, error) {
	seed, err := s.decryptSeed(wallet.EncryptedMnemonic)
	if err != nil {
		return nil, err
	}
	defer clearBytes(seed)

	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	sig := ed25519.Sign(priv, txBytes)
	return sig, nil
}

// CoSign collects signatures from wallets in admin_wallet_addresses order
// until threshold signatures are gathered, implementing the Authorize
// Refund / Withdraw Disputed ceiling(threshold)-of-N requirement
// (spec.md §4.4). wallets must already be ordered to match
// PaymentSource.AdminWalletAddresses; a wallet this signer cannot decrypt
// (not locally held) is skipped rather than failing the whole co-sign.
func (s *Signer) CoSign(wallets []domain.HotWallet, threshold int, txBytes []byte) ([][]byte, error) {
	var sigs [][]byte
	for _, w := range wallets {
		if len(sigs) >= threshold {
			break
		}
		sig, err := s.Sign(w, txBytes)
		if err != nil {
			continue
		}
		sigs = append(sigs, sig)
	}
	if len(sigs) < threshold {
		return nil, fmt.Errorf("walletsigner: gathered %d of %d required admin signatures", len(sigs), threshold)
	}
	return sigs, nil
}

// decryptSeed reverses the AES-256-GCM envelope around an Argon2id-derived
// key: ciphertext layout is salt(16) || nonce(12) || sealed.
func (s *Signer) decryptSeed(encrypted []byte) ([]byte, error) {
	if len(encrypted) < saltLen+nonceLen {
		return nil, ErrDecryptFailed
	}
	salt := encrypted[:saltLen]
	nonce := encrypted[saltLen : saltLen+nonceLen]
	sealed := encrypted[saltLen+nonceLen:]

	key := argon2.IDKey(s.masterKey, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	defer clearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// EncryptSeed is exposed only for test fixtures and wallet-onboarding
// tooling outside this module — signing itself never calls it, consistent
// with mnemonic encryption-at-rest being out of scope (spec.md §1).
func EncryptSeed(masterKey, seed []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := argon2.IDKey(masterKey, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	defer clearBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, seed, nil)

	out := make([]byte, 0, saltLen+nonceLen+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
