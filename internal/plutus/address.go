package plutus

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Credential is a Cardano payment or stake credential: either a
// verification-key hash or a script hash, 28 bytes either way.
type Credential struct {
	IsScript bool
	Hash     []byte // 28-byte blake2b-224 hash
}

// Address is the on-chain address shape the escrow script's datum embeds:
// a payment credential plus an optional stake credential. This mirrors
// apollo's serialization/Address package, which models the same
// PaymentCredential/StakeCredential split for real Cardano transactions.
type Address struct {
	PaymentCredential Credential
	StakeCredential   *Credential // nil when the address carries no stake part
}

func credentialToData(c Credential) Data {
	idx := 0
	if c.IsScript {
		idx = 1
	}
	return Constr(idx, Bytes(c.Hash))
}

func credentialFromData(d Data) (Credential, error) {
	if len(d.Fields) != 1 || !d.Fields[0].IsBytes {
		return Credential{}, errShape("credential", d)
	}
	return Credential{IsScript: d.Constructor == 1, Hash: d.Fields[0].Bytes}, nil
}

// ToData encodes the address as the nested constructor terms the script
// consumes: Constr 0 [paymentCredential, stakeCredentialOption], where the
// stake option is Constr 0 [Constr 0 [stakeCredential]] (Some) or
// Constr 1 [] (None) — the standard Plutus `Maybe` encoding.
func (a Address) ToData() Data {
	var stakeOpt Data
	if a.StakeCredential != nil {
		inner := Constr(0, credentialToData(*a.StakeCredential))
		stakeOpt = Constr(0, inner)
	} else {
		stakeOpt = Constr(1)
	}
	return Constr(0, credentialToData(a.PaymentCredential), stakeOpt)
}

func errShape(what string, d Data) error {
	return &ShapeError{What: what, Got: d}
}

// ShapeError is returned when a decoded Data tree does not match the shape
// a decoder expected.
type ShapeError struct {
	What string
	Got  Data
}

func (e *ShapeError) Error() string {
	return "plutus: " + e.What + " had unexpected shape"
}

// AddressFromData decodes the inverse of ToData.
func AddressFromData(d Data) (Address, error) {
	if d.Constructor != 0 || len(d.Fields) != 2 {
		return Address{}, errShape("address", d)
	}
	payment, err := credentialFromData(d.Fields[0])
	if err != nil {
		return Address{}, err
	}
	stakeOpt := d.Fields[1]
	addr := Address{PaymentCredential: payment}
	switch stakeOpt.Constructor {
	case 1:
		// None
	case 0:
		if len(stakeOpt.Fields) != 1 {
			return Address{}, errShape("stake credential option", stakeOpt)
		}
		inner := stakeOpt.Fields[0]
		if len(inner.Fields) != 1 {
			return Address{}, errShape("stake credential wrapper", inner)
		}
		cred, err := credentialFromData(inner.Fields[0])
		if err != nil {
			return Address{}, err
		}
		addr.StakeCredential = &cred
	default:
		return Address{}, errShape("stake credential option", stakeOpt)
	}
	return addr, nil
}

// VKeyHash is a convenience constructor for a payment-key credential from a
// hex-encoded 28-byte verification-key hash.
func VKeyHash(hexHash string) (Credential, error) {
	b, err := hex.DecodeString(hexHash)
	if err != nil {
		return Credential{}, err
	}
	return Credential{IsScript: false, Hash: b}, nil
}

// EncodeAddress renders an Address as the coordinator's canonical string
// form: "<payment-is-script><payment-hash-hex>:<stake-is-script><stake-hash-hex>",
// the stake half empty when the address carries no stake credential. The
// coordinator stores and compares HotWallet/WalletBase addresses in this hex
// form end-to-end; EncodeAddressBech32 below derives the CIP-19 string from
// it on demand for anything human-facing (logs, CLI output).
func EncodeAddress(a Address) string {
	pay := scriptFlag(a.PaymentCredential.IsScript) + hex.EncodeToString(a.PaymentCredential.Hash)
	if a.StakeCredential == nil {
		return pay + ":"
	}
	return pay + ":" + scriptFlag(a.StakeCredential.IsScript) + hex.EncodeToString(a.StakeCredential.Hash)
}

// DecodeAddress reverses EncodeAddress.
func DecodeAddress(s string) (Address, error) {
	payPart, stakePart, found := splitOnce(s, ':')
	if !found {
		return Address{}, fmt.Errorf("plutus: malformed canonical address %q", s)
	}
	payCred, err := decodeCredential(payPart)
	if err != nil {
		return Address{}, fmt.Errorf("payment credential: %w", err)
	}
	addr := Address{PaymentCredential: payCred}
	if stakePart != "" {
		stakeCred, err := decodeCredential(stakePart)
		if err != nil {
			return Address{}, fmt.Errorf("stake credential: %w", err)
		}
		addr.StakeCredential = &stakeCred
	}
	return addr, nil
}

func scriptFlag(isScript bool) string {
	if isScript {
		return "1"
	}
	return "0"
}

func decodeCredential(s string) (Credential, error) {
	if len(s) < 1 {
		return Credential{}, fmt.Errorf("empty credential")
	}
	isScript := s[0] == '1'
	hash, err := hex.DecodeString(s[1:])
	if err != nil {
		return Credential{}, err
	}
	return Credential{IsScript: isScript, Hash: hash}, nil
}

func splitOnce(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// mainnetNetworkID is the CIP-19 network tag the coordinator always derives
// bech32 addresses under; a testnet deployment is out of this module's scope.
const mainnetNetworkID = 1

// addressHeader computes the CIP-19 header byte: address-type nibble over
// the network-id nibble. The coordinator only ever derives base or
// enterprise addresses (payment credential, optional stake credential).
func addressHeader(a Address) byte {
	var addrType byte
	switch {
	case a.StakeCredential == nil && !a.PaymentCredential.IsScript:
		addrType = 0b0110
	case a.StakeCredential == nil && a.PaymentCredential.IsScript:
		addrType = 0b0111
	case !a.PaymentCredential.IsScript && !a.StakeCredential.IsScript:
		addrType = 0b0000
	case a.PaymentCredential.IsScript && !a.StakeCredential.IsScript:
		addrType = 0b0001
	case !a.PaymentCredential.IsScript && a.StakeCredential.IsScript:
		addrType = 0b0010
	default:
		addrType = 0b0011
	}
	return addrType<<4 | mainnetNetworkID
}

// EncodeAddressBech32 renders a as a CIP-19 "addr1..." string, for logging
// and operator-facing output where the coordinator's internal hex form
// would be unreadable. Nothing in the coordinator parses this form back;
// DecodeAddress/EncodeAddress on the hex form remain the source of truth.
func EncodeAddressBech32(a Address) (string, error) {
	payload := append([]byte{addressHeader(a)}, a.PaymentCredential.Hash...)
	if a.StakeCredential != nil {
		payload = append(payload, a.StakeCredential.Hash...)
	}
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("plutus: converting address bits for bech32: %w", err)
	}
	return bech32.Encode("addr", converted)
}
