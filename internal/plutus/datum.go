package plutus

import (
	"encoding/hex"
	"fmt"

	"github.com/escrowd/coordinator/internal/domain"
)

// EscrowDatum is the full on-chain escrow datum (spec.md §4.2). Field order
// here fixes the constructor's field order on the wire; changing it changes
// the encoding, so it must never be reordered independently of the script.
type EscrowDatum struct {
	BuyerVKey                 string
	BuyerAddress              Address
	SellerVKey                string
	SellerAddress             Address
	BlockchainIdentifier      string
	ResultHash                string // empty string when unset
	ResultTime                int64
	UnlockTime                int64
	ExternalDisputeUnlockTime int64
	PayByTime                 int64
	BuyerCooldownTime         int64
	SellerCooldownTime        int64
	State                     domain.SmartContractState
	InputHash                 string
	CollateralReturnLovelace  int64
}

var contractStateIndex = map[domain.SmartContractState]int{
	domain.ContractFundsLocked:     0,
	domain.ContractResultSubmitted: 1,
	domain.ContractRefundRequested: 2,
	domain.ContractDisputed:        3,
}

var contractStateByIndex = map[int]domain.SmartContractState{
	0: domain.ContractFundsLocked,
	1: domain.ContractResultSubmitted,
	2: domain.ContractRefundRequested,
	3: domain.ContractDisputed,
}

func hexToBytes(s string) (Data, error) { return BytesHex(s) }

func bytesToHex(d Data) (string, error) {
	if !d.IsBytes {
		return "", errShape("hex bytes field", d)
	}
	return hex.EncodeToString(d.Bytes), nil
}

// ToData is the pure encode half of the codec: it never touches the chain,
// and calling FromData on its result must reproduce the original datum
// exactly (spec.md §8 round-trip property).
func (d EscrowDatum) ToData() (Data, error) {
	buyerVKey, err := hexToBytes(d.BuyerVKey)
	if err != nil {
		return Data{}, fmt.Errorf("buyer_vkey: %w", err)
	}
	sellerVKey, err := hexToBytes(d.SellerVKey)
	if err != nil {
		return Data{}, fmt.Errorf("seller_vkey: %w", err)
	}
	resultHash, err := hexToBytes(d.ResultHash)
	if err != nil {
		return Data{}, fmt.Errorf("result_hash: %w", err)
	}
	inputHash, err := hexToBytes(d.InputHash)
	if err != nil {
		return Data{}, fmt.Errorf("input_hash: %w", err)
	}
	stateIdx, ok := contractStateIndex[d.State]
	if !ok {
		return Data{}, fmt.Errorf("unknown smart contract state %q", d.State)
	}
	blockchainID, err := hexToBytes(hex.EncodeToString([]byte(d.BlockchainIdentifier)))
	if err != nil {
		return Data{}, err
	}

	return Constr(0,
		buyerVKey,
		d.BuyerAddress.ToData(),
		sellerVKey,
		d.SellerAddress.ToData(),
		blockchainID,
		resultHash,
		Int(d.ResultTime),
		Int(d.UnlockTime),
		Int(d.ExternalDisputeUnlockTime),
		Int(d.PayByTime),
		Int(d.BuyerCooldownTime),
		Int(d.SellerCooldownTime),
		Constr(stateIdx),
		inputHash,
		Int(d.CollateralReturnLovelace),
	), nil
}

const escrowDatumFieldCount = 15

// DatumFromData is the pure decode half. It is deliberately strict: any
// shape mismatch is a fatal codec error (spec.md §7), never a best-effort
// partial decode.
func DatumFromData(node Data) (EscrowDatum, error) {
	if node.Constructor != 0 || len(node.Fields) != escrowDatumFieldCount {
		return EscrowDatum{}, errShape("escrow datum", node)
	}
	f := node.Fields

	buyerVKey, err := bytesToHex(f[0])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("buyer_vkey: %w", err)
	}
	buyerAddr, err := AddressFromData(f[1])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("buyer_address: %w", err)
	}
	sellerVKey, err := bytesToHex(f[2])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("seller_vkey: %w", err)
	}
	sellerAddr, err := AddressFromData(f[3])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("seller_address: %w", err)
	}
	if !f[4].IsBytes {
		return EscrowDatum{}, errShape("blockchain_identifier", f[4])
	}
	blockchainID := string(f[4].Bytes)
	resultHash, err := bytesToHex(f[5])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("result_hash: %w", err)
	}
	if !f[6].IsInt || !f[7].IsInt || !f[8].IsInt || !f[9].IsInt || !f[10].IsInt || !f[11].IsInt || !f[14].IsInt {
		return EscrowDatum{}, errShape("escrow datum time/amount fields", node)
	}
	state, ok := contractStateByIndex[f[12].Constructor]
	if !ok || len(f[12].Fields) != 0 {
		return EscrowDatum{}, errShape("smart contract state", f[12])
	}
	inputHash, err := bytesToHex(f[13])
	if err != nil {
		return EscrowDatum{}, fmt.Errorf("input_hash: %w", err)
	}

	return EscrowDatum{
		BuyerVKey:                 buyerVKey,
		BuyerAddress:              buyerAddr,
		SellerVKey:                sellerVKey,
		SellerAddress:             sellerAddr,
		BlockchainIdentifier:      blockchainID,
		ResultHash:                resultHash,
		ResultTime:                f[6].Int,
		UnlockTime:                f[7].Int,
		ExternalDisputeUnlockTime: f[8].Int,
		PayByTime:                 f[9].Int,
		BuyerCooldownTime:         f[10].Int,
		SellerCooldownTime:        f[11].Int,
		State:                     state,
		InputHash:                 inputHash,
		CollateralReturnLovelace:  f[14].Int,
	}, nil
}

// Encode CBOR-serializes the datum via ToData, the one call site that
// touches the wire format.
func (d EscrowDatum) Encode() ([]byte, error) {
	node, err := d.ToData()
	if err != nil {
		return nil, err
	}
	return node.MarshalCBOR()
}

// DecodeDatum is the inverse of Encode.
func DecodeDatum(raw []byte) (EscrowDatum, error) {
	var node Data
	if err := node.UnmarshalCBOR(raw); err != nil {
		return EscrowDatum{}, fmt.Errorf("plutus: decoding datum cbor: %w", err)
	}
	return DatumFromData(node)
}
