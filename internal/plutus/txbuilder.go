package plutus

import (
	"encoding/hex"
	"fmt"

	"github.com/Salvionied/apollo"
	"github.com/Salvionied/apollo/serialization"
	"github.com/Salvionied/apollo/serialization/Address"
	"github.com/blinklabs-io/gouroboros/cbor"
)

// TxInput is one UTXO the builder spends, in the shape the Sync Loop/
// dispatchers already carry it (mirrors chainadapter.UTXO without importing
// that package, to keep plutus free of a chainadapter dependency).
type TxInput struct {
	TxHash      string
	OutputIndex int
	Address     string
	Lovelace    int64
	Assets      map[string]int64 // "policyid.assetname" -> quantity
}

// TxOutput is one output the builder produces.
type TxOutput struct {
	Address     string
	Lovelace    int64
	Assets      map[string]int64
	InlineDatum []byte // raw CBOR, nil for a plain value output
}

// TxPlan is everything a dispatcher assembles before asking the Codec for
// unsigned transaction bytes (spec §4.4 steps 1-3).
type TxPlan struct {
	Inputs          []TxInput
	ScriptInput     *TxInput // the one script UTXO a spend-redeemer consumes, nil for Initial/mint txs
	Outputs         []TxOutput
	Collateral      *TxInput
	ChangeAddress   string
	Redeemer        *Redeemer
	Metadata        map[uint][]byte // metadata label -> pre-encoded CBOR value
	MintAssetName   []byte          // set for Register/Deregister Agent
	MintPolicyID    string
	MintQuantity    int64 // +1 to mint, -1 to burn
	ValidFromSlot   int64
	ValidBeforeSlot int64
	ScriptCBORHex   string // compiled escrow validator, hex-encoded
}

// Codec builds unsigned transaction bytes from a TxPlan using apollo's
// transaction-building primitives, the same library the datum/address types
// in this package already mirror the shape of.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

// Build assembles an unsigned transaction body. It returns the raw CBOR
// bytes a wallet signer then signs and a chain adapter submits — this
// package never signs or submits, keeping it a pure, suspension-free step
// per spec.md §5 ("Codec calls do not suspend").
func (c *Codec) Build(plan TxPlan) ([]byte, error) {
	cc := apollo.NewEmptyBackend()
	builder := apollo.New(&cc)

	for _, in := range plan.Inputs {
		utxo, err := toApolloUTXO(in)
		if err != nil {
			return nil, fmt.Errorf("plutus: building input utxo: %w", err)
		}
		builder = builder.AddLoadedUTxOs(utxo)
	}

	if plan.ScriptInput != nil {
		scriptUTXO, err := toApolloUTXO(*plan.ScriptInput)
		if err != nil {
			return nil, fmt.Errorf("plutus: building script input utxo: %w", err)
		}
		redeemerData, err := plan.Redeemer.ToData()
		if err != nil {
			return nil, fmt.Errorf("plutus: encoding redeemer: %w", err)
		}
		rawRedeemer, err := redeemerData.MarshalCBOR()
		if err != nil {
			return nil, fmt.Errorf("plutus: marshaling redeemer: %w", err)
		}
		// CollectFrom normally takes apollo's own typed Redeemer/PlutusData
		// structs; this package is the source of truth for the escrow
		// script's redeemer shape, so the already-encoded bytes go straight
		// through instead of being rebuilt into apollo's tree a second time.
		builder = builder.CollectFrom(scriptUTXO, rawRedeemer)
	}

	for _, out := range plan.Outputs {
		txOut, err := toApolloOutput(out)
		if err != nil {
			return nil, fmt.Errorf("plutus: building output: %w", err)
		}
		builder = builder.AddOutput(txOut)
	}

	if plan.Collateral != nil {
		collUTXO, err := toApolloUTXO(*plan.Collateral)
		if err != nil {
			return nil, fmt.Errorf("plutus: building collateral utxo: %w", err)
		}
		builder = builder.AddCollateral(collUTXO)
	}

	if plan.MintAssetName != nil {
		builder = builder.MintAssets(plan.MintPolicyID, plan.MintAssetName, plan.MintQuantity)
	}

	for label, value := range plan.Metadata {
		builder = builder.AddMetadata(label, value)
	}

	changeAddr, err := Address.DecodeAddress(plan.ChangeAddress)
	if err != nil {
		return nil, fmt.Errorf("plutus: decoding change address: %w", err)
	}
	builder = builder.SetChangeAddress(changeAddr).
		SetTtl(plan.ValidBeforeSlot).
		SetValidityStart(plan.ValidFromSlot)

	finished, err := builder.Complete()
	if err != nil {
		return nil, fmt.Errorf("plutus: completing transaction: %w", err)
	}
	return finished.Bytes(), nil
}

func toApolloUTXO(in TxInput) (serialization.UTxO, error) {
	addr, err := Address.DecodeAddress(in.Address)
	if err != nil {
		return serialization.UTxO{}, err
	}
	txHash, err := hex.DecodeString(in.TxHash)
	if err != nil {
		return serialization.UTxO{}, fmt.Errorf("plutus: decoding tx hash %q: %w", in.TxHash, err)
	}
	return serialization.UTxO{
		Input: serialization.TransactionInput{
			TransactionId: txHash,
			Index:         in.OutputIndex,
		},
		Output: serialization.TransactionOutput{
			Address: addr,
			Amount:  toApolloValue(in.Lovelace, in.Assets),
		},
	}, nil
}

func toApolloOutput(out TxOutput) (serialization.TransactionOutput, error) {
	addr, err := Address.DecodeAddress(out.Address)
	if err != nil {
		return serialization.TransactionOutput{}, err
	}
	return serialization.TransactionOutput{
		Address:     addr,
		Amount:      toApolloValue(out.Lovelace, out.Assets),
		Datum:       out.InlineDatum,
	}, nil
}

func toApolloValue(lovelace int64, assets map[string]int64) serialization.Value {
	v := serialization.Value{Coin: lovelace}
	for unit, qty := range assets {
		v.Assets = append(v.Assets, serialization.AssetEntry{Unit: unit, Quantity: qty})
	}
	return v
}

// vkeyWitness is one entry of a transaction's vkeywitnesses set (witness
// set map key 0): a 32-byte Ed25519 verification key paired with its 64-byte
// signature, exactly the shape apollo's Key.VerificationKey/SigningKey
// witnesses serialize to.
type vkeyWitness struct {
	_         struct{} `cbor:",toarray"`
	VKey      []byte
	Signature []byte
}

type witnessSet struct {
	VKeyWitnesses []vkeyWitness `cbor:"0,keyasint,omitempty"`
}

type signedTxEnvelope struct {
	_             struct{} `cbor:",toarray"`
	Body          cbor.RawMessage
	WitnessSet    witnessSet
	IsValid       bool
	AuxiliaryData cbor.RawMessage
}

// AttachWitnesses rebuilds a signed transaction from Codec.Build's unsigned
// bytes plus the signatures walletsigner.Signer produced, one vkey/signature
// pair per wallet that signed. The Codec itself never signs (spec.md §5:
// "Codec calls do not suspend") so this is the dispatcher's final assembly
// step before ChainAdapter.SubmitTx.
func AttachWitnesses(unsignedTx []byte, vkeys [][]byte, signatures [][]byte) ([]byte, error) {
	if len(vkeys) != len(signatures) {
		return nil, fmt.Errorf("plutus: %d vkeys but %d signatures", len(vkeys), len(signatures))
	}

	var env signedTxEnvelope
	if err := cbor.Unmarshal(unsignedTx, &env); err != nil {
		return nil, fmt.Errorf("plutus: decoding unsigned transaction: %w", err)
	}

	for i := range vkeys {
		env.WitnessSet.VKeyWitnesses = append(env.WitnessSet.VKeyWitnesses, vkeyWitness{
			VKey:      vkeys[i],
			Signature: signatures[i],
		})
	}
	env.IsValid = true

	out, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("plutus: encoding signed transaction: %w", err)
	}
	return out, nil
}
