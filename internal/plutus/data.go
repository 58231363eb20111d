// Package plutus implements the deterministic encode/decode between escrow
// semantics and the chain's structured-data ("Plutus Data") format. Every
// function here is pure: no I/O, no chain calls, no randomness — decoding
// and re-encoding a value must reproduce its original bytes exactly
// (spec.md §8, "decode(encode(d)) = d").
//
// The on-chain wire format this package targets is the standard Cardano
// Plutus Data CBOR convention: a constructor with index 0-6 is tagged
// 121+index; fields are a definite-length CBOR array. See
// other_examples' blinklabs-io/shai spectrum transaction dump for a worked
// mainnet example of this exact tagging scheme.
package plutus

import (
	"fmt"

	"github.com/blinklabs-io/gouroboros/cbor"
)

// constructorTagBase is the CBOR tag number for constructor index 0; index i
// (0 <= i <= 6) is tagged constructorTagBase+i. Indexes beyond 6 use the
// "general" constructor tag (102) wrapping [index, fields] instead — the
// escrow script only ever uses indexes 0-6 so this package does not
// implement that fallback; MarshalCBOR rejects any other index.
const constructorTagBase = 121

// Data is the generic Plutus Data tree: every datum and redeemer in this
// package is built as one of these before being CBOR-encoded, mirroring
// the tree apollo's serialization/PlutusData package models for real
// Cardano transaction building.
type Data struct {
	Constructor int    // -1 when this node is not a constructor term
	Fields      []Data // constructor/list fields, in order
	Bytes       []byte // set when this node is a byte string
	Int         int64  // set when this node is an integer
	IsBytes     bool
	IsInt       bool
	IsList      bool
}

func Constr(index int, fields ...Data) Data {
	return Data{Constructor: index, Fields: fields}
}

func Bytes(b []byte) Data { return Data{Constructor: -1, Bytes: b, IsBytes: true} }

func BytesHex(h string) (Data, error) {
	b, err := hexDecode(h)
	if err != nil {
		return Data{}, err
	}
	return Bytes(b), nil
}

func Int(v int64) Data { return Data{Constructor: -1, Int: v, IsInt: true} }

func List(items ...Data) Data { return Data{Constructor: -1, Fields: items, IsList: true} }

// rawConstr is the CBOR-level shape of a constructor term: a tagged
// definite-length array of its fields.
type rawConstr struct {
	_     struct{} `cbor:",toarray"`
	Items []cbor.RawMessage
}

// MarshalCBOR implements the constructor/bytes/int/list tagging convention
// described above. It is written against gouroboros' thin cbor wrapper
// (itself fxamacker/cbor/v2 underneath), which is why the tag arithmetic is
// done by hand rather than via struct tags: Plutus constructor indexes are
// data, not a fixed schema.
func (d Data) MarshalCBOR() ([]byte, error) {
	switch {
	case d.IsBytes:
		return cbor.Marshal(d.Bytes)
	case d.IsInt:
		return cbor.Marshal(d.Int)
	case d.IsList:
		return cbor.Marshal(d.Fields)
	default:
		if d.Constructor < 0 || d.Constructor > 6 {
			return nil, fmt.Errorf("plutus: constructor index %d outside supported 0-6 range", d.Constructor)
		}
		inner, err := cbor.Marshal(d.Fields)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(cbor.Tag{
			Number:  uint64(constructorTagBase + d.Constructor),
			Content: cbor.RawMessage(inner),
		})
	}
}

// UnmarshalCBOR reverses MarshalCBOR. Because the wire form is
// self-describing (tag vs. major type), decoding does not need to know in
// advance whether a node is a constructor, bytes, int or list.
func (d *Data) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err == nil && tag.Number >= constructorTagBase && tag.Number <= constructorTagBase+6 {
		var fields []Data
		// cbor.Tag decodes its content as a generic value, not raw bytes, so
		// re-encode it before decoding it as the constructor's fields.
		content, err := cbor.Marshal(tag.Content)
		if err != nil {
			return fmt.Errorf("plutus: re-encoding constructor tag %d content: %w", tag.Number, err)
		}
		if err := cbor.Unmarshal(content, &fields); err != nil {
			return fmt.Errorf("plutus: decoding constructor fields: %w", err)
		}
		d.Constructor = int(tag.Number - constructorTagBase)
		d.Fields = fields
		return nil
	}

	var asBytes []byte
	if err := cbor.Unmarshal(data, &asBytes); err == nil {
		*d = Bytes(asBytes)
		return nil
	}

	var asInt int64
	if err := cbor.Unmarshal(data, &asInt); err == nil {
		*d = Int(asInt)
		return nil
	}

	var asList []Data
	if err := cbor.Unmarshal(data, &asList); err == nil {
		*d = List(asList...)
		return nil
	}

	return fmt.Errorf("plutus: data node did not match bytes, int, list or constructor-tag shapes")
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("plutus: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("plutus: invalid hex character %q", c)
	}
}
