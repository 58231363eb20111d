package plutus

import (
	"fmt"

	"github.com/escrowd/coordinator/internal/domain"
)

// Redeemer is one of the escrow script's seven spending redeemers. Most
// carry no fields; a few (RequestRefund's timeout window, SubmitResult's
// hash) would in a richer script, but this escrow's redeemers are pure
// intent markers — the fields that matter (hashes, times) live in the
// datum, not the redeemer — so every variant here encodes as an empty
// constructor term.
type Redeemer struct {
	Tag domain.RedeemerTag
}

// ToData encodes the redeemer as its bare constructor term.
func (r Redeemer) ToData() (Data, error) {
	if !r.Tag.Valid() {
		return Data{}, fmt.Errorf("plutus: redeemer tag %d outside the 0-6 range", r.Tag)
	}
	return Constr(int(r.Tag)), nil
}

// RedeemerFromData decodes the inverse of ToData.
func RedeemerFromData(d Data) (Redeemer, error) {
	tag := domain.RedeemerTag(d.Constructor)
	if !tag.Valid() || len(d.Fields) != 0 {
		return Redeemer{}, errShape("redeemer", d)
	}
	return Redeemer{Tag: tag}, nil
}

// Encode CBOR-serializes the redeemer.
func (r Redeemer) Encode() ([]byte, error) {
	node, err := r.ToData()
	if err != nil {
		return nil, err
	}
	return node.MarshalCBOR()
}

// DecodeRedeemer is the inverse of Encode.
func DecodeRedeemer(raw []byte) (Redeemer, error) {
	var node Data
	if err := node.UnmarshalCBOR(raw); err != nil {
		return Redeemer{}, fmt.Errorf("plutus: decoding redeemer cbor: %w", err)
	}
	return RedeemerFromData(node)
}

// metadataChunkSize is the largest byte length a single CIP-25/CIP-721
// metadata string entry may hold on chain; longer strings must be split
// into a list of chunks.
const metadataChunkSize = 64

// stringToMetadata splits s into a list of UTF-8-safe chunks no longer than
// metadataChunkSize bytes each, because transaction metadata string entries
// are bounded to 64 bytes on chain. A string that already fits returns a
// single-element slice so callers never need to special-case the short path.
func stringToMetadata(s string) []string {
	if len(s) <= metadataChunkSize {
		return []string{s}
	}
	runes := []rune(s)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start
		size := 0
		for end < len(runes) {
			rl := len(string(runes[end]))
			if size+rl > metadataChunkSize {
				break
			}
			size += rl
			end++
		}
		if end == start {
			// a single rune alone exceeds the chunk size; emit it anyway
			// rather than loop forever.
			end = start + 1
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}
