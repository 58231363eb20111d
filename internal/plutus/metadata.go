package plutus

import "github.com/blinklabs-io/gouroboros/cbor"

// StringToMetadata exposes stringToMetadata's 64-byte chunking rule to
// callers outside this package building transaction metadata values
// (spec §4.4 Register Agent).
func StringToMetadata(s string) []string { return stringToMetadata(s) }

// MarshalMetadataValue CBOR-encodes an arbitrary metadata value (map, list,
// string, chunked-string slice) for one of TxPlan.Metadata's pre-encoded
// label entries. Transaction metadata has no constructor-tag convention of
// its own — it is plain CBOR — so this is a direct pass-through to the same
// cbor package the rest of this package already uses for Plutus Data.
func MarshalMetadataValue(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}
