// Package chainadapter abstracts the UTXO-chain indexer the coordinator
// talks to. It is the only package allowed to import an indexer SDK; every
// other component reaches the chain only through the ChainAdapter interface.
package chainadapter

import (
	"context"
	"time"
)

// ChainAdapter is the coordinator's one window onto the chain.
//
// Contract:
// - Every method retries internally with exponential backoff (initial
//   500ms, multiplier 2, capped at 15s, 5 attempts) before returning a
//   Retryable ChainError to the caller.
// - All methods are safe to call concurrently.
// - Context cancellation aborts in-flight retries before the next attempt.
type ChainAdapter interface {
	// ListTxsAt pages through transactions touching addr, newest first.
	ListTxsAt(ctx context.Context, addr string, page int) ([]TxRef, error)

	// GetTx fetches full input/output/confirmation detail for one tx.
	GetTx(ctx context.Context, txHash string) (*TxDetail, error)

	// ListUTXOsAt fetches every currently-unspent UTXO at addr, the
	// dispatcher coin-selection entry point (spec §4.4 step 1).
	ListUTXOsAt(ctx context.Context, addr string) ([]UTXO, error)

	// SubmitTx broadcasts a signed transaction and returns its hash.
	SubmitTx(ctx context.Context, signedBytes []byte) (string, error)

	// EvaluateTx returns per-script execution-unit budgets for an unsigned
	// (or partially signed) transaction body, used to rebuild it with
	// correct redeemer budgets before the final signature.
	EvaluateTx(ctx context.Context, txBytes []byte) ([]ExecutionUnits, error)

	// DeriveScriptAddr resolves the script address and policy id for a
	// compiled script applied to the given parameters.
	DeriveScriptAddr(ctx context.Context, compiledScript []byte, params [][]byte) (ScriptAddr, error)
}

// TxRef is one entry of a list_txs_at page.
type TxRef struct {
	TxHash    string
	BlockTime time.Time
}

// UTXO is one input or output of a transaction, carrying everything the
// Sync Loop and Action Dispatchers need to classify and spend it.
type UTXO struct {
	TxHash              string
	OutputIndex         int
	Address             string
	Amounts             []Amount
	InlineDatum         []byte // raw CBOR, nil if absent
	ReferenceScriptHash *string
	Collateral          bool
}

// Amount is one unit/quantity leg of a UTXO's value.
type Amount struct {
	Unit     string `json:"unit"` // "lovelace" or "policyid.assetname"
	Quantity int64  `json:"quantity,string"`
}

// TxDetail is the full extended info for one transaction.
type TxDetail struct {
	TxHash        string
	BlockHash     string
	BlockTime     time.Time
	Confirmations int
	Inputs        []UTXO
	Outputs       []UTXO
	RawBody       []byte
	// RedeemerTags is the constructor index of each spend-purpose redeemer
	// attached to the transaction's witness set, in the same order as the
	// script inputs they authorize. The indexer decodes these server-side
	// so the coordinator never has to parse a witness set's Plutus Data by
	// hand to find out which escrow action a transaction took.
	RedeemerTags []int
}

// ExecutionUnits is the memory/step budget the chain charges for executing
// one script in a transaction.
type ExecutionUnits struct {
	Mem   int64
	Steps int64
}

// ScriptAddr is the result of deriving an address from a compiled script.
type ScriptAddr struct {
	Address  string
	PolicyID string
}
