package chainadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// IndexerClient implements ChainAdapter against a Blockfrost-family REST
// indexer. It is the only place in the module that knows this API's JSON
// shapes; every other package sees only the ChainAdapter interface.
type IndexerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

// NewIndexerClient builds a client against one indexer base URL. The
// interface contract's retry/backoff is applied uniformly in retry.go, so
// this client does not need its own endpoint-failover pool the way a
// multi-chain RPC client would.
func NewIndexerClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *IndexerClient {
	return &IndexerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type txRefResponse struct {
	TxHash    string `json:"tx_hash"`
	BlockTime int64  `json:"block_time"`
}

func (c *IndexerClient) ListTxsAt(ctx context.Context, addr string, page int) ([]TxRef, error) {
	var out []TxRef
	err := withRetry(ctx, func() error {
		var body []txRefResponse
		err := c.get(ctx, fmt.Sprintf("/addresses/%s/transactions?page=%d&order=desc", addr, page), &body)
		if err != nil {
			return err
		}
		out = make([]TxRef, len(body))
		for i, r := range body {
			out[i] = TxRef{TxHash: r.TxHash, BlockTime: time.Unix(r.BlockTime, 0).UTC()}
		}
		return nil
	})
	return out, err
}

type utxoResponse struct {
	Address             string   `json:"address"`
	Amounts             []Amount `json:"amount"`
	OutputIndex         int      `json:"output_index"`
	TxHash              string   `json:"tx_hash"`
	InlineDatum         string   `json:"inline_datum"` // hex, empty if absent
	ReferenceScriptHash *string  `json:"reference_script_hash"`
	Collateral          bool     `json:"collateral"`
}

type txDetailResponse struct {
	TxHash        string            `json:"tx_hash"`
	BlockHash     string            `json:"block_hash"`
	BlockTime     int64             `json:"block_time"`
	Confirmations int               `json:"confirmations"`
	Inputs        []utxoResponse    `json:"inputs"`
	Outputs       []utxoResponse    `json:"outputs"`
	RawBody       string            `json:"raw_body"` // hex
	Redeemers     []redeemerResponse `json:"redeemers"`
}

type redeemerResponse struct {
	Purpose string `json:"purpose"` // "spend", "mint", ...
	Tag     int    `json:"redeemer_tag"`
}

func (c *IndexerClient) GetTx(ctx context.Context, txHash string) (*TxDetail, error) {
	var out *TxDetail
	err := withRetry(ctx, func() error {
		var body txDetailResponse
		if err := c.get(ctx, "/txs/"+txHash, &body); err != nil {
			return err
		}
		rawBody, err := hexDecodeLoose(body.RawBody)
		if err != nil {
			return NewNonRetryableError(ErrCodeTxNotFound, "malformed raw_body for "+txHash, err)
		}
		var spendTags []int
		for _, r := range body.Redeemers {
			if r.Purpose == "spend" {
				spendTags = append(spendTags, r.Tag)
			}
		}
		out = &TxDetail{
			TxHash:        body.TxHash,
			BlockHash:     body.BlockHash,
			BlockTime:     time.Unix(body.BlockTime, 0).UTC(),
			Confirmations: body.Confirmations,
			Inputs:        convertUTXOs(body.Inputs),
			Outputs:       convertUTXOs(body.Outputs),
			RawBody:       rawBody,
			RedeemerTags:  spendTags,
		}
		return nil
	})
	return out, err
}

func convertUTXOs(in []utxoResponse) []UTXO {
	out := make([]UTXO, len(in))
	for i, u := range in {
		var datum []byte
		if u.InlineDatum != "" {
			datum, _ = hexDecodeLoose(u.InlineDatum)
		}
		out[i] = UTXO{
			TxHash:              u.TxHash,
			OutputIndex:         u.OutputIndex,
			Address:             u.Address,
			Amounts:             u.Amounts,
			InlineDatum:         datum,
			ReferenceScriptHash: u.ReferenceScriptHash,
			Collateral:          u.Collateral,
		}
	}
	return out
}

func (c *IndexerClient) ListUTXOsAt(ctx context.Context, addr string) ([]UTXO, error) {
	var out []UTXO
	err := withRetry(ctx, func() error {
		var body []utxoResponse
		if err := c.get(ctx, fmt.Sprintf("/addresses/%s/utxos", addr), &body); err != nil {
			return err
		}
		out = convertUTXOs(body)
		return nil
	})
	return out, err
}

func (c *IndexerClient) SubmitTx(ctx context.Context, signedBytes []byte) (string, error) {
	var txHash string
	err := withRetry(ctx, func() error {
		var resp struct {
			TxHash string `json:"tx_hash"`
		}
		if err := c.postCBOR(ctx, "/tx/submit", signedBytes, &resp); err != nil {
			return err
		}
		txHash = resp.TxHash
		return nil
	})
	return txHash, err
}

func (c *IndexerClient) EvaluateTx(ctx context.Context, txBytes []byte) ([]ExecutionUnits, error) {
	var out []ExecutionUnits
	err := withRetry(ctx, func() error {
		var resp []struct {
			Mem   int64 `json:"mem"`
			Steps int64 `json:"steps"`
		}
		if err := c.postCBOR(ctx, "/utils/txs/evaluate", txBytes, &resp); err != nil {
			return err
		}
		out = make([]ExecutionUnits, len(resp))
		for i, r := range resp {
			out[i] = ExecutionUnits{Mem: r.Mem, Steps: r.Steps}
		}
		return nil
	})
	return out, err
}

func (c *IndexerClient) DeriveScriptAddr(ctx context.Context, compiledScript []byte, params [][]byte) (ScriptAddr, error) {
	var out ScriptAddr
	err := withRetry(ctx, func() error {
		payload := struct {
			Script []byte   `json:"script"`
			Params [][]byte `json:"params"`
		}{Script: compiledScript, Params: params}
		buf, err := json.Marshal(payload)
		if err != nil {
			return NewNonRetryableError(ErrCodeInvalidAddress, "encoding derive-script-addr payload", err)
		}
		var resp struct {
			Address  string `json:"address"`
			PolicyID string `json:"policy_id"`
		}
		if err := c.postJSON(ctx, "/utils/scripts/derive-address", buf, &resp); err != nil {
			return err
		}
		out = ScriptAddr{Address: resp.Address, PolicyID: resp.PolicyID}
		return nil
	})
	return out, err
}

func (c *IndexerClient) get(ctx context.Context, path string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return NewNonRetryableError(ErrCodeInvalidAddress, "building indexer request", err)
	}
	req.Header.Set("project_id", c.apiKey)
	return c.do(req, into)
}

func (c *IndexerClient) postCBOR(ctx context.Context, path string, body []byte, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return NewNonRetryableError(ErrCodeInvalidAddress, "building indexer request", err)
	}
	req.Header.Set("project_id", c.apiKey)
	req.Header.Set("Content-Type", "application/cbor")
	return c.do(req, into)
}

func (c *IndexerClient) postJSON(ctx context.Context, path string, body []byte, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return NewNonRetryableError(ErrCodeInvalidAddress, "building indexer request", err)
	}
	req.Header.Set("project_id", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, into)
}

func (c *IndexerClient) do(req *http.Request, into interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("indexer request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return NewRetryableError(ErrCodeIndexerTimeout, "indexer request failed", nil, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewRetryableError(ErrCodeIndexerUnavailable, "reading indexer response", nil, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NewNonRetryableError(ErrCodeTxNotFound, "not found: "+req.URL.Path, nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return NewRetryableError(ErrCodeIndexerUnavailable, fmt.Sprintf("indexer returned %d", resp.StatusCode), nil, nil)
	case resp.StatusCode >= 400:
		return NewNonRetryableError(ErrCodeRejectedTx, fmt.Sprintf("indexer rejected request: %d: %s", resp.StatusCode, string(data)), nil)
	}

	if into == nil {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return NewRetryableError(ErrCodeIndexerUnavailable, "decoding indexer response", nil, err)
	}
	return nil
}

func hexDecodeLoose(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		h, err := hexNibbleValue(s[2*i])
		if err != nil {
			return nil, err
		}
		l, err := hexNibbleValue(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = h<<4 | l
	}
	return out, nil
}

func hexNibbleValue(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex character %q", c)
	}
}
