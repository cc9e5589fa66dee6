// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
)

const (
	// defaultTimeout bounds every request made by an Insight client.
	defaultTimeout = 30 * time.Second

	// maxResponseSize bounds the size of response bodies read.
	maxResponseSize = 16 << 20
)

// HTTPError is returned for requests answered with a non-success status.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.URL, http.StatusText(e.StatusCode),
		strings.TrimSpace(e.Body))
}

// IsClientError returns whether err is an HTTPError with a 4xx status.  Such
// requests fail the same way when sent again.
func IsClientError(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}

// Insight is a Provider backed by the REST API of an Insight block
// explorer.
type Insight struct {
	baseURL string
	client  *http.Client
}

// InsightOption configures an Insight client.
type InsightOption func(*Insight)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) InsightOption {
	return func(i *Insight) {
		i.client = c
	}
}

// NewInsight returns a client of the Insight server at baseURL, eg.
// "http://127.0.0.1:4001/".
func NewInsight(baseURL string, opts ...InsightOption) *Insight {
	i := &Insight{
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// A compile-time assertion to ensure Insight meets the Provider interface.
var _ Provider = (*Insight)(nil)

func (i *Insight) do(ctx context.Context, method, path string, body,
	result interface{}) error {

	url := i.baseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Tracef("%s %s", method, url)
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("invalid response from %s: %w", url, err)
	}
	return nil
}

type statusResponse struct {
	Info struct {
		Blocks int32 `json:"blocks"`
	} `json:"info"`
}

// BlockchainTip returns the height of the best block known to the server.
func (i *Insight) BlockchainTip(ctx context.Context) (int32, error) {
	var status statusResponse
	err := i.do(ctx, http.MethodGet, "api/status?q=getInfo", nil, &status)
	if err != nil {
		return 0, err
	}
	return status.Info.Blocks, nil
}

type rawTxResponse struct {
	RawTx string `json:"rawtx"`
}

// GetTx fetches and decodes the transaction with the given hash.
func (i *Insight) GetTx(ctx context.Context,
	hash chainhash.Hash) (*wire.MsgTx, error) {

	var resp rawTxResponse
	err := i.do(ctx, http.MethodGet, "api/rawtx/"+hash.String(), nil, &resp)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(resp.RawTx)
	if err != nil {
		return nil, fmt.Errorf("invalid raw transaction %v: %w", hash, err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("invalid raw transaction %v: %w", hash, err)
	}
	if got := tx.TxHash(); got != hash {
		return nil, fmt.Errorf("server returned transaction %v for %v",
			got, hash)
	}
	return tx, nil
}

type utxoResponse struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	ScriptPubKey  string `json:"scriptPubKey"`
	Satoshis      int64  `json:"satoshis"`
	Confirmations int64  `json:"confirmations"`
}

// SpendablesForAddress returns the unspent outputs of addr, including
// unconfirmed ones.
func (i *Insight) SpendablesForAddress(ctx context.Context,
	addr btcutil.Address) ([]Utxo, error) {

	var resp []utxoResponse
	path := fmt.Sprintf("api/addr/%s/utxo", addr.EncodeAddress())
	if err := i.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	utxos := make([]Utxo, 0, len(resp))
	for _, r := range resp {
		hash, err := chainhash.NewHashFromStr(r.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo txid %q: %w", r.TxID, err)
		}
		pkScript, err := hex.DecodeString(r.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo script %q: %w",
				r.ScriptPubKey, err)
		}
		utxos = append(utxos, Utxo{
			OutPoint:      *wire.NewOutPoint(hash, r.Vout),
			Value:         btcutil.Amount(r.Satoshis),
			PkScript:      pkScript,
			Confirmations: r.Confirmations,
		})
	}
	log.Tracef("Unspent outputs of %v: %v", addr, NewLogClosure(
		func() string {
			return spew.Sdump(utxos)
		},
	))
	return utxos, nil
}

type sendTxRequest struct {
	RawTx string `json:"rawtx"`
}

type sendTxResponse struct {
	TxID string `json:"txid"`
}

// SendTx relays tx through the server.
func (i *Insight) SendTx(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	req := sendTxRequest{RawTx: hex.EncodeToString(buf.Bytes())}

	var resp sendTxResponse
	if err := i.do(ctx, http.MethodPost, "api/tx/send", req, &resp); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(resp.TxID)
}
