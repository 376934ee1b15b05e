package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TEENet-io/btc-vault/btcman/utxo"
)

const maxIndexerBody = 32 << 20

// bcoin style REST objects, only the fields in use.
type indexerCoin struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

type indexerInput struct {
	Prevout utxo.Outpoint `json:"prevout"`
	Coin    *indexerCoin  `json:"coin,omitempty"`
}

type indexerOutput struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
	Script  string `json:"script"`
}

type indexerTx struct {
	Hash          string          `json:"hash"`
	Hex           string          `json:"hex"`
	Height        int64           `json:"height"`
	Block         string          `json:"block"`
	Index         int64           `json:"index"`
	Confirmations int64           `json:"confirmations"`
	Inputs        []indexerInput  `json:"inputs"`
	Outputs       []indexerOutput `json:"outputs"`
}

func (t *indexerTx) observed() utxo.ObservedTx {
	tx := utxo.ObservedTx{
		Hash:          t.Hash,
		Hex:           t.Hex,
		Height:        t.Height,
		Confirmations: t.Confirmations,
		Inputs:        make([]utxo.ObservedInput, len(t.Inputs)),
		Outputs:       make([]utxo.ObservedOutput, len(t.Outputs)),
	}
	for i, in := range t.Inputs {
		tx.Inputs[i] = utxo.ObservedInput{Prevout: in.Prevout}
		if in.Coin != nil {
			tx.Inputs[i].Address = in.Coin.Address
		}
	}
	for i, out := range t.Outputs {
		tx.Outputs[i] = utxo.ObservedOutput(out)
	}
	return tx
}

type feeResponse struct {
	Rate int64 `json:"rate"` // sat per kB
}

type broadcastResponse struct {
	Success bool `json:"success"`
}

// IndexerClient talks to the address indexer REST API.
type IndexerClient struct {
	baseUrl   string
	client    *http.Client
	FeeBlocks int // confirmation target for fee estimation
}

func NewIndexerClient(url string) *IndexerClient {
	return &IndexerClient{
		baseUrl:   strings.TrimRight(url, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
		FeeBlocks: 2,
	}
}

func (s *IndexerClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseUrl+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexerBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrTxNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), strings.TrimSpace(string(b)))
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("invalid json response: %w", err)
	}
	return nil
}

func (s *IndexerClient) TxsByAddress(ctx context.Context, address string) ([]utxo.ObservedTx, error) {
	var raw []indexerTx
	if err := s.do(ctx, http.MethodGet, "/tx/address/"+address, nil, &raw); err != nil {
		if err == ErrTxNotFound {
			return nil, nil
		}
		return nil, err
	}
	txs := make([]utxo.ObservedTx, len(raw))
	for i := range raw {
		txs[i] = raw[i].observed()
	}
	return txs, nil
}

func (s *IndexerClient) Tx(ctx context.Context, hash string) (*utxo.ObservedTx, error) {
	var raw indexerTx
	if err := s.do(ctx, http.MethodGet, "/tx/"+hash, nil, &raw); err != nil {
		return nil, err
	}
	tx := raw.observed()
	return &tx, nil
}

// FeeRate converts the indexer estimate (sat/kB) to sat/vbyte, rounding up.
func (s *IndexerClient) FeeRate(ctx context.Context) (int64, error) {
	var fee feeResponse
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/fee?blocks=%d", s.FeeBlocks), nil, &fee); err != nil {
		return 0, err
	}
	if fee.Rate <= 0 {
		return 0, nil
	}
	return (fee.Rate + 999) / 1000, nil
}

func (s *IndexerClient) Broadcast(ctx context.Context, rawHex string) error {
	var res broadcastResponse
	if err := s.do(ctx, http.MethodPost, "/broadcast", map[string]string{"tx": rawHex}, &res); err != nil {
		return fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	if !res.Success {
		return ErrBroadcastFailed
	}
	return nil
}
