package btcwallet

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"

	"github.com/TEENet-io/btc-vault/btcman/utxo"
)

type PayoutStatus string

const (
	Signed    PayoutStatus = "signed"
	Broadcast PayoutStatus = "broadcast"
	Observed  PayoutStatus = "observed"
)

// Payout is the journal entry of a payout tx, written before broadcast.
type Payout struct {
	Id        string // business id carried in the marker
	To        string
	Amount    int64
	Fee       int64
	TxHash    string
	RawTx     string
	Inputs    []utxo.Outpoint
	CreatedAt time.Time
	Status    PayoutStatus
}

type sqlPayout struct {
	Id        string
	To        string
	Amount    int64
	Fee       int64
	TxHash    string
	RawTx     string
	Inputs    []byte
	CreatedAt time.Time
	Status    string
}

func encodeOutpoints(outpoints []utxo.Outpoint) ([]byte, error) {
	if outpoints == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(outpoints); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeOutpoints(data []byte) ([]utxo.Outpoint, error) {
	if data == nil {
		return nil, nil
	}

	if len(data) == 0 {
		return nil, errors.New("expect non-empty bytes")
	}

	decoder := gob.NewDecoder(bytes.NewReader(data))
	var outpoints []utxo.Outpoint
	if err := decoder.Decode(&outpoints); err != nil {
		return nil, err
	}

	return outpoints, nil
}

func (p *sqlPayout) encode(payout *Payout) (*sqlPayout, error) {
	inputs, err := encodeOutpoints(payout.Inputs)
	if err != nil {
		return nil, err
	}

	p.Id = payout.Id
	p.To = payout.To
	p.Amount = payout.Amount
	p.Fee = payout.Fee
	p.TxHash = payout.TxHash
	p.RawTx = payout.RawTx
	p.Inputs = inputs
	p.Status = string(payout.Status)
	return p, nil
}

func (p *sqlPayout) decode() (*Payout, error) {
	inputs, err := decodeOutpoints(p.Inputs)
	if err != nil {
		return nil, err
	}

	return &Payout{
		Id:        p.Id,
		To:        p.To,
		Amount:    p.Amount,
		Fee:       p.Fee,
		TxHash:    p.TxHash,
		RawTx:     p.RawTx,
		Inputs:    inputs,
		CreatedAt: p.CreatedAt,
		Status:    PayoutStatus(p.Status),
	}, nil
}

// SendResult is what a payout step reports back.
type SendResult struct {
	Status          bool             `json:"status"`
	TransactionHash string           `json:"transactionHash"`
	Fee             int64            `json:"fee,omitempty"`
	Tx              *utxo.ObservedTx `json:"tx,omitempty"`
}
