/*
This file contains the data structures shared by the wallet, the
assembler and the indexer client.
  - ObservedTx: a transaction as reported by the address indexer.
  - FreeOutput: a spendable output of one of the vault deposit addresses.
*/
package utxo

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

type Outpoint struct {
	Hash  string `json:"hash"`
	Index uint32 `json:"index"`
}

type ObservedInput struct {
	Prevout Outpoint `json:"prevout"`
	Address string   `json:"address,omitempty"` // address of the spent coin, if known
}

type ObservedOutput struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`  // in satoshi
	Script  string `json:"script"` // hex
}

// ObservedTx is a transaction seen by the indexer for some address.
// Height is -1 while in mempool.
type ObservedTx struct {
	Hash          string           `json:"hash"`
	Hex           string           `json:"hex"`
	Height        int64            `json:"height"`
	Confirmations int64            `json:"confirmations"`
	Inputs        []ObservedInput  `json:"inputs"`
	Outputs       []ObservedOutput `json:"outputs"`
}

func (tx *ObservedTx) Confirmed() bool {
	return tx.Confirmations > 0 && tx.Height > -1
}

// FreeOutput is an output of a deposit address not spent by any
// observed transaction.
type FreeOutput struct {
	TxHash         string `json:"hash"`
	Index          uint32 `json:"index"`
	RawTxHex       string `json:"hex"`
	Value          int64  `json:"value"`
	DepositAddress string `json:"address"`
	DerivationID   string `json:"id"` // business id that owns the deposit address
	PkScript       []byte `json:"-"`
}

func (o *FreeOutput) Key() string {
	return outpointKey(o.TxHash, o.Index)
}

func (o *FreeOutput) OutPoint() (*wire.OutPoint, error) {
	h, err := chainhash.NewHashFromStr(o.TxHash)
	if err != nil {
		return nil, err
	}
	return wire.NewOutPoint(h, o.Index), nil
}

// PrevOut returns the spent output, taken from the raw funding tx
// when the script was not provided by the indexer.
func (o *FreeOutput) PrevOut() (*wire.TxOut, error) {
	if len(o.PkScript) > 0 {
		return wire.NewTxOut(o.Value, o.PkScript), nil
	}
	tx, err := DecodeTx(o.RawTxHex)
	if err != nil {
		return nil, err
	}
	if int(o.Index) >= len(tx.TxOut) {
		return nil, ErrBadOutpoint
	}
	return tx.TxOut[o.Index], nil
}

func DecodeTx(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytesReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
