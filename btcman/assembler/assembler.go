package assembler

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/btc-vault/btcman/utxo"
)

var (
	ErrFeeExceedsLeftover = errors.New("fee more than left amount")
	ErrNoInputs           = errors.New("no inputs to spend")
)

type Assembler struct {
	ChainConfig *chaincfg.Params // which BTC chain it is on. (mainnet, testnet, regtest)
	Op          Unlocker         // can do unlocking on a btc transaction.
}

// PayoutRequest describes one vault payout.
type PayoutRequest struct {
	To         string             // receiver, native address
	Amount     int64              // satoshi to the receiver
	ID         string             // business id carried in the marker output
	ChangeAddr string             // receiver of the change
	Fee        int64              // mining fee in satoshi
	Inputs     []*utxo.FreeOutput // outputs to spend from
}

// Change is sum(inputs) - amount - fee.
func (r *PayoutRequest) Change() int64 {
	return utxo.Sum(r.Inputs) - r.Amount - r.Fee
}

// craftPayoutOutput creates the outputs of a payout Tx.
// output #1, satoshi to the receiver.
// output #2, the change back to the vault (omitted when exactly zero).
// output #3, the business id in OP_RETURN.
func (myAss *Assembler) craftPayoutOutput(tx *wire.MsgTx, req *PayoutRequest) (*wire.MsgTx, error) {
	if len(req.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	left := utxo.Sum(req.Inputs) - req.Amount
	if req.Fee > left {
		return nil, fmt.Errorf("%w: sum=%d, amount=%d, fee=%d", ErrFeeExceedsLeftover, utxo.Sum(req.Inputs), req.Amount, req.Fee)
	}

	// 1st output: to the receiver
	tx, err := AppendPayToAddress(tx, myAss.ChainConfig, req.To, req.Amount)
	if err != nil {
		return nil, err
	}

	// 2nd output: change
	if change := left - req.Fee; change > 0 {
		tx, err = AppendPayToAddress(tx, myAss.ChainConfig, req.ChangeAddr, change)
		if err != nil {
			return nil, err
		}
	}

	// 3rd output: marker
	return AppendMarker(tx, req.ID)
}

// PayoutOutputs returns the outputs a payout would have, for fee estimation.
func (myAss *Assembler) PayoutOutputs(req *PayoutRequest) ([]*wire.TxOut, error) {
	tx, err := myAss.craftPayoutOutput(wire.NewMsgTx(wire.TxVersion), req)
	if err != nil {
		return nil, err
	}
	return tx.TxOut, nil
}

// MakePayoutTx builds and signs a payout.
// It takes care of both locking + unlocking.
// You need to broadcast the Tx later.
func (myAss *Assembler) MakePayoutTx(req *PayoutRequest) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)

	// Stuff the locking scripts first.
	tx, err := myAss.craftPayoutOutput(tx, req)
	if err != nil {
		return nil, err
	}

	// Stuff the unlocking scripts, secondly.
	return myAss.Op.Unlock(tx, req.Inputs)
}
