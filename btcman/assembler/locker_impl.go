package assembler

/*
This file implements the "locking" part of a Tx.

Since locking scripts do not require any prior knowledge of private keys,
it is universal to all wallet implementations.
*/

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/btc-vault/common"
)

var ErrMarkerMissing = errors.New("script is not a payment marker")

// AppendPayToAddress adds an output paying amount to dst_addr.
// (cannot be type of script address, though)
func AppendPayToAddress(tx *wire.MsgTx, dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.MsgTx, error) {
	txOutScript, err := PayToAddrScript(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(amount, txOutScript))
	return tx, nil
}

func PayToAddrScript(addr string, cfg *chaincfg.Params) ([]byte, error) {
	btcDstAddress, err := btcutil.DecodeAddress(addr, cfg)
	if err != nil {
		return nil, err
	}
	if !btcDstAddress.IsForNet(cfg) {
		return nil, fmt.Errorf("%s is not an address of %s", addr, cfg.Name)
	}
	return txscript.PayToAddrScript(btcDstAddress)
}

// MarkerScript is the OP_RETURN output script tagging a payout with its
// business id. The same id always yields the same script.
func MarkerScript(id string) ([]byte, error) {
	data, err := common.IDToBytes(id)
	if err != nil {
		return nil, err
	}
	return txscript.NullDataScript(data)
}

// AppendMarker adds the zero value marker output.
func AppendMarker(tx *wire.MsgTx, id string) (*wire.MsgTx, error) {
	script, err := MarkerScript(id)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(0, script)) // No value for OP_RETURN
	return tx, nil
}

// MarkerID reads the business id back from a marker script.
// Ids 0..16 are pushed as small integer opcodes.
func MarkerID(script []byte) (string, error) {
	if txscript.GetScriptClass(script) != txscript.NullDataTy {
		return "", ErrMarkerMissing
	}
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return "", ErrMarkerMissing
	}
	if !tokenizer.Next() {
		return "", ErrMarkerMissing
	}

	op := tokenizer.Opcode()
	switch {
	case op == txscript.OP_0:
		return "0", nil
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return strconv.Itoa(int(op-txscript.OP_1) + 1), nil
	case len(tokenizer.Data()) > 0:
		return common.BytesToID(tokenizer.Data()), nil
	}
	return "", ErrMarkerMissing
}
