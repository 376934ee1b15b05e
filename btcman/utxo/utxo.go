/*
This file contains filter/select operations on observed outputs.
*/
package utxo

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientFunds = errors.New("vault btc balance is too low")
	ErrBadOutpoint       = errors.New("output index out of range")
)

func outpointKey(hash string, index uint32) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(hash), index)
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// SpentSet collects every outpoint used as an input in txs.
func SpentSet(txs []ObservedTx) map[string]struct{} {
	spent := make(map[string]struct{})
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			spent[outpointKey(in.Prevout.Hash, in.Prevout.Index)] = struct{}{}
		}
	}
	return spent
}

// ActualOutputs returns the outputs paying address in confirmed txs
// that no observed tx spends. Unconfirmed txs still count as spenders.
func ActualOutputs(txs []ObservedTx, address string) []*FreeOutput {
	spent := SpentSet(txs)
	seen := make(map[string]struct{})

	var outs []*FreeOutput
	for _, tx := range txs {
		if !tx.Confirmed() {
			continue
		}
		for idx, out := range tx.Outputs {
			if out.Address != address {
				continue
			}
			key := outpointKey(tx.Hash, uint32(idx))
			if _, ok := spent[key]; ok {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			outs = append(outs, &FreeOutput{
				TxHash:         tx.Hash,
				Index:          uint32(idx),
				RawTxHex:       tx.Hex,
				Value:          out.Value,
				DepositAddress: address,
			})
		}
	}
	return outs
}

// FindByScript returns the first tx with an output carrying script (hex)
// and paying address.
func FindByScript(txs []ObservedTx, address string, scriptHex string) *ObservedTx {
	scriptHex = strings.ToLower(scriptHex)
	for i := range txs {
		tx := &txs[i]
		pays, marked := false, false
		for _, out := range tx.Outputs {
			if out.Address == address {
				pays = true
			}
			if strings.ToLower(out.Script) == scriptHex {
				marked = true
			}
		}
		if pays && marked {
			return tx
		}
	}
	return nil
}

// FindByHex returns the tx whose raw hex equals rawHex.
func FindByHex(txs []ObservedTx, rawHex string) *ObservedTx {
	for i := range txs {
		if strings.EqualFold(txs[i].Hex, rawHex) {
			return &txs[i]
		}
	}
	return nil
}

// SameOutpoints reports whether a and b name the same outpoints, in order.
func SameOutpoints(a, b []Outpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i].Hash, b[i].Hash) || a[i].Index != b[i].Index {
			return false
		}
	}
	return true
}

// Sum of output values in satoshi.
func Sum(outs []*FreeOutput) int64 {
	var sum int64
	for _, o := range outs {
		sum += o.Value
	}
	return sum
}

// SelectUtxo picks outputs in order until their sum covers amount.
func SelectUtxo(outs []*FreeOutput, amount int64) ([]*FreeOutput, error) {
	var sum int64
	for idx, item := range outs {
		sum += item.Value
		if sum >= amount {
			return outs[:idx+1], nil
		}
	}
	return nil, fmt.Errorf("%w: required=%d, have=%d", ErrInsufficientFunds, amount, sum)
}
