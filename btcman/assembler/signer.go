package assembler

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcman/derive"
	"github.com/TEENet-io/btc-vault/btcman/utxo"
)

var ErrSignInput = errors.New("can not sign for this input with the key")

// DerivedSigner unlocks deposit outputs. Each input is signed with the
// key derived from the master key and the id owning the deposit address.
type DerivedSigner struct {
	ChainConfig *chaincfg.Params
	master      *derive.SecretKey
}

func NewDerivedSigner(master *derive.SecretKey, chainConfig *chaincfg.Params) *DerivedSigner {
	return &DerivedSigner{ChainConfig: chainConfig, master: master}
}

// Unlock adds every previous output as an input, then signs and verifies
// them one by one. Nothing is returned unless every input verifies.
func (ds *DerivedSigner) Unlock(tx *wire.MsgTx, prevOutputs []*utxo.FreeOutput) (*wire.MsgTx, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut))
	prevOuts := make([]*wire.TxOut, len(prevOutputs))

	for idx, item := range prevOutputs {
		op, err := item.OutPoint()
		if err != nil {
			return nil, err
		}
		prevOut, err := item.PrevOut()
		if err != nil {
			return nil, err
		}
		prevOuts[idx] = prevOut
		fetcher.AddPrevOut(*op, prevOut)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for idx, item := range prevOutputs {
		if err := ds.signInput(tx, sigHashes, fetcher, idx, item, prevOuts[idx]); err != nil {
			logger.WithFields(logger.Fields{
				"idx":      idx,
				"id":       item.DerivationID,
				"outpoint": item.Key(),
				"error":    err,
			}).Error("error sign input")
			return nil, fmt.Errorf("%w, %s: %v", ErrSignInput, item.DerivationID, err)
		}
	}
	return tx, nil
}

func (ds *DerivedSigner) signInput(
	tx *wire.MsgTx,
	sigHashes *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher,
	idx int,
	item *utxo.FreeOutput,
	prevOut *wire.TxOut,
) error {
	kp, err := derive.Derive(ds.master, item.DerivationID)
	if err != nil {
		return err
	}
	defer kp.Zero()

	// the key must own the output
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(kp.PubKey.SerializeCompressed()), ds.ChainConfig)
	if err != nil {
		return err
	}
	ownScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	if !bytes.Equal(ownScript, prevOut.PkScript) {
		return fmt.Errorf("output %s is not locked to %s", item.Key(), addr.EncodeAddress())
	}

	witness, err := txscript.WitnessSignature(tx, sigHashes, idx, prevOut.Value, prevOut.PkScript, txscript.SigHashAll, kp.PrivKey, true)
	if err != nil {
		return err
	}
	tx.TxIn[idx].Witness = witness

	vm, err := txscript.NewEngine(prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags, nil, sigHashes, prevOut.Value, fetcher)
	if err != nil {
		return err
	}
	return vm.Execute()
}
