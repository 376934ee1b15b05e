package assembler

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Vault deposit addresses are all P2WPKH.
func EstimateVSize(numInputs int, txOuts []*wire.TxOut) int {
	return txsizes.EstimateVirtualSize(0, 0, numInputs, 0, txOuts, 0)
}

// EstimateFee returns vsize * satPerVByte for a payout spending
// numInputs deposit outputs.
func EstimateFee(numInputs int, txOuts []*wire.TxOut, satPerVByte int64) int64 {
	return int64(EstimateVSize(numInputs, txOuts)) * satPerVByte
}

// dust limit for P2WPKH outputs at the default relay fee
const DustLimit = 294
