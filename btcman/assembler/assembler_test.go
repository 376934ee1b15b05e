package assembler

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/btc-vault/btcman/derive"
	"github.com/TEENet-io/btc-vault/btcman/utxo"
)

const testMasterHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var regtest = &chaincfg.RegressionNetParams

func newMaster(t *testing.T) *derive.SecretKey {
	raw, _ := hex.DecodeString(testMasterHex)
	sk, err := derive.NewSecretKey(raw)
	require.NoError(t, err)
	return sk
}

// fundDeposits makes one tx paying value to the deposit address of each id.
func fundDeposits(t *testing.T, master *derive.SecretKey, ids []string, value int64) []*utxo.FreeOutput {
	funding := wire.NewMsgTx(wire.TxVersion)
	funding.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))

	addrs := make([]string, len(ids))
	for i, id := range ids {
		addr, err := derive.DepositAddress(master, id, regtest)
		require.NoError(t, err)
		addrs[i] = addr
		_, err = AppendPayToAddress(funding, regtest, addr, value)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, funding.Serialize(&buf))
	rawHex := hex.EncodeToString(buf.Bytes())

	outs := make([]*utxo.FreeOutput, len(ids))
	for i, id := range ids {
		outs[i] = &utxo.FreeOutput{
			TxHash:         funding.TxHash().String(),
			Index:          uint32(i),
			RawTxHex:       rawHex,
			Value:          value,
			DepositAddress: addrs[i],
			DerivationID:   id,
		}
	}
	return outs
}

func TestMarkerScript(t *testing.T) {
	for _, id := range []string{"0", "7", "16", "42", "93300159680157977562922029065933448796220752306205143836524272577377336881"} {
		script, err := MarkerScript(id)
		require.NoError(t, err)
		assert.Equal(t, txscript.NullDataTy, txscript.GetScriptClass(script))
		assert.Equal(t, byte(txscript.OP_RETURN), script[0])

		back, err := MarkerID(script)
		assert.NoError(t, err)
		assert.Equal(t, id, back)
	}

	// 42 is a one byte push
	script, _ := MarkerScript("42")
	assert.Equal(t, "6a012a", hex.EncodeToString(script))

	_, err := MarkerID([]byte{txscript.OP_TRUE})
	assert.ErrorIs(t, err, ErrMarkerMissing)
}

func TestMakePayoutTx(t *testing.T) {
	master := newMaster(t)
	defer master.Zero()

	inputs := fundDeposits(t, master, []string{"1", "2"}, 10_000)
	to, err := derive.DepositAddress(master, "99", regtest)
	require.NoError(t, err)

	ass := &Assembler{ChainConfig: regtest, Op: NewDerivedSigner(master, regtest)}
	req := &PayoutRequest{
		To:         to,
		Amount:     15_000,
		ID:         "42",
		ChangeAddr: inputs[0].DepositAddress,
		Fee:        1_000,
		Inputs:     inputs,
	}
	tx, err := ass.MakePayoutTx(req)
	require.NoError(t, err)

	assert.Len(t, tx.TxIn, 2)
	for _, in := range tx.TxIn {
		assert.Len(t, in.Witness, 2)
	}
	require.Len(t, tx.TxOut, 3)

	toScript, _ := PayToAddrScript(to, regtest)
	changeScript, _ := PayToAddrScript(inputs[0].DepositAddress, regtest)
	assert.Equal(t, toScript, tx.TxOut[0].PkScript)
	assert.Equal(t, int64(15_000), tx.TxOut[0].Value)
	assert.Equal(t, changeScript, tx.TxOut[1].PkScript)
	assert.Equal(t, int64(4_000), tx.TxOut[1].Value)
	assert.Equal(t, int64(0), tx.TxOut[2].Value)
	id, err := MarkerID(tx.TxOut[2].PkScript)
	assert.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestMakePayoutTxNoChange(t *testing.T) {
	master := newMaster(t)
	defer master.Zero()

	inputs := fundDeposits(t, master, []string{"5"}, 10_000)
	to, _ := derive.DepositAddress(master, "6", regtest)

	ass := &Assembler{ChainConfig: regtest, Op: NewDerivedSigner(master, regtest)}
	tx, err := ass.MakePayoutTx(&PayoutRequest{To: to, Amount: 9_000, ID: "5", ChangeAddr: inputs[0].DepositAddress, Fee: 1_000, Inputs: inputs})
	require.NoError(t, err)
	assert.Len(t, tx.TxOut, 2)
}

func TestMakePayoutTxWrongKey(t *testing.T) {
	master := newMaster(t)
	defer master.Zero()

	inputs := fundDeposits(t, master, []string{"1", "2"}, 10_000)
	inputs[1].DerivationID = "3" // not the owner of the address

	ass := &Assembler{ChainConfig: regtest, Op: NewDerivedSigner(master, regtest)}
	_, err := ass.MakePayoutTx(&PayoutRequest{To: inputs[0].DepositAddress, Amount: 1_000, ID: "7", ChangeAddr: inputs[0].DepositAddress, Fee: 500, Inputs: inputs})
	assert.ErrorIs(t, err, ErrSignInput)
}

func TestMakePayoutTxFeeExceedsLeftover(t *testing.T) {
	master := newMaster(t)
	defer master.Zero()

	inputs := fundDeposits(t, master, []string{"1"}, 10_000)
	ass := &Assembler{ChainConfig: regtest, Op: NewDerivedSigner(master, regtest)}
	_, err := ass.MakePayoutTx(&PayoutRequest{To: inputs[0].DepositAddress, Amount: 9_500, ID: "7", ChangeAddr: inputs[0].DepositAddress, Fee: 501, Inputs: inputs})
	assert.ErrorIs(t, err, ErrFeeExceedsLeftover)

	_, err = ass.MakePayoutTx(&PayoutRequest{To: inputs[0].DepositAddress, Amount: 1, ID: "7", Fee: 1})
	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestEstimateFee(t *testing.T) {
	master := newMaster(t)
	defer master.Zero()

	inputs := fundDeposits(t, master, []string{"1", "2"}, 10_000)
	ass := &Assembler{ChainConfig: regtest}
	outs, err := ass.PayoutOutputs(&PayoutRequest{To: inputs[0].DepositAddress, Amount: 1_000, ID: "7", ChangeAddr: inputs[1].DepositAddress, Fee: 0, Inputs: inputs})
	require.NoError(t, err)
	assert.Len(t, outs, 3)

	one := EstimateVSize(1, outs)
	two := EstimateVSize(2, outs)
	assert.Greater(t, one, 0)
	assert.Greater(t, two, one)
	assert.Equal(t, int64(two*3), EstimateFee(2, outs, 3))
}
