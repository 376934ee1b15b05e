/*
Locker and Unlocker are the basic interfaces
that a tx assembler shall satisfy.

Remember:
Always create the "lock" part firstly on Tx, then create the "unlock" part on Tx.
Witness signatures commit to every output, so adding outputs after
unlocking invalidates them.
*/
package assembler

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/btc-vault/btcman/utxo"
)

// Unlocker adds the inputs of a Tx and produces valid witnesses for them.
type Unlocker interface {
	// Given a list of free outputs, add each one as an input and unlock it.
	// Every input is verified; one bad input fails the whole Tx.
	Unlock(tx *wire.MsgTx, prevOutputs []*utxo.FreeOutput) (*wire.MsgTx, error)
}
