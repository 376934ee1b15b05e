package btcwallet

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcman/assembler"
	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/common"
)

var (
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrWrongPaymentType       = errors.New("wrong payment type")
	ErrWrongPaymentVault      = errors.New("payment belongs to another vault")
	ErrAlreadyRefunded        = errors.New("payment already refunded")
	ErrWrongPaymentTxNotFound = errors.New("transaction not found in vault")
)

// ValidateWrongPayment checks that the wrong payment id was received by
// one of the deposit addresses of vault and was not refunded yet.
func (w *BtcWallet) ValidateWrongPayment(ctx context.Context, id string, vault string) (*btcvault.WrongPayment, error) {
	wp, err := w.WrongPayments.FindWrongPayment(ctx, id)
	if err != nil {
		if errors.Is(err, btcvault.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if wp.Type != btcvault.TxTypeWrongPayment {
		return nil, ErrWrongPaymentType
	}
	if !common.SameAddress(wp.Vault, vault) {
		return nil, ErrWrongPaymentVault
	}

	marker, err := assembler.MarkerScript(id)
	if err != nil {
		return nil, err
	}
	markerHex := hex.EncodeToString(marker)

	deposits, err := w.Book.AllDeposits(ctx, vault)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range deposits {
		address, err := w.Book.Address(&deposits[i])
		if err != nil {
			continue
		}
		txs, err := w.Facade.GetTxsByAddress(ctx, address)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			if strings.EqualFold(tx.Hash, wp.TxHash) {
				found = true
			}
			for _, out := range tx.Outputs {
				if strings.EqualFold(out.Script, markerHex) {
					logger.WithFields(logger.Fields{"id": id, "tx": tx.Hash}).Warn("wrong payment already refunded")
					return nil, ErrAlreadyRefunded
				}
			}
		}
	}

	if !found {
		return nil, ErrWrongPaymentTxNotFound
	}
	return wp, nil
}
