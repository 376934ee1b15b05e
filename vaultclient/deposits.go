package vaultclient

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/chain"
	"github.com/TEENet-io/btc-vault/common"
)

// DepositIngester records the issue requests of the vault so that their
// deposit addresses become spendable.
type DepositIngester struct {
	vault   string
	book    *btcvault.DepositBook
	writer  btcvault.DepositRecordWriter
	issueCh chan chain.IssueRequest
}

func NewDepositIngester(vault string, book *btcvault.DepositBook, writer btcvault.DepositRecordWriter, buffer int) *DepositIngester {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &DepositIngester{
		vault:   vault,
		book:    book,
		writer:  writer,
		issueCh: make(chan chain.IssueRequest, buffer),
	}
}

// IssueObserver is the channel to register with the chain publisher.
func (d *DepositIngester) IssueObserver() chan chain.IssueRequest {
	return d.issueCh
}

func (d *DepositIngester) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.issueCh:
			if err := d.HandleIssueRequest(ctx, ev); err != nil {
				logger.WithFields(logger.Fields{
					"id":    ev.ID,
					"error": err,
				}).Error("failed to record deposit")
			}
		}
	}
}

// HandleIssueRequest stores the deposit record of an issue request of
// this vault. A request seen before is not an error.
func (d *DepositIngester) HandleIssueRequest(ctx context.Context, ev chain.IssueRequest) error {
	if !common.SameAddress(ev.Vault, d.vault) {
		return nil
	}
	err := d.book.AddDeposit(ctx, d.writer, btcvault.DepositRecord{
		ID:          ev.ID,
		Vault:       ev.Vault,
		Requester:   ev.Requester,
		Amount:      ev.Amount,
		Fee:         ev.Fee,
		BtcAddress:  ev.BtcAddress,
		Status:      "1",
		BlockNumber: int64(ev.BlockNumber),
		TxHash:      ev.TxHash,
		Timestamp:   ev.Timestamp,
	})
	if errors.Is(err, btcvault.ErrRecordExists) {
		logger.WithField("id", ev.ID).Debug("deposit already recorded")
		return nil
	}
	if err != nil {
		return err
	}
	logger.WithFields(logger.Fields{
		"id":         ev.ID,
		"btcAddress": ev.BtcAddress,
	}).Info("deposit recorded")
	return nil
}
