package btcwallet

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcman/rpc"
	"github.com/TEENet-io/btc-vault/btcman/utxo"
)

var ErrTxNotObserved = errors.New("broadcast tx never became observable")

// TxObserver finds a broadcast tx once the indexer has seen it. The
// broadcast endpoint does not return the tx hash.
type TxObserver interface {
	Observe(ctx context.Context, address string, rawHex string) (*utxo.ObservedTx, error)
}

// PollingObserver looks the tx up by address and raw hex, waiting
// Interval before each of Attempts lookups.
type PollingObserver struct {
	Facade   rpc.Facade
	Attempts int
	Interval time.Duration
}

func NewPollingObserver(facade rpc.Facade) *PollingObserver {
	return &PollingObserver{Facade: facade, Attempts: 10, Interval: 5 * time.Second}
}

func (o *PollingObserver) Observe(ctx context.Context, address string, rawHex string) (*utxo.ObservedTx, error) {
	for i := 0; i < o.Attempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.Interval):
		}

		tx, err := o.Facade.SearchTxByHex(ctx, address, rawHex)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, rpc.ErrTxNotFound) {
			logger.WithFields(logger.Fields{
				"address": address,
				"attempt": i + 1,
				"error":   err,
			}).Warn("failed to search broadcast tx")
		}
	}
	return nil, ErrTxNotObserved
}
