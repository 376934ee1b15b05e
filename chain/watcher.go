package chain

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	MinTickerDuration    = 100 * time.Millisecond
	DefaultMaxBlockRange = 1000
)

// EventSource is the ledger side of the watcher, satisfied by Ethman.
type EventSource interface {
	GetLatestFinalizedBlockNumber(ctx context.Context) (uint64, error)
	GetEventLogs(ctx context.Context, from, to uint64) ([]IssueRequest, []RedeemRequest, error)
	GetRedeemRequest(ctx context.Context, requester string, id string) (*RedeemRequest, error)
}

// Checkpoint remembers the last processed block across restarts.
type Checkpoint interface {
	LastBlock(ctx context.Context) (uint64, bool, error)
	SaveLastBlock(ctx context.Context, n uint64) error
}

type WatcherConfig struct {
	FrequencyToCheckBlock time.Duration

	// StartBlock is the first block scanned when there is no checkpoint
	StartBlock uint64

	// MaxBlockRange bounds the range of a single log query
	MaxBlockRange uint64
}

// Watcher scans finalized ledger blocks for issue and redeem requests
// and hands them to the publisher.
type Watcher struct {
	cfg        WatcherConfig
	source     EventSource
	publisher  *PublisherService
	checkpoint Checkpoint
	lastBlock  uint64
}

func NewWatcher(ctx context.Context, cfg WatcherConfig, source EventSource, publisher *PublisherService, checkpoint Checkpoint) (*Watcher, error) {
	if cfg.FrequencyToCheckBlock < MinTickerDuration {
		cfg.FrequencyToCheckBlock = MinTickerDuration
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultMaxBlockRange
	}

	w := &Watcher{
		cfg:        cfg,
		source:     source,
		publisher:  publisher,
		checkpoint: checkpoint,
	}
	if cfg.StartBlock > 0 {
		w.lastBlock = cfg.StartBlock - 1
	}

	stored, ok, err := checkpoint.LastBlock(ctx)
	if err != nil {
		logger.Error("failed to load the last processed ledger block")
		return nil, err
	}
	if ok && stored > w.lastBlock {
		w.lastBlock = stored
	}
	return w, nil
}

func (w *Watcher) LastBlock() uint64 {
	return w.lastBlock
}

func (w *Watcher) Sync(ctx context.Context) error {
	logger.Debug("starting ledger synchronization")
	defer func() {
		logger.Debug("stopping ledger synchronization")
	}()

	ticker := time.NewTicker(w.cfg.FrequencyToCheckBlock)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// a failed round is retried from the checkpoint on the next tick
			if err := w.syncOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.WithFields(logger.Fields{
					"lastBlock": w.lastBlock,
					"error":     err,
				}).Error("failed to sync ledger events")
			}
		}
	}
}

func (w *Watcher) syncOnce(ctx context.Context) error {
	finalized, err := w.source.GetLatestFinalizedBlockNumber(ctx)
	if err != nil {
		return err
	}
	if finalized <= w.lastBlock {
		return nil
	}

	for from := w.lastBlock + 1; from <= finalized; {
		to := from + w.cfg.MaxBlockRange - 1
		if to > finalized {
			to = finalized
		}

		issues, redeems, err := w.source.GetEventLogs(ctx, from, to)
		if err != nil {
			return err
		}
		logger.WithFields(logger.Fields{
			"from":    from,
			"to":      to,
			"issues":  len(issues),
			"redeems": len(redeems),
		}).Debug("events")

		for _, ev := range issues {
			logger.WithFields(logger.Fields{
				"id":         ev.ID,
				"vault":      ev.Vault,
				"btcAddress": ev.BtcAddress,
			}).Debug("IssueRequested event")
			w.publisher.NotifyIssue(ev)
		}

		for _, ev := range redeems {
			req, err := w.source.GetRedeemRequest(ctx, ev.Requester, ev.ID)
			if err != nil {
				return err
			}
			// the event knows where it was emitted, the contract knows the rest
			req.BlockNumber = ev.BlockNumber
			req.TxHash = ev.TxHash
			logger.WithFields(logger.Fields{
				"id":         req.ID,
				"vault":      req.Vault,
				"btcAddress": req.BtcAddress,
				"status":     req.Status,
			}).Debug("RedeemRequested event")
			w.publisher.NotifyRedeem(*req)
		}

		if err := w.checkpoint.SaveLastBlock(ctx, to); err != nil {
			return err
		}
		w.lastBlock = to
		from = to + 1
	}
	return nil
}
