package btcwallet

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/metrics"
)

var (
	ErrQueueFull    = errors.New("send queue is full")
	ErrQueueStopped = errors.New("send queue stopped")
)

type sendReply struct {
	res *SendResult
	err error
}

type sendRequest struct {
	ctx    context.Context
	to     string
	amount int64
	id     string
	reply  chan sendReply
}

// Start runs the single consumer of the send queue until ctx is done.
// Sends are executed one at a time so that two payouts never select
// the same outputs. Once Start returns the queue refuses new sends.
func (w *BtcWallet) Start(ctx context.Context) error {
	logger.WithField("size", cap(w.queue)).Info("send queue started")
	defer logger.Info("send queue stopped")
	defer w.stopOnce.Do(func() { close(w.stopped) })
	w.reportUnsettled(ctx)

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case req := <-w.queue:
			metrics.SendQueueDepth.Set(float64(len(w.queue)))
			w.process(ctx, req)
		}
	}
}

func (w *BtcWallet) process(ctx context.Context, req *sendRequest) {
	// no new payout once the consumer is stopping
	if ctx.Err() != nil {
		req.reply <- sendReply{err: ErrQueueStopped}
		return
	}
	if err := req.ctx.Err(); err != nil {
		req.reply <- sendReply{err: err}
		return
	}

	res, err := w.SendTx(req.ctx, req.to, req.amount, req.id)
	req.reply <- sendReply{res: res, err: err}

	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.SendDelay):
	}
}

// reportUnsettled logs journalled payouts not yet seen on chain. Their
// operations send them again through the marker check.
func (w *BtcWallet) reportUnsettled(ctx context.Context) {
	if w.Journal == nil {
		return
	}
	for _, status := range []PayoutStatus{Signed, Broadcast} {
		payouts, err := w.Journal.GetPayoutsByStatus(ctx, status)
		if err != nil {
			logger.WithField("error", err).Warn("failed to read payout journal")
			return
		}
		for _, p := range payouts {
			logger.WithFields(logger.Fields{
				"id":     p.Id,
				"tx":     p.TxHash,
				"status": p.Status,
			}).Warn("payout not observed yet")
		}
	}
}

// drain fails the requests left behind when the consumer stops.
func (w *BtcWallet) drain() {
	for {
		select {
		case req := <-w.queue:
			req.reply <- sendReply{err: ErrQueueStopped}
		default:
			metrics.SendQueueDepth.Set(0)
			return
		}
	}
}

// SendTxSafe queues a SendTx and waits for its result. It fails with
// ErrQueueFull instead of blocking when the queue is at capacity and
// with ErrQueueStopped once the consumer is gone.
func (w *BtcWallet) SendTxSafe(ctx context.Context, to string, amount int64, id string) (*SendResult, error) {
	select {
	case <-w.stopped:
		return nil, ErrQueueStopped
	default:
	}

	req := &sendRequest{
		ctx:    ctx,
		to:     to,
		amount: amount,
		id:     id,
		reply:  make(chan sendReply, 1),
	}

	select {
	case w.queue <- req:
		metrics.SendQueueDepth.Set(float64(len(w.queue)))
	default:
		return nil, ErrQueueFull
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-req.reply:
		return r.res, r.err
	case <-w.stopped:
		// the consumer may have answered just before stopping
		select {
		case r := <-req.reply:
			return r.res, r.err
		default:
			return nil, ErrQueueStopped
		}
	}
}
