package rpc

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcman/utxo"
	"github.com/TEENet-io/btc-vault/common"
)

var (
	ErrTxNotFound      = errors.New("transaction not found")
	ErrBroadcastFailed = errors.New("error to send broadcast")
	ErrNoNodeClient    = errors.New("no bitcoin node configured")
)

// Facade is everything the vault needs from the bitcoin network.
type Facade interface {
	// GetTxsByAddress returns every tx (mempool included) touching address.
	GetTxsByAddress(ctx context.Context, address string) ([]utxo.ObservedTx, error)
	// GetNetworkFeeRate returns the estimated fee rate in sat/vbyte.
	GetNetworkFeeRate(ctx context.Context) (int64, error)
	// Broadcast submits a raw tx. The node does not hand back the hash.
	Broadcast(ctx context.Context, rawHex string) error
	// SearchTxByHex looks for a tx of address with the exact raw hex.
	// Returns ErrTxNotFound when absent.
	SearchTxByHex(ctx context.Context, address string, rawHex string) (*utxo.ObservedTx, error)
	// GetTransaction fetches a tx by hash.
	GetTransaction(ctx context.Context, hash string) (*utxo.ObservedTx, error)
	// WaitForConfirmations blocks until hash has at least n confirmations.
	WaitForConfirmations(ctx context.Context, hash string, n int64) error
	// GetTxProof returns the inclusion proof of a confirmed tx.
	GetTxProof(ctx context.Context, hash string) (*TxProof, error)
}

// Client joins the address indexer with an optional full node.
// The node is only needed for inclusion proofs.
type Client struct {
	Indexer *IndexerClient
	Node    *RpcClient

	ConfirmPoll time.Duration
	RetryDelay  time.Duration
	Attempts    int
}

func NewClient(indexer *IndexerClient, node *RpcClient) *Client {
	return &Client{
		Indexer:     indexer,
		Node:        node,
		ConfirmPoll: 10 * time.Second,
		RetryDelay:  common.DefaultRetryDelay,
		Attempts:    5,
	}
}

func (c *Client) retry(ctx context.Context, fn func() error) error {
	return common.Retry(ctx, c.Attempts, c.RetryDelay, fn)
}

func (c *Client) GetTxsByAddress(ctx context.Context, address string) ([]utxo.ObservedTx, error) {
	var txs []utxo.ObservedTx
	err := c.retry(ctx, func() error {
		var err error
		txs, err = c.Indexer.TxsByAddress(ctx, address)
		return err
	})
	return txs, err
}

func (c *Client) GetNetworkFeeRate(ctx context.Context) (int64, error) {
	var rate int64
	err := c.retry(ctx, func() error {
		var err error
		rate, err = c.Indexer.FeeRate(ctx)
		return err
	})
	return rate, err
}

// Broadcast is not retried: a duplicate broadcast of a tx that did make
// it is reported by the node as an error.
func (c *Client) Broadcast(ctx context.Context, rawHex string) error {
	return c.Indexer.Broadcast(ctx, rawHex)
}

func (c *Client) SearchTxByHex(ctx context.Context, address string, rawHex string) (*utxo.ObservedTx, error) {
	txs, err := c.GetTxsByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if tx := utxo.FindByHex(txs, rawHex); tx != nil {
		return tx, nil
	}
	return nil, ErrTxNotFound
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*utxo.ObservedTx, error) {
	var tx *utxo.ObservedTx
	err := c.retry(ctx, func() error {
		var err error
		tx, err = c.Indexer.Tx(ctx, hash)
		return err
	})
	return tx, err
}

func (c *Client) WaitForConfirmations(ctx context.Context, hash string, n int64) error {
	ticker := time.NewTicker(c.ConfirmPoll)
	defer ticker.Stop()

	for {
		tx, err := c.Indexer.Tx(ctx, hash)
		switch {
		case err == nil && tx.Confirmations >= n:
			return nil
		case err == nil:
			logger.WithFields(logger.Fields{
				"hash":          hash,
				"confirmations": tx.Confirmations,
				"want":          n,
			}).Debug("waiting for confirmations")
		case errors.Is(err, ErrTxNotFound) || common.IsTransientError(err):
			logger.WithFields(logger.Fields{"hash": hash, "error": err}).Debug("tx not visible yet")
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) GetTxProof(ctx context.Context, hash string) (*TxProof, error) {
	if c.Node == nil {
		return nil, ErrNoNodeClient
	}
	var proof *TxProof
	err := c.retry(ctx, func() error {
		var err error
		proof, err = c.Node.GetTxProof(hash)
		return err
	})
	return proof, err
}
