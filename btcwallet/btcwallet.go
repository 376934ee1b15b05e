package btcwallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcman/assembler"
	"github.com/TEENet-io/btc-vault/btcman/derive"
	"github.com/TEENet-io/btc-vault/btcman/rpc"
	"github.com/TEENet-io/btc-vault/btcman/utxo"
	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/common"
	"github.com/TEENet-io/btc-vault/metrics"
)

var (
	ErrFeeTooHigh     = errors.New("fee more than the ceiling")
	ErrReplayInputs   = errors.New("replace tx error - different inputs")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrConfirmTimeout = errors.New("timed out waiting for confirmations")
)

const (
	DefaultMaxFee         = 3_500_000 // satoshi
	DefaultConfirmations  = 2
	DefaultConfirmTimeout = 24 * time.Hour
)

type Config struct {
	ChainConfig *chaincfg.Params
	Vault       string // ledger address of this vault

	MinFee int64 // floor of the mining fee, satoshi
	MaxFee int64 // ceiling of the mining fee, satoshi

	SendDelay      time.Duration // pause after each queued send
	QueueSize      int
	RelayPoll      time.Duration
	Confirmations  int64
	ConfirmTimeout time.Duration // bound of a single WaitConfirmations
}

func (cfg *Config) setDefaults() {
	if cfg.MaxFee <= 0 {
		cfg.MaxFee = DefaultMaxFee
	}
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RelayPoll <= 0 {
		cfg.RelayPoll = 2 * time.Second
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
}

// RelaySyncer reports whether the ledger side header relay has caught
// up with the bitcoin tip.
type RelaySyncer interface {
	IsSynced(ctx context.Context) (bool, error)
}

type Deps struct {
	Master        *derive.SecretKey
	Facade        rpc.Facade
	Book          *btcvault.DepositBook
	WrongPayments btcvault.WrongPayments
	Relay         RelaySyncer
	Observer      TxObserver   // defaults to a PollingObserver on Facade
	Journal       *BtcWalletDB // optional
}

type BtcWallet struct {
	cfg *Config
	Deps
	ass *assembler.Assembler

	queue    chan *sendRequest
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewBtcWallet(cfg *Config, deps Deps) *BtcWallet {
	cfg.setDefaults()
	if deps.Observer == nil {
		deps.Observer = NewPollingObserver(deps.Facade)
	}
	return &BtcWallet{
		cfg:     cfg,
		Deps:    deps,
		ass:     &assembler.Assembler{ChainConfig: cfg.ChainConfig, Op: assembler.NewDerivedSigner(deps.Master, cfg.ChainConfig)},
		queue:   make(chan *sendRequest, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
}

func (w *BtcWallet) Config() Config {
	return *w.cfg
}

// GetFreeOutputs collects spendable outputs of the deposit addresses of
// vault until they cover amount. In maxMode every address is visited.
func (w *BtcWallet) GetFreeOutputs(ctx context.Context, amount int64, maxMode bool, vault string) ([]*utxo.FreeOutput, error) {
	deposits, err := w.Book.ActiveDeposits(ctx, vault)
	if err != nil {
		return nil, err
	}

	var (
		freeOutputs []*utxo.FreeOutput
		total       int64
		seen        = make(map[string]struct{})
	)
	for i := 0; i < len(deposits) && (maxMode || total < amount); i++ {
		rec := &deposits[i]
		address, err := w.Book.Address(rec)
		if err != nil {
			logger.WithFields(logger.Fields{"id": rec.ID, "error": err}).Warn("skip deposit with bad address")
			continue
		}

		txs, err := w.Facade.GetTxsByAddress(ctx, address)
		if err != nil {
			return nil, err
		}

		for _, out := range utxo.ActualOutputs(txs, address) {
			if !maxMode && total >= amount {
				break
			}
			if _, ok := seen[out.Key()]; ok {
				continue
			}
			seen[out.Key()] = struct{}{}
			out.DerivationID = rec.ID
			freeOutputs = append(freeOutputs, out)
			total += out.Value
		}
	}

	if !maxMode {
		return utxo.SelectUtxo(freeOutputs, amount)
	}
	if total < amount {
		return nil, fmt.Errorf("%w: required=%d, have=%d", utxo.ErrInsufficientFunds, amount, total)
	}
	return freeOutputs, nil
}

func (w *BtcWallet) GetBalances(ctx context.Context, vault string) (map[string]int64, error) {
	outs, err := w.GetFreeOutputs(ctx, 0, true, vault)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]int64)
	for _, o := range outs {
		balances[o.DepositAddress] += o.Value
	}
	return balances, nil
}

func (w *BtcWallet) GetTotalBalance(ctx context.Context, vault string) (int64, error) {
	outs, err := w.GetFreeOutputs(ctx, 0, true, vault)
	if err != nil {
		return 0, err
	}
	return utxo.Sum(outs), nil
}

// selectInputs raises the fee until the selected inputs pay for their
// own size. Every round selects at least as many inputs as the last.
func (w *BtcWallet) selectInputs(ctx context.Context, req *assembler.PayoutRequest, feeRate int64) error {
	fee := w.cfg.MinFee
	for {
		inputs, err := w.GetFreeOutputs(ctx, req.Amount+fee, false, w.cfg.Vault)
		if err != nil {
			return err
		}
		req.Inputs = inputs
		req.ChangeAddr = inputs[0].DepositAddress
		req.Fee = fee

		txOuts, err := w.ass.PayoutOutputs(req)
		if err != nil {
			return err
		}
		need := max(assembler.EstimateFee(len(inputs), txOuts, feeRate), w.cfg.MinFee)
		if need <= fee {
			break
		}
		fee = need
	}

	// a dust change is left to the miners
	if change := req.Change(); change > 0 && change < assembler.DustLimit {
		req.Fee += change
	}
	return nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func outpointsOf(inputs []*utxo.FreeOutput) []utxo.Outpoint {
	ops := make([]utxo.Outpoint, len(inputs))
	for i, in := range inputs {
		ops[i] = utxo.Outpoint{Hash: in.TxHash, Index: in.Index}
	}
	return ops
}

// SendTx pays amount satoshi to `to`, tagging the tx with id. Calling it
// again for the same id and receiver returns the tx already on chain.
func (w *BtcWallet) SendTx(ctx context.Context, to string, amount int64, id string) (*SendResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	newLogger := logger.WithFields(logger.Fields{
		"id":     id,
		"amount": amount,
	})

	toAddress, err := common.NormalizeBtcAddress(to, w.cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	newLogger = newLogger.WithField("to", toAddress)

	marker, err := assembler.MarkerScript(id)
	if err != nil {
		return nil, err
	}

	// search the same tx
	txs, err := w.Facade.GetTxsByAddress(ctx, toAddress)
	if err != nil {
		return nil, err
	}
	if created := utxo.FindByScript(txs, toAddress, hex.EncodeToString(marker)); created != nil {
		newLogger.WithField("tx", created.Hash).Info("transaction already created - skip send BTC")
		metrics.IdempotentSkips.Inc()
		if w.Journal != nil {
			if err := w.Journal.UpdatePayoutStatus(ctx, id, Observed); err != nil {
				newLogger.WithField("error", err).Warn("failed to update payout journal")
			}
		}
		return &SendResult{Status: true, TransactionHash: created.Hash, Tx: created}, nil
	}

	feeRate, err := w.Facade.GetNetworkFeeRate(ctx)
	if err != nil {
		return nil, err
	}

	req := &assembler.PayoutRequest{To: toAddress, Amount: amount, ID: id}
	if err := w.selectInputs(ctx, req, feeRate); err != nil {
		return nil, err
	}
	inputs := outpointsOf(req.Inputs)

	if w.Journal != nil {
		prior, ok, err := w.Journal.GetPayoutById(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && !utxo.SameOutpoints(prior.Inputs, inputs) {
			newLogger.WithFields(logger.Fields{
				"prior":  prior.TxHash,
				"inputs": len(inputs),
			}).Error("payout already signed on other inputs")
			return nil, fmt.Errorf("%w: id=%s, prior tx=%s", ErrReplayInputs, id, prior.TxHash)
		}
	}

	if req.Fee > w.cfg.MaxFee {
		return nil, fmt.Errorf("%w: fee=%d, ceiling=%d", ErrFeeTooHigh, req.Fee, w.cfg.MaxFee)
	}

	tx, err := w.ass.MakePayoutTx(req)
	if err != nil {
		return nil, err
	}
	rawTx, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}

	newLogger.WithFields(logger.Fields{
		"fee":    req.Fee,
		"change": req.Change(),
		"inputs": len(req.Inputs),
		"hash":   tx.TxHash().String(),
	}).Info("tx before send")

	if w.Journal != nil {
		if err := w.Journal.UpsertPayout(ctx, &Payout{
			Id:     id,
			To:     toAddress,
			Amount: amount,
			Fee:    req.Fee,
			TxHash: tx.TxHash().String(),
			RawTx:  rawTx,
			Inputs: inputs,
			Status: Signed,
		}); err != nil {
			return nil, err
		}
	}

	if err := w.Facade.Broadcast(ctx, rawTx); err != nil {
		return nil, err
	}
	metrics.Broadcasts.Inc()
	metrics.PayoutFee.Observe(float64(req.Fee))
	if w.Journal != nil {
		if err := w.Journal.UpdatePayoutStatus(ctx, id, Broadcast); err != nil {
			newLogger.WithField("error", err).Warn("failed to update payout journal")
		}
	}

	observed, err := w.Observer.Observe(ctx, req.Inputs[0].DepositAddress, rawTx)
	if err != nil {
		if errors.Is(err, ErrTxNotObserved) {
			newLogger.Warn("broadcast tx not observed")
			return &SendResult{Status: false, Fee: req.Fee}, nil
		}
		return nil, err
	}

	if w.Journal != nil {
		if err := w.Journal.UpdatePayoutStatus(ctx, id, Observed); err != nil {
			newLogger.WithField("error", err).Warn("failed to update payout journal")
		}
	}
	newLogger.WithField("tx", observed.Hash).Info("transaction successfully created")
	return &SendResult{Status: true, TransactionHash: observed.Hash, Fee: req.Fee, Tx: observed}, nil
}

// ForgetPayout drops the journal entry of id so that a payout can be
// rebuilt on new inputs. Only for an operator who checked the old tx
// can never confirm.
func (w *BtcWallet) ForgetPayout(ctx context.Context, id string) error {
	if w.Journal == nil {
		return nil
	}
	return w.Journal.DeletePayout(ctx, id)
}

// WaitRelayerSynchronization blocks until the header relay is synced.
func (w *BtcWallet) WaitRelayerSynchronization(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.RelayPoll)
	defer ticker.Stop()

	for {
		synced, err := w.Relay.IsSynced(ctx)
		if err != nil {
			logger.WithField("error", err).Warn("failed to read relay status")
		} else if synced {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitConfirmations blocks until hash has the configured number of
// confirmations. It gives up with ErrConfirmTimeout after ConfirmTimeout.
func (w *BtcWallet) WaitConfirmations(ctx context.Context, hash string) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.ConfirmTimeout)
	defer cancel()

	err := w.Facade.WaitForConfirmations(waitCtx, hash, w.cfg.Confirmations)
	if err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		logger.WithFields(logger.Fields{
			"hash":    hash,
			"timeout": w.cfg.ConfirmTimeout,
		}).Error("tx not confirmed in time")
		return fmt.Errorf("%w: tx=%s", ErrConfirmTimeout, hash)
	}
	return err
}
