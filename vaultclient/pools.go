package vaultclient

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/btcman/rpc"
	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/btcwallet"
	"github.com/TEENet-io/btc-vault/chain"
	"github.com/TEENet-io/btc-vault/operation"
)

var (
	ErrRefundTooLarge   = errors.New("refund exceeds the wrong payment")
	ErrTxNotObserved    = errors.New("payout broadcast but not observed")
	ErrFinalizeReverted = errors.New("executeRedeem reverted")
)

// Wallet is the part of btcwallet.BtcWallet the flows use.
type Wallet interface {
	SendTxSafe(ctx context.Context, to string, amount int64, id string) (*btcwallet.SendResult, error)
	WaitRelayerSynchronization(ctx context.Context) error
	WaitConfirmations(ctx context.Context, hash string) error
	ValidateWrongPayment(ctx context.Context, id string, vault string) (*btcvault.WrongPayment, error)
}

type ProofSource interface {
	GetTxProof(ctx context.Context, hash string) (*rpc.TxProof, error)
}

// Ledger is the contract side of a redemption.
type Ledger interface {
	RedeemStatus(ctx context.Context, requester string, id string) (chain.RedeemStatus, error)
	FinalizeRedemption(ctx context.Context, req chain.FinalizeRequest) (*chain.TxResult, error)
}

// Pools builds the action pools of every flow on top of the wallet and
// the ledger.
type Pools struct {
	wallet Wallet
	proofs ProofSource
	ledger Ledger
}

func NewPools(wallet Wallet, proofs ProofSource, ledger Ledger) *Pools {
	return &Pools{wallet: wallet, proofs: proofs, ledger: ledger}
}

func (p *Pools) Redeem(params operation.Params) []*operation.Action {
	return []*operation.Action{
		operation.NewAction(operation.ActionParams{
			Type: operation.TransferBTC,
			Fn:   p.send(params),
		}),
		operation.NewAction(operation.ActionParams{
			Type: operation.WaitingConfirmations,
			Fn:   p.waitConfirmations(operation.TransferBTC, true),
		}),
		operation.NewAction(operation.ActionParams{
			Type: operation.ExecuteRedeem,
			Fn:   p.executeRedeem(params),
		}),
	}
}

func (p *Pools) ReturnWrongPayment(params operation.Params) []*operation.Action {
	return []*operation.Action{
		operation.NewAction(operation.ActionParams{
			Type: operation.ValidateWrongPayment,
			Fn:   p.validateWrongPayment(params),
		}),
		operation.NewAction(operation.ActionParams{
			Type: operation.ReturnBTC,
			Fn:   p.send(params),
		}),
		operation.NewAction(operation.ActionParams{
			Type: operation.WaitingConfirmations,
			Fn:   p.waitConfirmations(operation.ReturnBTC, false),
		}),
	}
}

func (p *Pools) SendRaw(params operation.Params) []*operation.Action {
	return []*operation.Action{
		operation.NewAction(operation.ActionParams{
			Type: operation.TransferBTC,
			Fn:   p.send(params),
		}),
		operation.NewAction(operation.ActionParams{
			Type: operation.WaitingConfirmations,
			Fn:   p.waitConfirmations(operation.TransferBTC, false),
		}),
	}
}

func (p *Pools) send(params operation.Params) operation.ActionFunc {
	return func(ctx context.Context, env operation.Env) (*operation.Result, error) {
		res, err := p.wallet.SendTxSafe(ctx, params.BtcAddress, params.Amount, params.ID)
		if err != nil {
			return nil, err
		}
		if !res.Status {
			return &operation.Result{Status: false, Error: ErrTxNotObserved.Error()}, nil
		}
		return &operation.Result{
			Status:          true,
			TransactionHash: res.TransactionHash,
			Data:            map[string]any{"fee": res.Fee},
		}, nil
	}
}

// waitConfirmations waits for the tx of the src action. With
// waitRelay the header relay must also reach the bitcoin tip so that
// the proof can be checked on the ledger.
func (p *Pools) waitConfirmations(src operation.ActionType, waitRelay bool) operation.ActionFunc {
	return func(ctx context.Context, env operation.Env) (*operation.Result, error) {
		hash, err := env.TxHashOf(src)
		if err != nil {
			return nil, err
		}
		if waitRelay {
			if err := p.wallet.WaitRelayerSynchronization(ctx); err != nil {
				return nil, err
			}
		}
		if err := p.wallet.WaitConfirmations(ctx, hash); err != nil {
			return nil, err
		}
		if waitRelay {
			// the relay has to hold the confirming blocks too
			if err := p.wallet.WaitRelayerSynchronization(ctx); err != nil {
				return nil, err
			}
		}
		return &operation.Result{Status: true, TransactionHash: hash}, nil
	}
}

func (p *Pools) executeRedeem(params operation.Params) operation.ActionFunc {
	return func(ctx context.Context, env operation.Env) (*operation.Result, error) {
		hash, err := env.TxHashOf(operation.TransferBTC)
		if err != nil {
			return nil, err
		}

		newLogger := logger.WithFields(logger.Fields{
			"id":    params.ID,
			"btcTx": hash,
		})

		status, err := p.ledger.RedeemStatus(ctx, params.Requester, params.ID)
		if err != nil {
			newLogger.WithField("error", err).Warn("failed to read redeem status before executeRedeem")
		} else if status == chain.RedeemCompleted {
			newLogger.Info("redeem already executed")
			return &operation.Result{Status: true, Data: map[string]any{"redeemStatus": status.String()}}, nil
		}

		proof, err := p.proofs.GetTxProof(ctx, hash)
		if err != nil {
			return nil, err
		}
		res, err := p.ledger.FinalizeRedemption(ctx, chain.FinalizeRequest{
			RedeemID:  params.ID,
			Requester: params.Requester,
			Proof:     proof,
		})
		if err != nil {
			return nil, err
		}
		if !res.Status {
			return &operation.Result{
				Status:          false,
				TransactionHash: res.Hash,
				Error:           fmt.Sprintf("%s: %s", ErrFinalizeReverted, res.Hash),
			}, nil
		}
		return &operation.Result{
			Status:          true,
			TransactionHash: res.Hash,
			Data:            map[string]any{"height": proof.Height, "index": proof.Index},
		}, nil
	}
}

func (p *Pools) validateWrongPayment(params operation.Params) operation.ActionFunc {
	return func(ctx context.Context, env operation.Env) (*operation.Result, error) {
		wp, err := p.wallet.ValidateWrongPayment(ctx, params.ID, params.Vault)
		if err != nil {
			return nil, err
		}
		if params.Amount > wp.Amount {
			return nil, fmt.Errorf("%w: %d > %d", ErrRefundTooLarge, params.Amount, wp.Amount)
		}
		return &operation.Result{Status: true, TransactionHash: wp.TxHash, Data: wp}, nil
	}
}
