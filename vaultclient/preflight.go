package vaultclient

import (
	"context"

	"github.com/TEENet-io/btc-vault/chain"
	"github.com/TEENet-io/btc-vault/operation"
)

type RedeemStatusReader interface {
	RedeemStatus(ctx context.Context, requester string, id string) (chain.RedeemStatus, error)
}

// Preflight classifies an operation by the ledger state of its id.
// A wrong payment has no ledger record; its first action checks it.
type Preflight struct {
	ledger RedeemStatusReader
}

func NewPreflight(ledger RedeemStatusReader) *Preflight {
	return &Preflight{ledger: ledger}
}

func (p *Preflight) Preflight(ctx context.Context, params operation.Params) (operation.RemoteStatus, error) {
	if params.Type != operation.Redeem {
		return operation.RemotePending, nil
	}

	status, err := p.ledger.RedeemStatus(ctx, params.Requester, params.ID)
	if err != nil {
		return operation.RemoteNotFound, err
	}
	switch status {
	case chain.RedeemPending:
		return operation.RemotePending, nil
	case chain.RedeemCompleted:
		return operation.RemoteCompleted, nil
	case chain.RedeemCanceled:
		return operation.RemoteCanceled, nil
	default:
		return operation.RemoteNotFound, nil
	}
}
