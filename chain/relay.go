package chain

import (
	"context"

	logger "github.com/sirupsen/logrus"
)

// RelayHeightSource is the header relay side, satisfied by Ethman.
type RelayHeightSource interface {
	RelayHeight(ctx context.Context) (int64, error)
}

// BtcHeightSource is the bitcoin node side, satisfied by rpc.RpcClient.
type BtcHeightSource interface {
	GetLatestBlockHeight() (int64, error)
}

// RelayStatus compares the relay tip with the bitcoin node tip.
type RelayStatus struct {
	relay RelayHeightSource
	btc   BtcHeightSource
}

func NewRelayStatus(relay RelayHeightSource, btc BtcHeightSource) *RelayStatus {
	return &RelayStatus{relay: relay, btc: btc}
}

// IsSynced is true once the relay has caught up with the node.
func (r *RelayStatus) IsSynced(ctx context.Context) (bool, error) {
	relayHeight, err := r.relay.RelayHeight(ctx)
	if err != nil {
		return false, err
	}
	nodeHeight, err := r.btc.GetLatestBlockHeight()
	if err != nil {
		return false, err
	}
	if relayHeight < nodeHeight {
		logger.WithFields(logger.Fields{
			"relay": relayHeight,
			"node":  nodeHeight,
		}).Debug("relay behind the bitcoin node")
		return false, nil
	}
	return true, nil
}
