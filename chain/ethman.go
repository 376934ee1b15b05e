package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/common"
	"github.com/TEENet-io/btc-vault/contracts/onebtc"
)

type ethereumClient interface {
	ethereum.ChainReader
	ethereum.LogFilterer
	ethereum.TransactionReader

	bind.DeployBackend
	bind.ContractBackend

	ChainID(ctx context.Context) (*big.Int, error)
}

// Ethman talks to the OneBtc contract and its header relay.
type Ethman struct {
	cfg       Config
	ethClient ethereumClient
	contract  *onebtc.OneBtc
	relay     *onebtc.Relay
	auth      *bind.TransactOpts

	txMu sync.Mutex // one pending nonce at a time
}

func NewEthman(ctx context.Context, cfg Config) (*Ethman, error) {
	ethClient, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return newEthman(ctx, ethClient, cfg)
}

func newEthman(ctx context.Context, ethClient ethereumClient, cfg Config) (*Ethman, error) {
	cfg.setDefaults()
	e := &Ethman{
		cfg:       cfg,
		ethClient: ethClient,
		contract:  onebtc.NewOneBtc(cfg.ContractAddress, ethClient),
		relay:     onebtc.NewRelay(cfg.RelayAddress, ethClient),
	}
	if cfg.CoreKey == nil {
		return e, nil
	}

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(cfg.CoreKey, chainID)
	if err != nil {
		return nil, err
	}
	e.auth = auth
	return e, nil
}

func (e *Ethman) Vault() ethcommon.Address {
	return e.cfg.Vault
}

func (e *Ethman) retry(ctx context.Context, fn func() error) error {
	return common.Retry(ctx, e.cfg.RetryAttempts, e.cfg.RetryDelay, fn)
}

func (e *Ethman) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx}
}

func (e *Ethman) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *e.auth
	opts.Context = ctx
	return &opts
}

// GetLatestFinalizedBlockNumber returns the head minus the finality depth.
func (e *Ethman) GetLatestFinalizedBlockNumber(ctx context.Context) (uint64, error) {
	var head *types.Header
	err := e.retry(ctx, func() error {
		var err error
		head, err = e.ethClient.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	n := head.Number.Uint64()
	if n < e.cfg.Finality {
		return 0, nil
	}
	return n - e.cfg.Finality, nil
}

// GetEventLogs returns the request events of the contract in the block
// range [from, to]. Other events of the contract are skipped.
func (e *Ethman) GetEventLogs(ctx context.Context, from, to uint64) ([]IssueRequest, []RedeemRequest, error) {
	var logs []types.Log
	err := e.retry(ctx, func() error {
		var err error
		logs, err = e.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []ethcommon.Address{e.cfg.ContractAddress},
			Topics:    [][]ethcommon.Hash{{onebtc.IssueRequestedID, onebtc.RedeemRequestedID}},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return e.parseLogs(ctx, logs)
}

func (e *Ethman) parseLogs(ctx context.Context, logs []types.Log) ([]IssueRequest, []RedeemRequest, error) {
	var issues []IssueRequest
	var redeems []RedeemRequest
	times := make(map[uint64]int64)

	for _, vlog := range logs {
		if vlog.Removed || len(vlog.Topics) == 0 {
			continue
		}
		switch vlog.Topics[0] {
		case onebtc.IssueRequestedID:
			ev, err := e.contract.ParseIssueRequested(vlog)
			if err != nil {
				return nil, nil, err
			}
			ts, ok := times[vlog.BlockNumber]
			if !ok {
				ts, err = e.blockTime(ctx, vlog.BlockNumber)
				if err != nil {
					return nil, nil, err
				}
				times[vlog.BlockNumber] = ts
			}
			issues = append(issues, IssueRequest{
				ID:          ev.IssueId.String(),
				Vault:       ev.VaultId.Hex(),
				Requester:   ev.Requester.Hex(),
				BtcAddress:  ev.BtcAddress.Hex(),
				Amount:      satoshi(ev.Amount),
				Fee:         satoshi(ev.Fee),
				BlockNumber: vlog.BlockNumber,
				TxHash:      vlog.TxHash.Hex(),
				Timestamp:   ts,
			})
		case onebtc.RedeemRequestedID:
			ev, err := e.contract.ParseRedeemRequested(vlog)
			if err != nil {
				return nil, nil, err
			}
			redeems = append(redeems, RedeemRequest{
				ID:          ev.RedeemId.String(),
				Vault:       ev.VaultId.Hex(),
				Requester:   ev.Requester.Hex(),
				BtcAddress:  ev.BtcAddress.Hex(),
				AmountBtc:   satoshi(ev.Amount),
				Fee:         satoshi(ev.Fee),
				Status:      RedeemPending,
				BlockNumber: vlog.BlockNumber,
				TxHash:      vlog.TxHash.Hex(),
			})
		default:
			logger.WithField("topic", vlog.Topics[0].Hex()).Debug("skip unknown event")
		}
	}
	return issues, redeems, nil
}

func (e *Ethman) blockTime(ctx context.Context, n uint64) (int64, error) {
	var head *types.Header
	err := e.retry(ctx, func() error {
		var err error
		head, err = e.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		return err
	})
	if err != nil {
		return 0, err
	}
	return int64(head.Time), nil
}

// GetRedeemRequest reads a redemption from the contract. Unknown ids
// come back with status RedeemNotFound.
func (e *Ethman) GetRedeemRequest(ctx context.Context, requester string, id string) (*RedeemRequest, error) {
	n, err := common.ParseID(id)
	if err != nil {
		return nil, err
	}
	if !ethcommon.IsHexAddress(requester) {
		return nil, fmt.Errorf("invalid requester address %q", requester)
	}

	var req *onebtc.RedeemRequest
	err = e.retry(ctx, func() error {
		var err error
		req, err = e.contract.RedeemRequests(e.callOpts(ctx), ethcommon.HexToAddress(requester), n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &RedeemRequest{
		ID:         n.String(),
		Vault:      req.Vault.Hex(),
		Requester:  req.Requester.Hex(),
		BtcAddress: req.BtcAddress.Hex(),
		AmountBtc:  satoshi(req.AmountBtc),
		Fee:        satoshi(req.TransferFeeBtc),
		Status:     RedeemStatus(req.Status),
		OpenTime:   satoshi(req.Opentime),
		BtcHeight:  req.BtcHeight,
	}, nil
}

func (e *Ethman) RedeemStatus(ctx context.Context, requester string, id string) (RedeemStatus, error) {
	req, err := e.GetRedeemRequest(ctx, requester, id)
	if err != nil {
		return RedeemNotFound, err
	}
	return req.Status, nil
}

// GetVaultState returns nil when the vault is not registered.
func (e *Ethman) GetVaultState(ctx context.Context) (*VaultInfo, error) {
	var v *onebtc.Vault
	err := e.retry(ctx, func() error {
		var err error
		v, err = e.contract.Vaults(e.callOpts(ctx), e.cfg.Vault)
		return err
	})
	if err != nil {
		return nil, err
	}
	if v.BtcPublicKeyX == nil || v.BtcPublicKeyX.Sign() == 0 {
		return nil, nil
	}
	return &VaultInfo{
		Address:      e.cfg.Vault.Hex(),
		PublicKeyX:   v.BtcPublicKeyX,
		PublicKeyY:   v.BtcPublicKeyY,
		Collateral:   v.Collateral,
		Issued:       v.Issued,
		ToBeIssued:   v.ToBeIssued,
		ToBeRedeemed: v.ToBeRedeemed,
	}, nil
}

// RegisterVault registers the vault public key with collateral wei and
// waits for the transaction to be mined.
func (e *Ethman) RegisterVault(ctx context.Context, x, y, collateral *big.Int) (*VaultInfo, error) {
	if e.auth == nil {
		return nil, ErrReadOnly
	}

	e.txMu.Lock()
	opts := e.transactOpts(ctx)
	opts.Value = collateral
	tx, err := e.contract.RegisterVault(opts, x, y)
	e.txMu.Unlock()
	if err != nil {
		return nil, err
	}

	res, err := e.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !res.Status {
		return nil, fmt.Errorf("%w: registerVault %s", ErrTxReverted, res.Hash)
	}
	logger.WithFields(logger.Fields{
		"vault": e.cfg.Vault.Hex(),
		"tx":    res.Hash,
	}).Info("vault registered")

	info, err := e.GetVaultState(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrNotRegistered
	}
	return info, nil
}

// FinalizeRedemption submits the payout proof of a redemption and waits
// for the transaction to be mined. A reverted transaction is reported
// with Status false.
func (e *Ethman) FinalizeRedemption(ctx context.Context, req FinalizeRequest) (*TxResult, error) {
	if e.auth == nil {
		return nil, ErrReadOnly
	}
	if req.Proof == nil || !ethcommon.IsHexAddress(req.Requester) {
		return nil, ErrInvalidRequest
	}
	id, err := common.ParseID(req.RedeemID)
	if err != nil {
		return nil, err
	}
	merkleProof, err := hex.DecodeString(req.Proof.MerkleProof)
	if err != nil {
		return nil, fmt.Errorf("%w: merkle proof: %v", ErrInvalidRequest, err)
	}
	rawTx, err := hex.DecodeString(req.Proof.RawTx)
	if err != nil {
		return nil, fmt.Errorf("%w: raw tx: %v", ErrInvalidRequest, err)
	}
	header, err := hex.DecodeString(req.Proof.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidRequest, err)
	}

	e.txMu.Lock()
	tx, err := e.contract.ExecuteRedeem(e.transactOpts(ctx),
		ethcommon.HexToAddress(req.Requester),
		id,
		merkleProof,
		rawTx,
		uint32(req.Proof.Height),
		big.NewInt(req.Proof.Index),
		header,
	)
	e.txMu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"id":     req.RedeemID,
		"btcTx":  req.Proof.TxHash,
		"ethTx":  tx.Hash().Hex(),
		"height": req.Proof.Height,
	}).Info("executeRedeem sent")

	return e.waitMined(ctx, tx)
}

func (e *Ethman) waitMined(ctx context.Context, tx *types.Transaction) (*TxResult, error) {
	receipt, err := bind.WaitMined(ctx, e.ethClient, tx)
	if err != nil {
		return nil, err
	}
	return &TxResult{
		Status: receipt.Status == types.ReceiptStatusSuccessful,
		Hash:   tx.Hash().Hex(),
	}, nil
}

// RelayHeight is the height of the best block known to the header relay.
func (e *Ethman) RelayHeight(ctx context.Context) (int64, error) {
	var height *big.Int
	err := e.retry(ctx, func() error {
		var err error
		_, height, err = e.relay.GetBestBlock(e.callOpts(ctx))
		return err
	})
	if err != nil {
		return 0, err
	}
	return height.Int64(), nil
}

// satoshi narrows a contract amount. Amounts above int64 cannot be BTC.
func satoshi(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}
