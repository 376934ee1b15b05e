package chain

import (
	"errors"
	"math/big"

	"github.com/TEENet-io/btc-vault/btcman/rpc"
)

var (
	ErrReadOnly       = errors.New("ledger client has no core key")
	ErrTxReverted     = errors.New("ledger transaction reverted")
	ErrNotRegistered  = errors.New("vault is not registered")
	ErrInvalidRequest = errors.New("invalid finalize request")
)

// RedeemStatus is the status field of a redeem request on the contract.
type RedeemStatus uint8

const (
	RedeemNotFound RedeemStatus = iota
	RedeemPending
	RedeemCompleted
	RedeemCanceled
)

func (s RedeemStatus) String() string {
	switch s {
	case RedeemPending:
		return "pending"
	case RedeemCompleted:
		return "completed"
	case RedeemCanceled:
		return "canceled"
	default:
		return "not_found"
	}
}

// RedeemRequest is a redemption read back from the contract after its
// RedeemRequested event.
type RedeemRequest struct {
	ID          string       `json:"id"`
	Vault       string       `json:"vault"`
	Requester   string       `json:"requester"`
	BtcAddress  string       `json:"btcAddress"` // 0x prefixed hash160
	AmountBtc   int64        `json:"amountBtc"`  // satoshi
	Fee         int64        `json:"fee"`
	Status      RedeemStatus `json:"status"`
	OpenTime    int64        `json:"openTime"`
	BtcHeight   uint32       `json:"btcHeight"`
	BlockNumber uint64       `json:"blockNumber"`
	TxHash      string       `json:"txHash"`
}

// IssueRequest is a deposit address assignment taken from an
// IssueRequested event.
type IssueRequest struct {
	ID          string `json:"id"`
	Vault       string `json:"vault"`
	Requester   string `json:"requester"`
	BtcAddress  string `json:"btcAddress"`
	Amount      int64  `json:"amount"`
	Fee         int64  `json:"fee"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
	Timestamp   int64  `json:"timestamp"`
}

// VaultInfo is the contract state of a registered vault.
type VaultInfo struct {
	Address      string   `json:"address"`
	PublicKeyX   *big.Int `json:"publicKeyX"`
	PublicKeyY   *big.Int `json:"publicKeyY"`
	Collateral   *big.Int `json:"collateral"`
	Issued       *big.Int `json:"issued"`
	ToBeIssued   *big.Int `json:"toBeIssued"`
	ToBeRedeemed *big.Int `json:"toBeRedeemed"`
}

// FinalizeRequest proves a redemption payout to the contract.
type FinalizeRequest struct {
	RedeemID  string
	Requester string
	Proof     *rpc.TxProof
}

type TxResult struct {
	Status bool   `json:"status"`
	Hash   string `json:"transactionHash"`
}
