// Package onebtc binds the parts of the OneBtc vault contract and its
// header relay that the vault process talks to.
package onebtc

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const OneBtcABI = `[
{"inputs":[{"internalType":"address","name":"requester","type":"address"},{"internalType":"uint256","name":"redeemId","type":"uint256"},{"internalType":"bytes","name":"merkleProof","type":"bytes"},{"internalType":"bytes","name":"rawTx","type":"bytes"},{"internalType":"uint32","name":"height","type":"uint32"},{"internalType":"uint256","name":"index","type":"uint256"},{"internalType":"bytes","name":"header","type":"bytes"}],"name":"executeRedeem","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"btcPublicKeyX","type":"uint256"},{"internalType":"uint256","name":"btcPublicKeyY","type":"uint256"}],"name":"registerVault","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"vaults","outputs":[{"internalType":"uint256","name":"btcPublicKeyX","type":"uint256"},{"internalType":"uint256","name":"btcPublicKeyY","type":"uint256"},{"internalType":"uint256","name":"collateral","type":"uint256"},{"internalType":"uint256","name":"issued","type":"uint256"},{"internalType":"uint256","name":"toBeIssued","type":"uint256"},{"internalType":"uint256","name":"toBeRedeemed","type":"uint256"},{"internalType":"uint256","name":"replaceCollateral","type":"uint256"},{"internalType":"uint256","name":"toBeReplaced","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"","type":"address"},{"internalType":"uint256","name":"","type":"uint256"}],"name":"redeemRequests","outputs":[{"internalType":"address","name":"vault","type":"address"},{"internalType":"uint256","name":"opentime","type":"uint256"},{"internalType":"uint256","name":"period","type":"uint256"},{"internalType":"uint256","name":"fee","type":"uint256"},{"internalType":"uint256","name":"amountBtc","type":"uint256"},{"internalType":"uint256","name":"transferFeeBtc","type":"uint256"},{"internalType":"uint256","name":"amountOne","type":"uint256"},{"internalType":"uint256","name":"premiumOne","type":"uint256"},{"internalType":"address","name":"requester","type":"address"},{"internalType":"address","name":"btcAddress","type":"address"},{"internalType":"uint32","name":"btcHeight","type":"uint32"},{"internalType":"uint8","name":"status","type":"uint8"}],"stateMutability":"view","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"issueId","type":"uint256"},{"indexed":true,"internalType":"address","name":"requester","type":"address"},{"indexed":true,"internalType":"address","name":"vaultId","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"fee","type":"uint256"},{"indexed":false,"internalType":"address","name":"btcAddress","type":"address"}],"name":"IssueRequested","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"redeemId","type":"uint256"},{"indexed":true,"internalType":"address","name":"requester","type":"address"},{"indexed":true,"internalType":"address","name":"vaultId","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"fee","type":"uint256"},{"indexed":false,"internalType":"address","name":"btcAddress","type":"address"}],"name":"RedeemRequested","type":"event"}
]`

const RelayABI = `[
{"inputs":[],"name":"getBestBlock","outputs":[{"internalType":"bytes32","name":"digest","type":"bytes32"},{"internalType":"uint256","name":"height","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	oneBtcABI = mustParse(OneBtcABI)
	relayABI  = mustParse(RelayABI)

	IssueRequestedID  = oneBtcABI.Events["IssueRequested"].ID
	RedeemRequestedID = oneBtcABI.Events["RedeemRequested"].ID

	ErrUnknownLog = errors.New("log is not a OneBtc request event")
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// OneBtcABIParsed returns the parsed contract abi.
func OneBtcABIParsed() abi.ABI {
	return oneBtcABI
}

// Vault is the on-chain record of a registered vault.
type Vault struct {
	BtcPublicKeyX     *big.Int
	BtcPublicKeyY     *big.Int
	Collateral        *big.Int
	Issued            *big.Int
	ToBeIssued        *big.Int
	ToBeRedeemed      *big.Int
	ReplaceCollateral *big.Int
	ToBeReplaced      *big.Int
}

// RedeemRequest is the on-chain record of a redemption.
type RedeemRequest struct {
	Vault          common.Address
	Opentime       *big.Int
	Period         *big.Int
	Fee            *big.Int
	AmountBtc      *big.Int
	TransferFeeBtc *big.Int
	AmountOne      *big.Int
	PremiumOne     *big.Int
	Requester      common.Address
	BtcAddress     common.Address
	BtcHeight      uint32
	Status         uint8
}

// IssueRequested is emitted when a user asks a vault for a deposit
// address. BtcAddress holds the hash160 of the derived address.
type IssueRequested struct {
	IssueId    *big.Int
	Requester  common.Address
	VaultId    common.Address
	Amount     *big.Int
	Fee        *big.Int
	BtcAddress common.Address
	Raw        types.Log
}

// RedeemRequested is emitted when a user burns tokens for BTC.
type RedeemRequested struct {
	RedeemId   *big.Int
	Requester  common.Address
	VaultId    common.Address
	Amount     *big.Int
	Fee        *big.Int
	BtcAddress common.Address
	Raw        types.Log
}

type OneBtc struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewOneBtc(address common.Address, backend bind.ContractBackend) *OneBtc {
	return &OneBtc{
		address:  address,
		contract: bind.NewBoundContract(address, oneBtcABI, backend, backend, backend),
	}
}

func (c *OneBtc) Address() common.Address {
	return c.address
}

func (c *OneBtc) Vaults(opts *bind.CallOpts, vault common.Address) (*Vault, error) {
	var out []interface{}
	if err := c.contract.Call(opts, &out, "vaults", vault); err != nil {
		return nil, err
	}
	if len(out) != 8 {
		return nil, fmt.Errorf("vaults: unexpected output length %d", len(out))
	}
	return &Vault{
		BtcPublicKeyX:     *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		BtcPublicKeyY:     *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Collateral:        *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Issued:            *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		ToBeIssued:        *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
		ToBeRedeemed:      *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
		ReplaceCollateral: *abi.ConvertType(out[6], new(*big.Int)).(**big.Int),
		ToBeReplaced:      *abi.ConvertType(out[7], new(*big.Int)).(**big.Int),
	}, nil
}

func (c *OneBtc) RedeemRequests(opts *bind.CallOpts, requester common.Address, id *big.Int) (*RedeemRequest, error) {
	var out []interface{}
	if err := c.contract.Call(opts, &out, "redeemRequests", requester, id); err != nil {
		return nil, err
	}
	if len(out) != 12 {
		return nil, fmt.Errorf("redeemRequests: unexpected output length %d", len(out))
	}
	return &RedeemRequest{
		Vault:          *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Opentime:       *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Period:         *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Fee:            *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		AmountBtc:      *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
		TransferFeeBtc: *abi.ConvertType(out[5], new(*big.Int)).(**big.Int),
		AmountOne:      *abi.ConvertType(out[6], new(*big.Int)).(**big.Int),
		PremiumOne:     *abi.ConvertType(out[7], new(*big.Int)).(**big.Int),
		Requester:      *abi.ConvertType(out[8], new(common.Address)).(*common.Address),
		BtcAddress:     *abi.ConvertType(out[9], new(common.Address)).(*common.Address),
		BtcHeight:      *abi.ConvertType(out[10], new(uint32)).(*uint32),
		Status:         *abi.ConvertType(out[11], new(uint8)).(*uint8),
	}, nil
}

func (c *OneBtc) ExecuteRedeem(opts *bind.TransactOpts, requester common.Address, redeemId *big.Int,
	merkleProof []byte, rawTx []byte, height uint32, index *big.Int, header []byte) (*types.Transaction, error) {
	return c.contract.Transact(opts, "executeRedeem", requester, redeemId, merkleProof, rawTx, height, index, header)
}

func (c *OneBtc) RegisterVault(opts *bind.TransactOpts, x *big.Int, y *big.Int) (*types.Transaction, error) {
	return c.contract.Transact(opts, "registerVault", x, y)
}

func (c *OneBtc) ParseIssueRequested(log types.Log) (*IssueRequested, error) {
	if len(log.Topics) == 0 || log.Topics[0] != IssueRequestedID {
		return nil, ErrUnknownLog
	}
	ev := new(IssueRequested)
	if err := c.contract.UnpackLog(ev, "IssueRequested", log); err != nil {
		return nil, err
	}
	ev.Raw = log
	return ev, nil
}

func (c *OneBtc) ParseRedeemRequested(log types.Log) (*RedeemRequested, error) {
	if len(log.Topics) == 0 || log.Topics[0] != RedeemRequestedID {
		return nil, ErrUnknownLog
	}
	ev := new(RedeemRequested)
	if err := c.contract.UnpackLog(ev, "RedeemRequested", log); err != nil {
		return nil, err
	}
	ev.Raw = log
	return ev, nil
}

// Relay is the BTC header relay the contract checks proofs against.
type Relay struct {
	contract *bind.BoundContract
}

func NewRelay(address common.Address, backend bind.ContractCaller) *Relay {
	return &Relay{contract: bind.NewBoundContract(address, relayABI, backend, nil, nil)}
}

// GetBestBlock returns the digest and height of the relay tip.
func (r *Relay) GetBestBlock(opts *bind.CallOpts) ([32]byte, *big.Int, error) {
	var out []interface{}
	if err := r.contract.Call(opts, &out, "getBestBlock"); err != nil {
		return [32]byte{}, nil, err
	}
	if len(out) != 2 {
		return [32]byte{}, nil, fmt.Errorf("getBestBlock: unexpected output length %d", len(out))
	}
	digest := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	height := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	return digest, height, nil
}
