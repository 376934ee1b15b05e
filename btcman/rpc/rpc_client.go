package rpc

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

type RpcClientConfig struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	Username   string
	Pwd        string
}

// Wrapper of btc rpc client.
type RpcClient struct {
	ServerAddr string // ip address of server
	Port       string // port of server
	client     *rpcclient.Client
}

// Create a new RPC client to a bitcoin node.
// The node must run with -txindex.
func NewRpcClient(rcc *RpcClientConfig) (*RpcClient, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         rcc.ServerAddr + ":" + rcc.Port,
		User:         rcc.Username,
		Pass:         rcc.Pwd,
		HTTPPostMode: true, // original bitcoin only supports HTTP POST mode
		DisableTLS:   true, // original bitcoin does not support TLS
	}, nil)

	if err != nil {
		return nil, err
	}

	return &RpcClient{rcc.ServerAddr, rcc.Port, client}, nil
}

// Close the rpc client
func (r *RpcClient) Close() {
	r.client.Shutdown()
}

// Get the latest block height.
func (r *RpcClient) GetLatestBlockHeight() (int64, error) {
	return r.client.GetBlockCount()
}

// GetTxProof locates a mined tx and builds its merkle inclusion proof.
func (r *RpcClient) GetTxProof(txID string) (*TxProof, error) {
	txHash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, err
	}
	verbose, err := r.client.GetRawTransactionVerbose(txHash)
	if err != nil {
		return nil, err
	}
	if verbose.BlockHash == "" {
		return nil, fmt.Errorf("tx %s is not mined yet", txID)
	}

	blockHash, err := chainhash.NewHashFromStr(verbose.BlockHash)
	if err != nil {
		return nil, err
	}
	block, err := r.client.GetBlock(blockHash)
	if err != nil {
		return nil, err
	}
	header, err := r.client.GetBlockHeaderVerbose(blockHash)
	if err != nil {
		return nil, err
	}

	return BuildTxProof(block, *txHash, int64(header.Height))
}

// BuildTxProof makes the proof of txHash inside block.
// Hashes are serialized in internal byte order.
func BuildTxProof(block *wire.MsgBlock, txHash chainhash.Hash, height int64) (*TxProof, error) {
	index := -1
	txs := make([]*btcutil.Tx, len(block.Transactions))
	for i, tx := range block.Transactions {
		txs[i] = btcutil.NewTx(tx)
		if tx.TxHash() == txHash {
			index = i
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %s in block %s", ErrTxNotFound, txHash, block.BlockHash())
	}

	store := blockchain.BuildMerkleTreeStore(txs, false)
	branch := MerkleBranch(store, len(txs), index)

	var proof bytes.Buffer
	for _, h := range branch {
		proof.Write(h[:])
	}

	var headerBuf, txBuf bytes.Buffer
	if err := block.Header.Serialize(&headerBuf); err != nil {
		return nil, err
	}
	// the contract parses legacy serialization
	if err := block.Transactions[index].SerializeNoWitness(&txBuf); err != nil {
		return nil, err
	}

	return &TxProof{
		TxHash:      txHash.String(),
		RawTx:       hex.EncodeToString(txBuf.Bytes()),
		Height:      height,
		Index:       int64(index),
		Header:      hex.EncodeToString(headerBuf.Bytes()),
		MerkleProof: hex.EncodeToString(proof.Bytes()),
	}, nil
}
