package btcwallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/btc-vault/btcman/assembler"
	"github.com/TEENet-io/btc-vault/btcman/rpc"
	"github.com/TEENet-io/btc-vault/btcman/utxo"
	"github.com/TEENet-io/btc-vault/common"
)

var _ rpc.Facade = (*SimulatedFacade)(nil)

// SimulatedFacade is an in-memory bitcoin network for tests. Broadcast
// txs go to the mempool until Mine is called.
type SimulatedFacade struct {
	ChainConfig *chaincfg.Params

	FeeRate        int64 // sat/vbyte
	BroadcastErr   error // returned by Broadcast when set
	HideBroadcasts bool  // accept broadcasts without making them visible

	mu         sync.Mutex
	txs        map[string]*wire.MsgTx
	heights    map[string]int64 // -1 in mempool
	order      []string
	spent      map[string]string // outpoint -> spending tx
	blocks     []*wire.MsgBlock
	broadcasts int
}

func NewSimulatedFacade(cfg *chaincfg.Params) *SimulatedFacade {
	return &SimulatedFacade{
		ChainConfig: cfg,
		FeeRate:     2,
		txs:         make(map[string]*wire.MsgTx),
		heights:     make(map[string]int64),
		spent:       make(map[string]string),
	}
}

func (s *SimulatedFacade) Broadcasts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcasts
}

func (s *SimulatedFacade) tip() int64 {
	return int64(len(s.blocks))
}

// Fund mines a tx paying value satoshi to address and returns its hash.
func (s *SimulatedFacade) Fund(address string, value int64) string {
	script, err := assembler.PayToAddrScript(address, s.ChainConfig)
	if err != nil {
		panic(err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := chainhash.Hash{}
	copy(prev[:], common.RandBytes(32))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, script))

	s.mu.Lock()
	s.add(tx)
	s.mu.Unlock()
	s.Mine(1)
	return tx.TxHash().String()
}

// AddTx puts tx in the mempool without checking its inputs.
func (s *SimulatedFacade) AddTx(tx *wire.MsgTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(tx)
}

func (s *SimulatedFacade) add(tx *wire.MsgTx) {
	hash := tx.TxHash().String()
	if _, ok := s.txs[hash]; !ok {
		s.order = append(s.order, hash)
	}
	s.txs[hash] = tx
	s.heights[hash] = -1
	for _, in := range tx.TxIn {
		s.spent[in.PreviousOutPoint.String()] = hash
	}
}

// Mine confirms the mempool in the first of n new blocks.
func (s *SimulatedFacade) Mine(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		block := wire.NewMsgBlock(&wire.BlockHeader{Version: 1, Timestamp: blockTime(len(s.blocks))})
		coinbase := wire.NewMsgTx(wire.TxVersion)
		coinbase.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), []byte{byte(len(s.blocks))}, nil))
		coinbase.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_TRUE}))
		_ = block.AddTransaction(coinbase)

		height := s.tip() + 1
		for _, hash := range s.order {
			if s.heights[hash] == -1 {
				s.heights[hash] = height
				_ = block.AddTransaction(s.txs[hash])
			}
		}
		s.blocks = append(s.blocks, block)
	}
}

func (s *SimulatedFacade) observe(tx *wire.MsgTx) utxo.ObservedTx {
	hash := tx.TxHash().String()
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)

	obs := utxo.ObservedTx{
		Hash:   hash,
		Hex:    hex.EncodeToString(buf.Bytes()),
		Height: s.heights[hash],
	}
	if obs.Height > 0 {
		obs.Confirmations = s.tip() - obs.Height + 1
	}
	for _, in := range tx.TxIn {
		oi := utxo.ObservedInput{Prevout: utxo.Outpoint{
			Hash:  in.PreviousOutPoint.Hash.String(),
			Index: in.PreviousOutPoint.Index,
		}}
		if prev, ok := s.txs[oi.Prevout.Hash]; ok && int(oi.Prevout.Index) < len(prev.TxOut) {
			oi.Address = s.addressOf(prev.TxOut[oi.Prevout.Index].PkScript)
		}
		obs.Inputs = append(obs.Inputs, oi)
	}
	for _, out := range tx.TxOut {
		obs.Outputs = append(obs.Outputs, utxo.ObservedOutput{
			Address: s.addressOf(out.PkScript),
			Value:   out.Value,
			Script:  hex.EncodeToString(out.PkScript),
		})
	}
	return obs
}

func (s *SimulatedFacade) addressOf(script []byte) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, s.ChainConfig)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

func (s *SimulatedFacade) touches(obs *utxo.ObservedTx, address string) bool {
	for _, in := range obs.Inputs {
		if in.Address == address {
			return true
		}
	}
	for _, out := range obs.Outputs {
		if out.Address == address {
			return true
		}
	}
	return false
}

func (s *SimulatedFacade) GetTxsByAddress(ctx context.Context, address string) ([]utxo.ObservedTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txs []utxo.ObservedTx
	for _, hash := range s.order {
		obs := s.observe(s.txs[hash])
		if s.touches(&obs, address) {
			txs = append(txs, obs)
		}
	}
	return txs, nil
}

func (s *SimulatedFacade) GetNetworkFeeRate(ctx context.Context) (int64, error) {
	return s.FeeRate, nil
}

// Broadcast rejects txs spending unknown or already spent outputs.
func (s *SimulatedFacade) Broadcast(ctx context.Context, rawHex string) error {
	if s.BroadcastErr != nil {
		return s.BroadcastErr
	}
	tx, err := utxo.DecodeTx(rawHex)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := tx.TxHash().String()
	if _, ok := s.txs[hash]; ok {
		return fmt.Errorf("%w: txn-already-known", rpc.ErrBroadcastFailed)
	}
	for _, in := range tx.TxIn {
		prev, ok := s.txs[in.PreviousOutPoint.Hash.String()]
		if !ok || int(in.PreviousOutPoint.Index) >= len(prev.TxOut) {
			return fmt.Errorf("%w: missing inputs", rpc.ErrBroadcastFailed)
		}
		if by, ok := s.spent[in.PreviousOutPoint.String()]; ok {
			return fmt.Errorf("%w: %s already spent by %s", rpc.ErrBroadcastFailed, in.PreviousOutPoint, by)
		}
	}

	s.broadcasts++
	if s.HideBroadcasts {
		return nil
	}
	s.add(tx)
	return nil
}

func (s *SimulatedFacade) SearchTxByHex(ctx context.Context, address string, rawHex string) (*utxo.ObservedTx, error) {
	txs, err := s.GetTxsByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if tx := utxo.FindByHex(txs, rawHex); tx != nil {
		return tx, nil
	}
	return nil, rpc.ErrTxNotFound
}

func (s *SimulatedFacade) GetTransaction(ctx context.Context, hash string) (*utxo.ObservedTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[strings.ToLower(hash)]
	if !ok {
		return nil, rpc.ErrTxNotFound
	}
	obs := s.observe(tx)
	return &obs, nil
}

// WaitForConfirmations does not wait: the simulated chain only moves
// on Mine.
func (s *SimulatedFacade) WaitForConfirmations(ctx context.Context, hash string, n int64) error {
	tx, err := s.GetTransaction(ctx, hash)
	if err != nil {
		return err
	}
	if tx.Confirmations < n {
		return fmt.Errorf("tx %s has %d confirmations, want %d", hash, tx.Confirmations, n)
	}
	return nil
}

func (s *SimulatedFacade) GetTxProof(ctx context.Context, hash string) (*rpc.TxProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, ok := s.heights[strings.ToLower(hash)]
	if !ok || height < 1 {
		return nil, rpc.ErrTxNotFound
	}
	txHash, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return nil, err
	}
	return rpc.BuildTxProof(s.blocks[height-1], *txHash, height)
}

func blockTime(height int) time.Time {
	return time.Unix(1_700_000_000+int64(height)*600, 0)
}
