package vaultclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/chain"
	"github.com/TEENet-io/btc-vault/common"
	"github.com/TEENet-io/btc-vault/operation"
	"github.com/TEENet-io/btc-vault/storage"
)

const (
	OperationsCollection = "operations"
	HistoryCollection    = "operations_history"

	DefaultEventBuffer = 100
)

var (
	ErrOperationExists   = errors.New("this operation already created")
	ErrOperationNotFound = errors.New("operation not found")
)

type Config struct {
	Vault       string // ledger address of this vault
	EventBuffer int
	Timings     operation.ActionTimings // zero value means operation.DefaultTimings
}

// VaultClient keeps every operation of the vault, creates new ones from
// redeem requests and admin calls and resumes unfinished ones.
type VaultClient struct {
	cfg   Config
	store storage.Store
	deps  operation.Deps

	mu         sync.RWMutex
	operations map[string]*operation.Operation
	order      []string
	creating   map[string]bool

	baseCtx context.Context
	wg      sync.WaitGroup

	redeemCh chan chain.RedeemRequest
}

func NewVaultClient(cfg Config, store storage.Store, pools operation.PoolBuilder, validator operation.PreflightValidator) *VaultClient {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	vc := &VaultClient{
		cfg:        cfg,
		store:      store,
		operations: make(map[string]*operation.Operation),
		creating:   make(map[string]bool),
		baseCtx:    context.Background(),
		redeemCh:   make(chan chain.RedeemRequest, cfg.EventBuffer),
	}
	vc.deps = operation.Deps{
		Pools:     pools,
		Validator: validator,
		Persist:   vc.persist,
		Timings:   cfg.Timings,
	}
	return vc
}

// RedeemObserver is the channel to register with the chain publisher.
func (vc *VaultClient) RedeemObserver() chan chain.RedeemRequest {
	return vc.redeemCh
}

func (vc *VaultClient) persist(ctx context.Context, op *operation.Operation) error {
	rec := op.Snapshot(true)
	if err := vc.store.Upsert(ctx, OperationsCollection, rec.ID, rec); err != nil {
		return err
	}
	return vc.store.Append(ctx, HistoryCollection, rec.ID, rec)
}

// Start loads the persisted operations and resumes the unfinished ones.
// Operations that fail to restore are logged and skipped. Pools started
// later run under ctx.
func (vc *VaultClient) Start(ctx context.Context) error {
	vc.mu.Lock()
	vc.baseCtx = ctx
	vc.mu.Unlock()

	var records []operation.OperationRecord
	for page := 0; ; page++ {
		docs, total, err := vc.store.Query(ctx, OperationsCollection, storage.Query{Page: page, Size: storage.DefaultPageSize})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var rec operation.OperationRecord
			if err := json.Unmarshal(doc, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		if len(docs) == 0 || (page+1)*storage.DefaultPageSize >= total {
			break
		}
	}

	var result *multierror.Error
	resumed := 0
	for _, rec := range records {
		op, err := operation.Restore(ctx, rec, vc.deps)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("restore %s: %w", rec.ID, err))
			continue
		}
		vc.mu.Lock()
		if _, ok := vc.operations[op.ID()]; !ok {
			vc.order = append(vc.order, op.ID())
		}
		vc.operations[op.ID()] = op
		vc.mu.Unlock()

		if !rec.Status.IsTerminal() {
			vc.start(op)
			resumed++
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		logger.WithField("error", err).Error("some operations could not be restored")
	}
	logger.WithFields(logger.Fields{
		"vault":      vc.cfg.Vault,
		"operations": len(records),
		"resumed":    resumed,
	}).Info("vault client started")
	return nil
}

// Run handles redeem requests until ctx is done.
func (vc *VaultClient) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-vc.redeemCh:
			if err := vc.HandleRedeemRequest(ctx, ev); err != nil && !errors.Is(err, ErrOperationExists) {
				logger.WithFields(logger.Fields{
					"id":    ev.ID,
					"error": err,
				}).Error("failed to create redeem operation")
			}
		}
	}
}

func (vc *VaultClient) start(op *operation.Operation) {
	vc.mu.RLock()
	ctx := vc.baseCtx
	vc.mu.RUnlock()

	vc.wg.Add(1)
	done := op.Start(ctx)
	go func() {
		<-done
		vc.wg.Done()
	}()
}

// Wait blocks until every started pool has stopped.
func (vc *VaultClient) Wait() {
	vc.wg.Wait()
}

// HandleRedeemRequest creates a redeem operation for a pending request
// of this vault. Other requests are ignored.
func (vc *VaultClient) HandleRedeemRequest(ctx context.Context, ev chain.RedeemRequest) error {
	if !common.SameAddress(ev.Vault, vc.cfg.Vault) || ev.Status != chain.RedeemPending {
		logger.WithFields(logger.Fields{
			"id":     ev.ID,
			"vault":  ev.Vault,
			"status": ev.Status,
		}).Debug("skip redeem request")
		return nil
	}
	_, err := vc.CreateOperation(ctx, operation.Params{
		ID:         ev.ID,
		Type:       operation.Redeem,
		Vault:      ev.Vault,
		Requester:  ev.Requester,
		BtcAddress: ev.BtcAddress,
		Amount:     ev.AmountBtc,
	})
	return err
}

// CreateOperation classifies, persists and starts a new operation.
func (vc *VaultClient) CreateOperation(ctx context.Context, p operation.Params) (*operation.Operation, error) {
	vc.mu.Lock()
	if _, ok := vc.operations[p.ID]; ok || vc.creating[p.ID] {
		vc.mu.Unlock()
		logger.WithField("id", p.ID).Error("operation already created")
		return nil, ErrOperationExists
	}
	vc.creating[p.ID] = true
	vc.mu.Unlock()

	op, err := operation.New(ctx, p, vc.deps)

	vc.mu.Lock()
	delete(vc.creating, p.ID)
	if err == nil {
		vc.operations[p.ID] = op
		vc.order = append(vc.order, p.ID)
	}
	vc.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := vc.persist(ctx, op); err != nil {
		logger.WithFields(logger.Fields{"id": p.ID, "error": err}).Error("failed to persist operation")
	}
	logger.WithFields(logger.Fields{
		"id":     p.ID,
		"type":   p.Type,
		"status": op.Status(),
	}).Info("operation created")

	vc.start(op)
	return op, nil
}

func (vc *VaultClient) GetOperation(id string) (*operation.Operation, error) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	op, ok := vc.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return op, nil
}

// ResetOperation replaces an operation that ended in error with a fresh
// one and starts it.
// Only one reset of an id runs at a time.
func (vc *VaultClient) ResetOperation(ctx context.Context, id string) (*operation.Operation, error) {
	vc.mu.Lock()
	old, ok := vc.operations[id]
	if !ok {
		vc.mu.Unlock()
		return nil, ErrOperationNotFound
	}
	if vc.creating[id] {
		vc.mu.Unlock()
		return nil, ErrOperationExists
	}
	vc.creating[id] = true
	vc.mu.Unlock()

	op, err := operation.Reset(ctx, old)

	vc.mu.Lock()
	delete(vc.creating, id)
	if err == nil && vc.operations[id] != old {
		err = ErrOperationExists
	}
	if err == nil {
		vc.operations[id] = op
	}
	vc.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := vc.persist(ctx, op); err != nil {
		logger.WithFields(logger.Fields{"id": id, "error": err}).Error("failed to persist operation")
	}
	logger.WithFields(logger.Fields{
		"id":           id,
		"wasRestarted": op.WasRestarted(),
	}).Info("operation reset")

	vc.start(op)
	return op, nil
}

func (vc *VaultClient) CancelOperation(ctx context.Context, id string) error {
	op, err := vc.GetOperation(id)
	if err != nil {
		return err
	}
	return op.Cancel(ctx)
}

func (vc *VaultClient) SetActionTransactionHash(ctx context.Context, opID, actionID, hash string, replace bool) error {
	op, err := vc.GetOperation(opID)
	if err != nil {
		return err
	}
	return op.SetActionTransactionHash(ctx, actionID, hash, replace)
}

type ListFilter struct {
	Status operation.Status
	Type   operation.OperationType
	Page   int
	Size   int
}

// ListOperations returns snapshots of the matching operations, newest
// first, and the number of matches.
func (vc *VaultClient) ListOperations(filter ListFilter) ([]operation.OperationRecord, int) {
	if filter.Size <= 0 {
		filter.Size = storage.DefaultPageSize
	}
	if filter.Page < 0 {
		filter.Page = 0
	}

	vc.mu.RLock()
	ops := make([]*operation.Operation, 0, len(vc.order))
	for i := len(vc.order) - 1; i >= 0; i-- {
		ops = append(ops, vc.operations[vc.order[i]])
	}
	vc.mu.RUnlock()

	var matched []operation.OperationRecord
	for _, op := range ops {
		if filter.Type != "" && op.Params().Type != filter.Type {
			continue
		}
		if filter.Status != "" && op.Status() != filter.Status {
			continue
		}
		matched = append(matched, op.Snapshot(false))
	}

	start := filter.Page * filter.Size
	if start >= len(matched) {
		return []operation.OperationRecord{}, len(matched)
	}
	end := start + filter.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched)
}

// History returns every persisted snapshot of an operation, oldest first.
func (vc *VaultClient) History(ctx context.Context, id string) ([]json.RawMessage, error) {
	if _, err := vc.GetOperation(id); err != nil {
		return nil, err
	}
	return vc.store.History(ctx, HistoryCollection, id)
}

type Info struct {
	Vault      string                          `json:"vault"`
	Operations int                             `json:"operations"`
	ByStatus   map[operation.Status]int        `json:"byStatus"`
	ByType     map[operation.OperationType]int `json:"byType"`
	Running    []string                        `json:"running"`
}

func (vc *VaultClient) Info() Info {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	info := Info{
		Vault:      vc.cfg.Vault,
		Operations: len(vc.operations),
		ByStatus:   make(map[operation.Status]int),
		ByType:     make(map[operation.OperationType]int),
		Running:    []string{},
	}
	for id, op := range vc.operations {
		status := op.Status()
		info.ByStatus[status]++
		info.ByType[op.Params().Type]++
		if status == operation.InProgress {
			info.Running = append(info.Running, id)
		}
	}
	sort.Strings(info.Running)
	return info
}
