package operation

import (
	"context"
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/metrics"
)

// Params are the immutable business parameters of an operation.
type Params struct {
	ID         string
	Type       OperationType
	Vault      string
	Requester  string
	BtcAddress string
	Amount     int64 // satoshi
}

// PreflightValidator asks the counter-ledger about the state of a
// business id before any work is done for it.
type PreflightValidator interface {
	Preflight(ctx context.Context, p Params) (RemoteStatus, error)
}

// PersistFunc stores the latest snapshot of op. It is called after
// every action and must be safe to repeat.
type PersistFunc func(ctx context.Context, op *Operation) error

type Deps struct {
	Pools     PoolBuilder
	Validator PreflightValidator // nil skips the pre-flight
	Persist   PersistFunc
	Timings   ActionTimings // zero value means DefaultTimings
}

// Operation is the ordered pool of actions of one business flow.
type Operation struct {
	mu sync.RWMutex

	params       Params
	status       Status
	wasRestarted int
	timestamp    int64
	actions      []*Action

	deps    Deps
	running bool
	cancel  context.CancelFunc
}

func newOperation(p Params, deps Deps) (*Operation, error) {
	if p.ID == "" {
		return nil, errors.New("operation id is empty")
	}
	actions, err := BuildPool(deps.Pools, p)
	if err != nil {
		return nil, err
	}
	if deps.Timings != (ActionTimings{}) {
		for _, a := range actions {
			a.SetTimings(deps.Timings)
		}
	}
	return &Operation{
		params:  p,
		status:  Waiting,
		actions: actions,
		deps:    deps,
	}, nil
}

// New creates an operation and classifies it with the pre-flight
// validator. It does not start the pool, see Start.
func New(ctx context.Context, p Params, deps Deps) (*Operation, error) {
	op, err := newOperation(p, deps)
	if err != nil {
		return nil, err
	}
	op.timestamp = time.Now().Unix()
	op.preflight(ctx)
	return op, nil
}

// Restore rebuilds an operation from its persisted snapshot. Terminal
// operations keep their status; the others are classified again.
func Restore(ctx context.Context, rec OperationRecord, deps Deps) (*Operation, error) {
	op, err := newOperation(rec.Params(), deps)
	if err != nil {
		return nil, err
	}
	op.actions = MergeActions(op.actions, rec.Actions)
	op.status = rec.Status
	op.wasRestarted = rec.WasRestarted
	op.timestamp = rec.Timestamp
	if op.timestamp == 0 {
		op.timestamp = time.Now().Unix()
	}
	if !op.status.IsTerminal() {
		op.preflight(ctx)
	}
	return op, nil
}

// Reset makes a fresh operation out of one that ended in error. The old
// instance is left untouched.
func Reset(ctx context.Context, old *Operation) (*Operation, error) {
	old.mu.RLock()
	status, restarted, deps, p := old.status, old.wasRestarted, old.deps, old.params
	old.mu.RUnlock()

	if status != Error {
		return nil, ErrResetNotAllowed
	}
	op, err := newOperation(p, deps)
	if err != nil {
		return nil, err
	}
	op.wasRestarted = restarted + 1
	op.timestamp = time.Now().Unix()
	op.preflight(ctx)
	return op, nil
}

func (op *Operation) preflight(ctx context.Context) {
	if op.params.Type == SendRaw || op.deps.Validator == nil {
		op.status = Waiting
		return
	}

	remote, err := op.deps.Validator.Preflight(ctx, op.params)
	if err != nil {
		logger.WithFields(logger.Fields{
			"id":    op.params.ID,
			"type":  op.params.Type,
			"error": err,
		}).Error("validate before start")
		op.status = Error
		return
	}
	op.status = remote.Status()
}

func (op *Operation) ID() string {
	return op.params.ID
}

func (op *Operation) Params() Params {
	return op.params
}

func (op *Operation) Status() Status {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.status
}

func (op *Operation) WasRestarted() int {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return op.wasRestarted
}

func (op *Operation) Actions() []*Action {
	op.mu.RLock()
	defer op.mu.RUnlock()
	return append([]*Action(nil), op.actions...)
}

// Start runs the pool in its own goroutine when the operation is waiting
// or in progress, otherwise it only persists it. The returned channel is
// closed when the pool stops.
func (op *Operation) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	status := op.Status()
	if status != Waiting && status != InProgress {
		op.persist(ctx)
		close(done)
		return done
	}

	go func() {
		defer close(done)
		if err := op.Run(ctx); err != nil {
			logger.WithFields(logger.Fields{"id": op.params.ID, "error": err}).Warn("operation not started")
		}
	}()
	return done
}

// Run executes the actions in order and persists the operation after
// each of them. The first failing action stops the pool.
func (op *Operation) Run(ctx context.Context) error {
	op.mu.Lock()
	if op.running {
		op.mu.Unlock()
		return ErrAlreadyRunning
	}
	for _, a := range op.actions {
		if a.Status() == InProgress {
			op.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	if op.status != Waiting && op.status != InProgress {
		op.mu.Unlock()
		return ErrNotRunnable
	}
	op.status = InProgress
	op.running = true
	runCtx, cancel := context.WithCancel(ctx)
	op.cancel = cancel
	actions := op.actions
	op.mu.Unlock()

	defer func() {
		cancel()
		op.mu.Lock()
		op.running = false
		op.cancel = nil
		op.mu.Unlock()
	}()

	metrics.RunningOperations.Inc()
	defer metrics.RunningOperations.Dec()

	newLogger := logger.WithFields(logger.Fields{
		"id":   op.params.ID,
		"type": op.params.Type,
	})

	for _, action := range actions {
		if op.Status() != InProgress {
			newLogger.WithField("status", op.Status()).Info("operation stopped")
			return nil
		}

		status := action.Status()
		if !action.AwaitConfirmation() && status != Waiting {
			if status == Success {
				continue
			}
			// a failed step restored from storage
			op.fail(ctx, status)
			return nil
		}

		if !action.Call(runCtx, op.env()) {
			if ctx.Err() != nil {
				// shutdown, the step runs again after a restart
				action.interrupt()
				op.persist(ctx)
				newLogger.WithField("action", action.Type()).Info("operation interrupted")
				return nil
			}
			op.fail(ctx, action.Status())
			if action.StartRollbackOnFail() {
				newLogger.WithField("action", action.Type()).Warn("rollback requested, no compensation is configured")
			}
			return nil
		}
		op.persist(ctx)
	}

	op.mu.Lock()
	if op.status == InProgress {
		op.status = Success
		metrics.Operations.WithLabelValues(string(op.params.Type), string(Success)).Inc()
		newLogger.WithField("btcAddress", op.params.BtcAddress).Info("operation success")
	}
	op.mu.Unlock()

	op.persist(ctx)
	return nil
}

func (op *Operation) fail(ctx context.Context, actionStatus Status) {
	op.mu.Lock()
	if op.status == InProgress {
		op.status = Error
		if actionStatus == Canceled {
			op.status = Canceled
		}
		metrics.Operations.WithLabelValues(string(op.params.Type), string(op.status)).Inc()
	}
	op.mu.Unlock()

	op.persist(ctx)
}

// env collects the results of the succeeded actions.
func (op *Operation) env() Env {
	op.mu.RLock()
	defer op.mu.RUnlock()

	results := make(map[ActionType]*Result)
	for _, a := range op.actions {
		if a.Status() == Success {
			results[a.Type()] = a.Payload()
		}
	}
	return Env{Results: results}
}

// Cancel stops an unfinished operation. A running action sees its
// context canceled; the pool stops at the next action boundary.
func (op *Operation) Cancel(ctx context.Context) error {
	op.mu.Lock()
	if op.status.IsTerminal() {
		op.mu.Unlock()
		return ErrNotCancelable
	}
	op.status = Canceled
	cancel := op.cancel
	op.mu.Unlock()

	metrics.Operations.WithLabelValues(string(op.params.Type), string(Canceled)).Inc()
	if cancel != nil {
		cancel()
	}
	op.persist(ctx)
	return nil
}

// SetActionTransactionHash supplies the hash an await action waits for.
func (op *Operation) SetActionTransactionHash(ctx context.Context, actionID string, hash string, replace bool) error {
	for _, a := range op.Actions() {
		if a.ID() != actionID {
			continue
		}
		if err := a.SetTransactionHash(hash, replace); err != nil {
			return err
		}
		op.persist(ctx)
		return nil
	}
	return ErrActionNotFound
}

func (op *Operation) persist(ctx context.Context) {
	if op.deps.Persist == nil {
		return
	}
	// a canceled run still records where it stopped
	if err := op.deps.Persist(context.WithoutCancel(ctx), op); err != nil {
		logger.WithFields(logger.Fields{
			"id":    op.params.ID,
			"error": err,
		}).Error("failed to persist operation")
	}
}

// OperationRecord is the persisted and reported form of an operation.
type OperationRecord struct {
	ID           string         `json:"id"`
	Type         OperationType  `json:"type"`
	Status       Status         `json:"status"`
	Amount       int64          `json:"amount,string"`
	BtcAddress   string         `json:"btcAddress"`
	Vault        string         `json:"vault"`
	Requester    string         `json:"requester"`
	WasRestarted int            `json:"wasRestarted"`
	Timestamp    int64          `json:"timestamp"`
	Actions      []ActionRecord `json:"actions"`
}

func (rec *OperationRecord) Params() Params {
	return Params{
		ID:         rec.ID,
		Type:       rec.Type,
		Vault:      rec.Vault,
		Requester:  rec.Requester,
		BtcAddress: rec.BtcAddress,
		Amount:     rec.Amount,
	}
}

func (op *Operation) Snapshot(withPayload bool) OperationRecord {
	op.mu.RLock()
	defer op.mu.RUnlock()

	rec := OperationRecord{
		ID:           op.params.ID,
		Type:         op.params.Type,
		Status:       op.status,
		Amount:       op.params.Amount,
		BtcAddress:   op.params.BtcAddress,
		Vault:        op.params.Vault,
		Requester:    op.params.Requester,
		WasRestarted: op.wasRestarted,
		Timestamp:    op.timestamp,
		Actions:      make([]ActionRecord, len(op.actions)),
	}
	for i, a := range op.actions {
		rec.Actions[i] = a.Record(withPayload)
	}
	if rec.Timestamp == 0 && len(rec.Actions) > 0 {
		rec.Timestamp = rec.Actions[0].Timestamp
	}
	return rec
}
