package operation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/btc-vault/metrics"
)

// SkipHash supplied to an optional await step completes it without
// running its function.
const SkipHash = "skip"

type ActionTimings struct {
	PollInterval time.Duration // polling for an operator supplied hash
	AwaitStep    time.Duration // polling an await function
	AwaitTimeout time.Duration
}

func DefaultTimings() ActionTimings {
	return ActionTimings{
		PollInterval: time.Second,
		AwaitStep:    3 * time.Second,
		AwaitTimeout: 20 * time.Minute,
	}
}

type ActionParams struct {
	Type                ActionType
	Fn                  ActionFunc
	AwaitConfirmation   bool
	StartRollbackOnFail bool
	IsRequired          bool
}

// Action is one retryable step of an operation. Its fields are guarded
// by mu since the admin API reads and sets hashes while it runs.
type Action struct {
	mu sync.RWMutex

	id                  string
	typ                 ActionType
	status              Status
	transactionHash     string
	payload             *Result
	errMsg              string
	message             string
	timestamp           int64
	awaitConfirmation   bool
	startRollbackOnFail bool
	isRequired          bool

	fn      ActionFunc
	timings ActionTimings
}

func NewAction(params ActionParams) *Action {
	return &Action{
		id:                  uuid.NewString(),
		typ:                 params.Type,
		status:              Waiting,
		fn:                  params.Fn,
		awaitConfirmation:   params.AwaitConfirmation,
		startRollbackOnFail: params.StartRollbackOnFail,
		isRequired:          params.IsRequired,
		timings:             DefaultTimings(),
	}
}

func (a *Action) ID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.id
}

func (a *Action) Type() ActionType {
	return a.typ
}

func (a *Action) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Action) TransactionHash() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transactionHash
}

func (a *Action) Payload() *Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.payload
}

func (a *Action) Err() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.errMsg
}

func (a *Action) AwaitConfirmation() bool {
	return a.awaitConfirmation
}

func (a *Action) StartRollbackOnFail() bool {
	return a.startRollbackOnFail
}

func (a *Action) SetTimings(t ActionTimings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timings = t
}

// SetTransactionHash hands an await step the hash it waits for. A hash
// already set is only overwritten with replace.
func (a *Action) SetTransactionHash(hash string, replace bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.awaitConfirmation || (!replace && a.transactionHash != "") {
		return ErrTxHashConflict
	}
	a.transactionHash = hash
	return nil
}

func (a *Action) interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = Waiting
	a.errMsg = ""
}

func (a *Action) setStatus(status Status, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	if errMsg != "" {
		a.errMsg = errMsg
	}
}

// waitTxHash blocks until a hash is supplied, the await timeout elapses
// or ctx is done.
func (a *Action) waitTxHash(ctx context.Context) bool {
	deadline := time.NewTimer(a.timings.AwaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.timings.PollInterval)
	defer ticker.Stop()

	for a.TransactionHash() == "" {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return a.TransactionHash() != ""
		case <-ticker.C:
		}
	}
	return true
}

// Call runs the action once and reports whether it succeeded. Failures
// are recorded on the action, never retried here.
func (a *Action) Call(ctx context.Context, env Env) bool {
	if a.awaitConfirmation && !a.waitTxHash(ctx) {
		a.setStatus(Canceled, ErrRejectedByTimeout.Error())
		metrics.ActionFailures.WithLabelValues(string(a.typ), string(Canceled)).Inc()
		return false
	}

	a.mu.Lock()
	a.status = InProgress
	a.timestamp = time.Now().Unix()
	env.TxHash = a.transactionHash
	a.mu.Unlock()

	newLogger := logger.WithFields(logger.Fields{
		"action": a.typ,
		"id":     a.id,
	})

	res, err := a.invoke(ctx, env)
	if err == nil && res == nil {
		err = ErrAwaitTimeout
	}
	if err != nil {
		newLogger.WithFields(logger.Fields{
			"error":  err,
			"record": a.Record(true),
		}).Error("action exception error")
		a.setStatus(Error, err.Error())
		metrics.ActionFailures.WithLabelValues(string(a.typ), string(Error)).Inc()
		return false
	}

	a.mu.Lock()
	if res.TransactionHash != "" {
		a.transactionHash = res.TransactionHash
	}
	a.payload = res
	a.mu.Unlock()

	if res.Status {
		a.setStatus(Success, "")
		return true
	}

	errMsg := res.Error
	if errMsg == "" {
		errMsg = ErrTxStatusNotSuccess.Error()
	}
	a.setStatus(Error, errMsg)
	newLogger.WithField("record", a.Record(true)).Error("tx status not success")
	metrics.ActionFailures.WithLabelValues(string(a.typ), string(Error)).Inc()
	return false
}

func (a *Action) invoke(ctx context.Context, env Env) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic in action %s: %v", a.typ, r)
		}
	}()

	if a.awaitConfirmation && !a.isRequired && env.TxHash == SkipHash {
		return &Result{Status: true, TransactionHash: SkipHash}, nil
	}
	if !a.awaitConfirmation {
		return a.fn(ctx, env)
	}

	deadline := time.Now().Add(a.timings.AwaitTimeout)
	for {
		res, err := a.fn(ctx, env)
		if err != nil || res != nil {
			return res, err
		}
		if time.Now().After(deadline) {
			return nil, ErrAwaitTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.timings.AwaitStep):
		}
	}
}

// ActionRecord is the persisted form of an action.
type ActionRecord struct {
	ID                  string     `json:"id"`
	Type                ActionType `json:"type"`
	Status              Status     `json:"status"`
	TransactionHash     string     `json:"transactionHash,omitempty"`
	Error               string     `json:"error,omitempty"`
	Message             string     `json:"message,omitempty"`
	Timestamp           int64      `json:"timestamp,omitempty"`
	AwaitConfirmation   bool       `json:"awaitConfirmation"`
	StartRollbackOnFail bool       `json:"startRollbackOnFail"`
	IsRequired          bool       `json:"isRequired"`
	Payload             *Result    `json:"payload,omitempty"`
}

// Record snapshots the action. The reported hash is the one of the
// payload when there is one.
func (a *Action) Record(withPayload bool) ActionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec := ActionRecord{
		ID:                  a.id,
		Type:                a.typ,
		Status:              a.status,
		TransactionHash:     a.transactionHash,
		Error:               a.errMsg,
		Message:             a.message,
		Timestamp:           a.timestamp,
		AwaitConfirmation:   a.awaitConfirmation,
		StartRollbackOnFail: a.startRollbackOnFail,
		IsRequired:          a.isRequired,
	}
	if a.payload != nil && a.payload.TransactionHash != "" {
		rec.TransactionHash = a.payload.TransactionHash
	}
	if withPayload {
		rec.Payload = a.payload
	}
	return rec
}

// clone copies the definition of a, including its function, with fresh
// state. The id is kept.
func (a *Action) clone() *Action {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &Action{
		id:                  a.id,
		typ:                 a.typ,
		status:              a.status,
		transactionHash:     a.transactionHash,
		payload:             a.payload,
		errMsg:              a.errMsg,
		message:             a.message,
		timestamp:           a.timestamp,
		awaitConfirmation:   a.awaitConfirmation,
		startRollbackOnFail: a.startRollbackOnFail,
		isRequired:          a.isRequired,
		fn:                  a.fn,
		timings:             a.timings,
	}
}

// apply restores the persisted state of rec. The function and the await
// policy stay the ones of the code.
func (a *Action) apply(rec ActionRecord) {
	a.id = rec.ID
	a.status = rec.Status
	a.transactionHash = rec.TransactionHash
	a.errMsg = rec.Error
	a.message = rec.Message
	a.timestamp = rec.Timestamp
	a.payload = rec.Payload
	a.isRequired = rec.IsRequired
}
