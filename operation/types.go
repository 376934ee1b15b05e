package operation

import (
	"context"
	"errors"
	"fmt"
)

type Status string

const (
	Waiting    Status = "waiting"
	InProgress Status = "in_progress"
	Success    Status = "success"
	Error      Status = "error"
	Canceled   Status = "canceled"
)

func (s Status) IsTerminal() bool {
	return s == Success || s == Error || s == Canceled
}

type OperationType string

const (
	Redeem             OperationType = "REDEEM"
	ReturnWrongPayment OperationType = "RETURN_WRONG_PAY"
	SendRaw            OperationType = "SEND_RAW"
)

// Types lists every flow a PoolBuilder must support.
var Types = []OperationType{Redeem, ReturnWrongPayment, SendRaw}

type ActionType string

const (
	TransferBTC          ActionType = "transferBTC"
	WaitingConfirmations ActionType = "waitingConfirmations"
	ExecuteRedeem        ActionType = "executeRedeem"
	ValidateWrongPayment ActionType = "validateWrongPayment"
	ReturnBTC            ActionType = "returnBTC"
)

// RemoteStatus is the state of a business id on the counter-ledger.
type RemoteStatus uint8

const (
	RemoteNotFound RemoteStatus = iota
	RemotePending
	RemoteCompleted
	RemoteCanceled
)

// Status maps the remote state onto the status an operation starts in.
func (s RemoteStatus) Status() Status {
	switch s {
	case RemotePending:
		return InProgress
	case RemoteCompleted:
		return Success
	case RemoteCanceled:
		return Canceled
	default:
		return Error
	}
}

// Result is what an action function reports. It is kept as the action
// payload once the action succeeds.
type Result struct {
	Status          bool   `json:"status"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Error           string `json:"error,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// Env is handed to an action function. Results holds the payloads of
// the actions of the same operation, by type.
type Env struct {
	TxHash  string
	Results map[ActionType]*Result
}

// TxHashOf returns the transaction hash produced by the action of type t.
func (e Env) TxHashOf(t ActionType) (string, error) {
	res, ok := e.Results[t]
	if !ok || res == nil || res.TransactionHash == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingResult, t)
	}
	return res.TransactionHash, nil
}

// ActionFunc runs one step. A nil result with a nil error means "not
// yet" and is only meaningful for await steps, which are polled.
type ActionFunc func(ctx context.Context, env Env) (*Result, error)

var (
	ErrUnknownOperationType = errors.New("operation type not found")
	ErrAlreadyRunning       = errors.New("operation has an action in progress")
	ErrNotRunnable          = errors.New("operation is not waiting or in progress")
	ErrResetNotAllowed      = errors.New("only an operation in error can be reset")
	ErrNotCancelable        = errors.New("operation already finished")
	ErrActionNotFound       = errors.New("action not found")
	ErrMissingResult        = errors.New("no result of action")

	ErrTxHashConflict     = errors.New("transaction hash already saved")
	ErrRejectedByTimeout  = errors.New("rejected by timeout, while waiting for user to sign")
	ErrAwaitTimeout       = errors.New("timeout while waiting for confirmation")
	ErrTxStatusNotSuccess = errors.New("tx status not success")
)
