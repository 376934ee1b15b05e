package btcvault

import (
	"context"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
)

// DepositRecords is the read side of the deposit record service.
type DepositRecords interface {
	// Find returns ErrRecordNotFound when id is unknown.
	Find(ctx context.Context, id string) (*DepositRecord, error)

	// Query returns one page of records matching filter, oldest first,
	// and the total number of matches.
	Query(ctx context.Context, filter RecordFilter, page Page) ([]DepositRecord, int, error)
}

// DepositRecordWriter is used by the event watcher to fill the records.
type DepositRecordWriter interface {
	InsertDeposit(ctx context.Context, rec DepositRecord) error
	SetBech32(ctx context.Context, id string, address string) error
}

type WrongPayments interface {
	// FindWrongPayment returns ErrRecordNotFound when id is unknown.
	FindWrongPayment(ctx context.Context, id string) (*WrongPayment, error)
	InsertWrongPayment(ctx context.Context, wp WrongPayment) error
}

// ExclusionList holds poisoned or disputed deposits. Their outputs are
// never spent.
type ExclusionList interface {
	IsExcluded(ctx context.Context, id string) (bool, error)
	Exclude(ctx context.Context, id string, reason string) error
	Include(ctx context.Context, id string) error
	ListExcluded(ctx context.Context) ([]ExcludedDeposit, error)
}
