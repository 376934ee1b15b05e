package btcwallet

import (
	"context"
	"database/sql"

	"github.com/TEENet-io/btc-vault/database"
)

// BtcWalletDB journals payouts so a restarted wallet can tell a replay
// of the same tx from a payout rebuilt on different inputs.
type BtcWalletDB struct {
	stmtcache *database.StmtCache
}

func NewBtcWalletDB(db *sql.DB) (*BtcWalletDB, error) {
	if _, err := db.Exec(payoutTable); err != nil {
		return nil, err
	}

	return &BtcWalletDB{
		stmtcache: database.NewStmtCache(db),
	}, nil
}

func (db *BtcWalletDB) Close() {
	db.stmtcache.Clear()
}

func (db *BtcWalletDB) UpsertPayout(ctx context.Context, payout *Payout) error {
	var p sqlPayout
	if _, err := p.encode(payout); err != nil {
		return err
	}

	_, err := db.stmtcache.Exec(ctx, queryUpsertPayout,
		p.Id,
		p.To,
		p.Amount,
		p.Fee,
		p.TxHash,
		p.RawTx,
		p.Inputs,
		p.Status,
	)
	return err
}

func scanPayout(row interface{ Scan(...any) error }) (*Payout, error) {
	var p sqlPayout
	if err := row.Scan(
		&p.Id,
		&p.To,
		&p.Amount,
		&p.Fee,
		&p.TxHash,
		&p.RawTx,
		&p.Inputs,
		&p.CreatedAt,
		&p.Status,
	); err != nil {
		return nil, err
	}
	return p.decode()
}

func (db *BtcWalletDB) GetPayoutById(ctx context.Context, id string) (*Payout, bool, error) {
	row, err := db.stmtcache.QueryRow(ctx, queryGetPayoutById, id)
	if err != nil {
		return nil, false, err
	}

	payout, err := scanPayout(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payout, true, nil
}

func (db *BtcWalletDB) UpdatePayoutStatus(ctx context.Context, id string, status PayoutStatus) error {
	_, err := db.stmtcache.Exec(ctx, queryUpdatePayoutStatus, string(status), id)
	return err
}

func (db *BtcWalletDB) GetPayoutsByStatus(ctx context.Context, status PayoutStatus) ([]*Payout, error) {
	rows, err := db.stmtcache.Query(ctx, queryGetPayoutsByStatus, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := []*Payout{}
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}

func (db *BtcWalletDB) DeletePayout(ctx context.Context, id string) error {
	_, err := db.stmtcache.Exec(ctx, queryDeletePayout, id)
	return err
}
