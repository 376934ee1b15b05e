package btcvault

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/TEENet-io/btc-vault/database"
)

// RecordSQLiteStorage implements DepositRecords, DepositRecordWriter,
// WrongPayments and ExclusionList on one sqlite database.
type RecordSQLiteStorage struct {
	db *sql.DB
	sc *database.StmtCache
}

func NewRecordSQLiteStorage(db *sql.DB) (*RecordSQLiteStorage, error) {
	storage := &RecordSQLiteStorage{db: db, sc: database.NewStmtCache(db)}
	if err := storage.init(); err != nil {
		return nil, err
	}
	return storage, nil
}

// init creates the tables if not existed before.
func (s *RecordSQLiteStorage) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS deposit_records (
		id TEXT PRIMARY KEY,
		vault TEXT,
		requester TEXT,
		amount INTEGER,
		fee INTEGER,
		btc_address TEXT,
		btc_address_bech32 TEXT,
		status TEXT,
		block_number INTEGER,
		tx_hash TEXT,
		timestamp INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_deposit_vault ON deposit_records (vault);
	CREATE TABLE IF NOT EXISTS wrong_payments (
		id TEXT PRIMARY KEY,
		tx_hash TEXT,
		vault TEXT,
		type TEXT,
		amount INTEGER,
		btc_address TEXT,
		timestamp INTEGER
	);
	CREATE TABLE IF NOT EXISTS excluded_deposits (
		id TEXT PRIMARY KEY,
		reason TEXT,
		timestamp INTEGER
	);
	`)
	return err
}

func (s *RecordSQLiteStorage) Close() {
	s.sc.Clear()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

const depositColumns = `id, vault, requester, amount, fee, btc_address, btc_address_bech32, status, block_number, tx_hash, timestamp`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row scanner) (*DepositRecord, error) {
	var rec DepositRecord
	err := row.Scan(
		&rec.ID,
		&rec.Vault,
		&rec.Requester,
		&rec.Amount,
		&rec.Fee,
		&rec.BtcAddress,
		&rec.BtcAddressBech32,
		&rec.Status,
		&rec.BlockNumber,
		&rec.TxHash,
		&rec.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RecordSQLiteStorage) InsertDeposit(ctx context.Context, rec DepositRecord) error {
	_, err := s.sc.Exec(ctx, `INSERT INTO deposit_records (`+depositColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, strings.ToLower(rec.Vault), rec.Requester, rec.Amount, rec.Fee, rec.BtcAddress,
		rec.BtcAddressBech32, rec.Status, rec.BlockNumber, rec.TxHash, rec.Timestamp)
	if isUniqueViolation(err) {
		return ErrRecordExists
	}
	return err
}

func (s *RecordSQLiteStorage) SetBech32(ctx context.Context, id string, address string) error {
	_, err := s.sc.Exec(ctx, `UPDATE deposit_records SET btc_address_bech32 = ? WHERE id = ?;`, address, id)
	return err
}

func (s *RecordSQLiteStorage) Find(ctx context.Context, id string) (*DepositRecord, error) {
	row, err := s.sc.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_records WHERE id = ?;`, id)
	if err != nil {
		return nil, err
	}
	rec, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// Query pages through the records. Empty filter fields match anything.
func (s *RecordSQLiteStorage) Query(ctx context.Context, filter RecordFilter, page Page) ([]DepositRecord, int, error) {
	page = page.normalize()
	where := `WHERE (? = '' OR vault = ?) AND (? = '' OR status = ?)`
	vault := strings.ToLower(filter.Vault)
	args := []any{vault, vault, filter.Status, filter.Status}

	row, err := s.sc.QueryRow(ctx, `SELECT COUNT(*) FROM deposit_records `+where+`;`, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.sc.Query(ctx, `SELECT `+depositColumns+` FROM deposit_records `+where+`
	ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?;`,
		append(args, page.Size, page.Number*page.Size)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []DepositRecord
	for rows.Next() {
		rec, err := scanDeposit(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, *rec)
	}
	return recs, total, rows.Err()
}

func (s *RecordSQLiteStorage) InsertWrongPayment(ctx context.Context, wp WrongPayment) error {
	_, err := s.sc.Exec(ctx, `INSERT INTO wrong_payments (id, tx_hash, vault, type, amount, btc_address, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?);`,
		wp.ID, wp.TxHash, strings.ToLower(wp.Vault), wp.Type, wp.Amount, wp.BtcAddress, wp.Timestamp)
	if isUniqueViolation(err) {
		return ErrRecordExists
	}
	return err
}

func (s *RecordSQLiteStorage) FindWrongPayment(ctx context.Context, id string) (*WrongPayment, error) {
	row, err := s.sc.QueryRow(ctx, `SELECT id, tx_hash, vault, type, amount, btc_address, timestamp
	FROM wrong_payments WHERE id = ?;`, id)
	if err != nil {
		return nil, err
	}
	var wp WrongPayment
	err = row.Scan(&wp.ID, &wp.TxHash, &wp.Vault, &wp.Type, &wp.Amount, &wp.BtcAddress, &wp.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	} else if err != nil {
		return nil, err
	}
	return &wp, nil
}

func (s *RecordSQLiteStorage) IsExcluded(ctx context.Context, id string) (bool, error) {
	row, err := s.sc.QueryRow(ctx, `SELECT COUNT(*) FROM excluded_deposits WHERE id = ?;`, id)
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exclude is idempotent, the first reason is kept.
func (s *RecordSQLiteStorage) Exclude(ctx context.Context, id string, reason string) error {
	_, err := s.sc.Exec(ctx, `INSERT OR IGNORE INTO excluded_deposits (id, reason, timestamp) VALUES (?, ?, ?);`,
		id, reason, time.Now().Unix())
	return err
}

func (s *RecordSQLiteStorage) Include(ctx context.Context, id string) error {
	_, err := s.sc.Exec(ctx, `DELETE FROM excluded_deposits WHERE id = ?;`, id)
	return err
}

func (s *RecordSQLiteStorage) ListExcluded(ctx context.Context) ([]ExcludedDeposit, error) {
	rows, err := s.sc.Query(ctx, `SELECT id, reason, timestamp FROM excluded_deposits ORDER BY timestamp ASC, id ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []ExcludedDeposit
	for rows.Next() {
		var e ExcludedDeposit
		if err := rows.Scan(&e.ID, &e.Reason, &e.Timestamp); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
