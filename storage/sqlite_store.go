package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TEENet-io/btc-vault/database"
)

type SQLiteStore struct {
	db *sql.DB
	sc *database.StmtCache
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStoreFromDB(db)
}

// NewSQLiteStoreFromDB shares db with other sqlite storages.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, sc: database.NewStmtCache(db)}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// init creates the tables if not existed before.
func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		coll TEXT NOT NULL,
		key TEXT NOT NULL,
		doc TEXT NOT NULL,
		updated INTEGER,
		UNIQUE (coll, key)
	);
	CREATE TABLE IF NOT EXISTS document_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		coll TEXT NOT NULL,
		key TEXT NOT NULL,
		doc TEXT NOT NULL,
		timestamp INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_history_key ON document_history (coll, key);
	`)
	return err
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	s.sc.Clear()
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, coll, key string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.sc.Exec(ctx, `INSERT INTO documents (coll, key, doc, updated) VALUES (?, ?, ?, ?)
		ON CONFLICT (coll, key) DO UPDATE SET doc = excluded.doc, updated = excluded.updated`,
		coll, key, string(b), time.Now().Unix())
	return err
}

func (s *SQLiteStore) Find(ctx context.Context, coll, key string, out any) error {
	row, err := s.sc.QueryRow(ctx, `SELECT doc FROM documents WHERE coll = ? AND key = ?`, coll, key)
	if err != nil {
		return err
	}
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(doc), out)
}

func (s *SQLiteStore) Query(ctx context.Context, coll string, q Query) ([]json.RawMessage, int, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, 0, err
	}

	where := []string{"coll = ?"}
	args := []any{coll}
	for _, field := range sortedFields(q.Filter) {
		where = append(where, fmt.Sprintf("json_extract(doc, '$.%s') = ?", field))
		args = append(args, q.Filter[field])
	}
	cond := strings.Join(where, " AND ")

	row, err := s.sc.QueryRow(ctx, "SELECT COUNT(*) FROM documents WHERE "+cond, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "ASC"
	if q.Desc {
		order = "DESC"
	}
	rows, err := s.sc.Query(ctx,
		"SELECT doc FROM documents WHERE "+cond+" ORDER BY seq "+order+" LIMIT ? OFFSET ?",
		append(args, q.Size, q.Page*q.Size)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		docs = append(docs, json.RawMessage(doc))
	}
	return docs, total, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, coll, key string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.sc.Exec(ctx, `INSERT INTO document_history (coll, key, doc, timestamp) VALUES (?, ?, ?, ?)`,
		coll, key, string(b), time.Now().Unix())
	return err
}

func (s *SQLiteStore) History(ctx context.Context, coll, key string) ([]json.RawMessage, error) {
	rows, err := s.sc.Query(ctx, `SELECT doc FROM document_history WHERE coll = ? AND key = ? ORDER BY seq`, coll, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, json.RawMessage(doc))
	}
	return docs, rows.Err()
}
