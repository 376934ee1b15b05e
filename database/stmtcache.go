package database

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// OpenSQLite opens a sqlite database. Use ":memory:" in tests.
// A single connection keeps an in-memory db alive and serializes writers.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// StmtCache caches prepared statements by query string.
type StmtCache struct {
	db    *sql.DB
	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

func NewStmtCache(db *sql.DB) *StmtCache {
	return &StmtCache{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (sc *StmtCache) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if stmt, ok := sc.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := sc.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.stmts[query] = stmt
	return stmt, nil
}

func (sc *StmtCache) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := sc.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

func (sc *StmtCache) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := sc.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

func (sc *StmtCache) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	stmt, err := sc.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRowContext(ctx, args...), nil
}

func (sc *StmtCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for k, stmt := range sc.stmts {
		_ = stmt.Close()
		delete(sc.stmts, k)
	}
}
