// Package storage keeps JSON documents by collection and key, with an
// append-only history per key.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrInvalidFilter = errors.New("invalid filter field")
	ErrUnknownDBType = errors.New("unknown db type")
)

const DefaultPageSize = 50

// Query selects documents of a collection. Filter matches top level
// string fields of the document. Results are in insertion order of the
// keys, newest first when Desc is set.
type Query struct {
	Filter map[string]string
	Desc   bool
	Page   int // starts at 0
	Size   int
}

func (q Query) normalize() (Query, error) {
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Page < 0 {
		q.Page = 0
	}
	for field := range q.Filter {
		if !fieldPattern.MatchString(field) {
			return q, fmt.Errorf("%w: %q", ErrInvalidFilter, field)
		}
	}
	return q, nil
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type Store interface {
	// Upsert replaces the document stored under key.
	Upsert(ctx context.Context, coll, key string, doc any) error
	// Find decodes the document stored under key into out.
	Find(ctx context.Context, coll, key string, out any) error
	// Query returns a page of documents and the total number of matches.
	Query(ctx context.Context, coll string, q Query) ([]json.RawMessage, int, error)
	// Append adds doc to the history of key.
	Append(ctx context.Context, coll, key string, doc any) error
	// History returns the appended documents of key, oldest first.
	History(ctx context.Context, coll, key string) ([]json.RawMessage, error)
	Close() error
}

type Config struct {
	DBType string // sqlite or badger
	Path   string // empty opens an in-memory database
}

// Open returns the store selected by cfg.DBType.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.DBType) {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return NewSQLiteStore(path)
	case "badger":
		return NewBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDBType, cfg.DBType)
	}
}

// matches reports whether the top level fields of doc equal filter.
func matches(doc []byte, filter map[string]string) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false, err
	}
	for k, want := range filter {
		v, ok := fields[k]
		if !ok {
			return false, nil
		}
		if s, ok := v.(string); !ok || s != want {
			return false, nil
		}
	}
	return true, nil
}

func sortedFields(filter map[string]string) []string {
	fields := make([]string, 0, len(filter))
	for k := range filter {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
