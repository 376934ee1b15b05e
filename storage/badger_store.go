package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v2"
)

var seqKey = []byte("meta/seq")

// BadgerStore keeps documents under doc/<coll>/<key> prefixed with the
// sequence number of their first insert, and history entries under
// hist/<coll>/<key>/<seq>.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	mu  sync.Mutex // serializes read-modify-write of documents
}

// DefaultOptions returns the badger options for a document store at
// dir. An empty dir keeps everything in memory.
func DefaultOptions(dir string) badger.Options {
	opts := badger.DefaultOptions(dir).
		WithNumMemtables(1).
		WithNumLevelZeroTables(1).
		WithNumLevelZeroTablesStall(2).
		WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return opts
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(DefaultOptions(dir))
	if err != nil {
		return nil, err
	}
	return NewBadgerStoreFromDB(db)
}

func NewBadgerStoreFromDB(db *badger.DB) (*BadgerStore, error) {
	seq, err := db.GetSequence(seqKey, 100)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		return err
	}
	return s.db.Close()
}

func docPrefix(coll string) []byte {
	return []byte("doc/" + coll + "/")
}

func docKey(coll, key string) []byte {
	return append(docPrefix(coll), key...)
}

func histPrefix(coll, key string) []byte {
	return []byte("hist/" + coll + "/" + key + "/")
}

func encodeSeq(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func (s *BadgerStore) Upsert(ctx context.Context, coll, key string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		k := docKey(coll, key)
		var seq []byte
		item, err := txn.Get(k)
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			seq = append([]byte(nil), old[:8]...)
		case errors.Is(err, badger.ErrKeyNotFound):
			n, err := s.seq.Next()
			if err != nil {
				return err
			}
			seq = encodeSeq(n)
		default:
			return err
		}
		return txn.Set(k, append(seq, b...))
	})
}

func (s *BadgerStore) Find(ctx context.Context, coll, key string, out any) error {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(coll, key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val[8:], out)
}

type seqDoc struct {
	seq uint64
	doc []byte
}

func (s *BadgerStore) Query(ctx context.Context, coll string, q Query) ([]json.RawMessage, int, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, 0, err
	}

	var all []seqDoc
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := docPrefix(coll)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ok, err := matches(val[8:], q.Filter)
			if err != nil {
				return err
			}
			if ok {
				all = append(all, seqDoc{seq: binary.BigEndian.Uint64(val[:8]), doc: val[8:]})
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		if q.Desc {
			return all[i].seq > all[j].seq
		}
		return all[i].seq < all[j].seq
	})

	start := q.Page * q.Size
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := start + q.Size
	if end > len(all) {
		end = len(all)
	}
	docs := make([]json.RawMessage, 0, end-start)
	for _, d := range all[start:end] {
		docs = append(docs, json.RawMessage(d.doc))
	}
	return docs, len(all), nil
}

func (s *BadgerStore) Append(ctx context.Context, coll, key string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	n, err := s.seq.Next()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(histPrefix(coll, key), encodeSeq(n)...), b)
	})
}

func (s *BadgerStore) History(ctx context.Context, coll, key string) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := histPrefix(coll, key)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			docs = append(docs, json.RawMessage(val))
		}
		return nil
	})
	return docs, err
}
