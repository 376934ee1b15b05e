package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Type   string `json:"type"`
	Amount int64  `json:"amount,string"`
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := Open(Config{DBType: "sqlite"})
	require.NoError(t, err)
	badger, err := Open(Config{DBType: "badger"})
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlite.Close()
		badger.Close()
	})
	return map[string]Store{"sqlite": sqlite, "badger": badger}
}

func decode(t *testing.T, raw json.RawMessage) testDoc {
	var d testDoc
	require.NoError(t, json.Unmarshal(raw, &d))
	return d
}

func TestUpsertFind(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			var got testDoc
			assert.ErrorIs(t, s.Find(ctx, "operations", "1", &got), ErrNotFound)

			require.NoError(t, s.Upsert(ctx, "operations", "1", testDoc{ID: "1", Status: "waiting", Amount: 5000}))
			require.NoError(t, s.Find(ctx, "operations", "1", &got))
			assert.Equal(t, "waiting", got.Status)
			assert.Equal(t, int64(5000), got.Amount)

			require.NoError(t, s.Upsert(ctx, "operations", "1", testDoc{ID: "1", Status: "success", Amount: 5000}))
			require.NoError(t, s.Find(ctx, "operations", "1", &got))
			assert.Equal(t, "success", got.Status)

			// collections do not share keys
			assert.ErrorIs(t, s.Find(ctx, "other", "1", &got), ErrNotFound)
		})
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				status := "success"
				if i%2 == 1 {
					status = "error"
				}
				id := fmt.Sprint(i)
				require.NoError(t, s.Upsert(ctx, "operations", id, testDoc{ID: id, Status: status, Type: "REDEEM"}))
			}
			// an update keeps the position of the key
			require.NoError(t, s.Upsert(ctx, "operations", "0", testDoc{ID: "0", Status: "error", Type: "REDEEM"}))

			docs, total, err := s.Query(ctx, "operations", Query{})
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			require.Len(t, docs, 5)
			assert.Equal(t, "0", decode(t, docs[0]).ID)
			assert.Equal(t, "4", decode(t, docs[4]).ID)

			docs, total, err = s.Query(ctx, "operations", Query{Filter: map[string]string{"status": "error"}})
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Equal(t, []string{"0", "1", "3"}, ids(t, docs))

			docs, total, err = s.Query(ctx, "operations", Query{Filter: map[string]string{"status": "success", "type": "REDEEM"}})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			assert.Equal(t, []string{"2", "4"}, ids(t, docs))

			docs, total, err = s.Query(ctx, "operations", Query{Desc: true, Page: 1, Size: 2})
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			assert.Equal(t, []string{"2", "1"}, ids(t, docs))

			docs, _, err = s.Query(ctx, "operations", Query{Page: 9, Size: 2})
			require.NoError(t, err)
			assert.Empty(t, docs)

			_, _, err = s.Query(ctx, "operations", Query{Filter: map[string]string{"status') OR 1=1 --": "x"}})
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func ids(t *testing.T, docs []json.RawMessage) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = decode(t, d).ID
	}
	return out
}

func TestAppendHistory(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(ctx, "operations_history", "1", testDoc{ID: "1", Status: "waiting"}))
			require.NoError(t, s.Append(ctx, "operations_history", "10", testDoc{ID: "10", Status: "waiting"}))
			require.NoError(t, s.Append(ctx, "operations_history", "1", testDoc{ID: "1", Status: "in_progress"}))

			docs, err := s.History(ctx, "operations_history", "1")
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "waiting", decode(t, docs[0]).Status)
			assert.Equal(t, "in_progress", decode(t, docs[1]).Status)

			docs, err = s.History(ctx, "operations_history", "2")
			require.NoError(t, err)
			assert.Empty(t, docs)
		})
	}
}

func TestBlockCheckpoint(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			cp := NewBlockCheckpoint(s, "ledger")
			_, ok, err := cp.LastBlock(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, cp.SaveLastBlock(ctx, 120))
			n, ok, err := cp.LastBlock(ctx)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, uint64(120), n)
		})
	}
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(Config{DBType: "postgres"})
	assert.ErrorIs(t, err, ErrUnknownDBType)
}
