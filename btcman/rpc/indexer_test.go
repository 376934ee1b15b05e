package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"

var addressTxs = `[
  {
    "hash": "aa",
    "hex": "0100beef",
    "height": 120,
    "index": 1,
    "confirmations": 3,
    "inputs": [{"prevout": {"hash": "99", "index": 0}, "coin": {"address": "other", "value": 7000}}],
    "outputs": [{"address": "` + testAddr + `", "value": 5000, "script": "0014"}]
  },
  {
    "hash": "bb",
    "hex": "0100cafe",
    "height": -1,
    "confirmations": 0,
    "inputs": [{"prevout": {"hash": "aa", "index": 0}}],
    "outputs": [{"address": "other", "value": 4000, "script": "0014"}]
  }
]`

func newIndexer(t *testing.T) (*Client, *int32) {
	var broadcasts int32
	mux := http.NewServeMux()
	mux.HandleFunc("/tx/address/"+testAddr, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(addressTxs))
	})
	mux.HandleFunc("/tx/aa", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hash": "aa", "hex": "0100beef", "height": 120, "confirmations": 3}`))
	})
	mux.HandleFunc("/fee", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("blocks"))
		w.Write([]byte(`{"rate": 12345}`))
	})
	mux.HandleFunc("/broadcast", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		atomic.AddInt32(&broadcasts, 1)
		json.NewEncoder(w).Encode(map[string]bool{"success": body["tx"] == "0100beef"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(NewIndexerClient(srv.URL+"/"), nil)
	c.ConfirmPoll = 10 * time.Millisecond
	c.RetryDelay = time.Millisecond
	return c, &broadcasts
}

func TestIndexerTxsByAddress(t *testing.T) {
	c, _ := newIndexer(t)
	ctx := context.Background()

	txs, err := c.GetTxsByAddress(ctx, testAddr)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Confirmed())
	assert.False(t, txs[1].Confirmed())
	assert.Equal(t, "other", txs[0].Inputs[0].Address)
	assert.Equal(t, "", txs[1].Inputs[0].Address)
	assert.Equal(t, int64(5000), txs[0].Outputs[0].Value)

	// unknown address
	txs, err = c.GetTxsByAddress(ctx, "nobody")
	assert.NoError(t, err)
	assert.Empty(t, txs)

	tx, err := c.SearchTxByHex(ctx, testAddr, "0100CAFE")
	require.NoError(t, err)
	assert.Equal(t, "bb", tx.Hash)

	_, err = c.SearchTxByHex(ctx, testAddr, "00")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestIndexerFeeAndBroadcast(t *testing.T) {
	c, broadcasts := newIndexer(t)
	ctx := context.Background()

	rate, err := c.GetNetworkFeeRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(13), rate)

	assert.NoError(t, c.Broadcast(ctx, "0100beef"))
	assert.ErrorIs(t, c.Broadcast(ctx, "ff"), ErrBroadcastFailed)
	assert.Equal(t, int32(2), atomic.LoadInt32(broadcasts))
}

func TestWaitForConfirmations(t *testing.T) {
	c, _ := newIndexer(t)

	assert.NoError(t, c.WaitForConfirmations(context.Background(), "aa", 2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForConfirmations(ctx, "aa", 6), context.DeadlineExceeded)
	// never mined
	assert.ErrorIs(t, c.WaitForConfirmations(ctx, "cc", 1), context.DeadlineExceeded)
}

func TestGetTxProofNoNode(t *testing.T) {
	c, _ := newIndexer(t)
	_, err := c.GetTxProof(context.Background(), "aa")
	assert.ErrorIs(t, err, ErrNoNodeClient)
}
