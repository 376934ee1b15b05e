package operation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastTimings = ActionTimings{
	PollInterval: time.Millisecond,
	AwaitStep:    time.Millisecond,
	AwaitTimeout: 50 * time.Millisecond,
}

func newTestAction(params ActionParams) *Action {
	a := NewAction(params)
	a.SetTimings(fastTimings)
	return a
}

func TestActionCall(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: TransferBTC, Fn: func(ctx context.Context, env Env) (*Result, error) {
			return &Result{Status: true, TransactionHash: "aa"}, nil
		}})
		assert.Equal(t, Waiting, a.Status())
		require.True(t, a.Call(ctx, Env{}))
		assert.Equal(t, Success, a.Status())
		assert.Equal(t, "aa", a.TransactionHash())
		assert.Equal(t, "aa", a.Payload().TransactionHash)
		assert.NotZero(t, a.Record(false).Timestamp)
	})

	t.Run("status false", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: TransferBTC, Fn: func(ctx context.Context, env Env) (*Result, error) {
			return &Result{Status: false}, nil
		}})
		assert.False(t, a.Call(ctx, Env{}))
		assert.Equal(t, Error, a.Status())
		assert.Equal(t, ErrTxStatusNotSuccess.Error(), a.Err())
	})

	t.Run("status false with reason", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: TransferBTC, Fn: func(ctx context.Context, env Env) (*Result, error) {
			return &Result{Status: false, Error: "reverted"}, nil
		}})
		assert.False(t, a.Call(ctx, Env{}))
		assert.Equal(t, "reverted", a.Err())
	})

	t.Run("error", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: TransferBTC, Fn: func(ctx context.Context, env Env) (*Result, error) {
			return nil, errors.New("insufficient funds")
		}})
		assert.False(t, a.Call(ctx, Env{}))
		assert.Equal(t, Error, a.Status())
		assert.Equal(t, "insufficient funds", a.Err())
	})

	t.Run("panic", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: TransferBTC, Fn: func(ctx context.Context, env Env) (*Result, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		}})
		assert.False(t, a.Call(ctx, Env{}))
		assert.Equal(t, Error, a.Status())
		assert.Contains(t, a.Err(), "panic")
	})
}

func TestActionAwaitConfirmation(t *testing.T) {
	ctx := context.Background()
	okFn := func(ctx context.Context, env Env) (*Result, error) {
		return &Result{Status: true, TransactionHash: env.TxHash}, nil
	}

	t.Run("rejected by timeout", func(t *testing.T) {
		var called int32
		a := newTestAction(ActionParams{Type: ExecuteRedeem, AwaitConfirmation: true, IsRequired: true,
			Fn: func(ctx context.Context, env Env) (*Result, error) {
				atomic.AddInt32(&called, 1)
				return nil, nil
			}})
		assert.False(t, a.Call(ctx, Env{}))
		assert.Equal(t, Canceled, a.Status())
		assert.Equal(t, ErrRejectedByTimeout.Error(), a.Err())
		assert.Zero(t, atomic.LoadInt32(&called))
	})

	t.Run("hash supplied while waiting", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: ExecuteRedeem, AwaitConfirmation: true, IsRequired: true, Fn: okFn})
		a.SetTimings(ActionTimings{PollInterval: time.Millisecond, AwaitStep: time.Millisecond, AwaitTimeout: time.Second})
		go func() {
			time.Sleep(5 * time.Millisecond)
			assert.NoError(t, a.SetTransactionHash("bb", false))
		}()
		assert.True(t, a.Call(ctx, Env{}))
		assert.Equal(t, "bb", a.TransactionHash())
	})

	t.Run("skip", func(t *testing.T) {
		var called int32
		a := newTestAction(ActionParams{Type: ExecuteRedeem, AwaitConfirmation: true,
			Fn: func(ctx context.Context, env Env) (*Result, error) {
				atomic.AddInt32(&called, 1)
				return nil, nil
			}})
		require.NoError(t, a.SetTransactionHash(SkipHash, false))
		assert.True(t, a.Call(ctx, Env{}))
		assert.Equal(t, Success, a.Status())
		assert.Zero(t, atomic.LoadInt32(&called))
	})

	t.Run("skip refused for required step", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: ExecuteRedeem, AwaitConfirmation: true, IsRequired: true, Fn: okFn})
		require.NoError(t, a.SetTransactionHash(SkipHash, false))
		assert.True(t, a.Call(ctx, Env{}))
		// the function ran with the supplied hash
		assert.Equal(t, SkipHash, a.Payload().TransactionHash)
	})

	t.Run("await function is polled", func(t *testing.T) {
		var calls int32
		a := newTestAction(ActionParams{Type: WaitingConfirmations, AwaitConfirmation: true, IsRequired: true,
			Fn: func(ctx context.Context, env Env) (*Result, error) {
				if atomic.AddInt32(&calls, 1) < 3 {
					return nil, nil
				}
				return &Result{Status: true}, nil
			}})
		require.NoError(t, a.SetTransactionHash("cc", false))
		assert.True(t, a.Call(ctx, Env{}))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		assert.Equal(t, "cc", a.TransactionHash())
	})

	t.Run("await function times out", func(t *testing.T) {
		a := newTestAction(ActionParams{Type: WaitingConfirmations, AwaitConfirmation: true, IsRequired: true,
			Fn: func(ctx context.Context, env Env) (*Result, error) { return nil, nil }})
		require.NoError(t, a.SetTransactionHash("cc", false))
		assert.False(t, a.Call(ctx, Env{}))
		assert.Equal(t, Error, a.Status())
		assert.Equal(t, ErrAwaitTimeout.Error(), a.Err())
	})
}

func TestSetTransactionHash(t *testing.T) {
	plain := NewAction(ActionParams{Type: TransferBTC})
	assert.ErrorIs(t, plain.SetTransactionHash("aa", false), ErrTxHashConflict)
	assert.ErrorIs(t, plain.SetTransactionHash("aa", true), ErrTxHashConflict)

	await := NewAction(ActionParams{Type: ExecuteRedeem, AwaitConfirmation: true})
	assert.NoError(t, await.SetTransactionHash("aa", false))
	assert.ErrorIs(t, await.SetTransactionHash("bb", false), ErrTxHashConflict)
	assert.Equal(t, "aa", await.TransactionHash())
	assert.NoError(t, await.SetTransactionHash("bb", true))
	assert.Equal(t, "bb", await.TransactionHash())
}

func TestActionRecord(t *testing.T) {
	a := newTestAction(ActionParams{Type: TransferBTC, Fn: func(ctx context.Context, env Env) (*Result, error) {
		return &Result{Status: true, TransactionHash: "aa", Data: map[string]any{"fee": 1000}}, nil
	}})
	require.True(t, a.Call(context.Background(), Env{}))

	rec := a.Record(false)
	assert.Equal(t, a.ID(), rec.ID)
	assert.Equal(t, "aa", rec.TransactionHash)
	assert.Nil(t, rec.Payload)

	rec = a.Record(true)
	require.NotNil(t, rec.Payload)
	assert.True(t, rec.Payload.Status)
}
