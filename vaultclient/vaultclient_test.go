package vaultclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/btc-vault/btcman/rpc"
	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/btcwallet"
	"github.com/TEENet-io/btc-vault/chain"
	"github.com/TEENet-io/btc-vault/operation"
	"github.com/TEENet-io/btc-vault/storage"
)

const (
	testVault     = "0x8ddF05F9A5c488b4973897E278B58895bF87Cb24"
	testRequester = "0x4000000000000000000000000000000000000004"
	testReceiver  = "0x751e76e8199196d454941c45d1b3a323f1433bd6"
)

type fakeWallet struct {
	mu          sync.Mutex
	sends       []string
	sendErr     error
	notObserved bool
	confirmErr  error
	relayWaits  int
	wrongPay    *btcvault.WrongPayment
}

func (w *fakeWallet) SendTxSafe(ctx context.Context, to string, amount int64, id string) (*btcwallet.SendResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return nil, w.sendErr
	}
	w.sends = append(w.sends, id)
	return &btcwallet.SendResult{Status: !w.notObserved, TransactionHash: "btc-" + id, Fee: 1000}, nil
}

func (w *fakeWallet) WaitRelayerSynchronization(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.relayWaits++
	return nil
}

func (w *fakeWallet) WaitConfirmations(ctx context.Context, hash string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.confirmErr
}

func (w *fakeWallet) ValidateWrongPayment(ctx context.Context, id string, vault string) (*btcvault.WrongPayment, error) {
	if w.wrongPay == nil || w.wrongPay.ID != id {
		return nil, btcwallet.ErrPaymentNotFound
	}
	return w.wrongPay, nil
}

func (w *fakeWallet) sent() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.sends...)
}

type fakeLedger struct {
	mu        sync.Mutex
	status    map[string]chain.RedeemStatus
	finalized []chain.FinalizeRequest
	revert    bool
	err       error
	delay     time.Duration
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{status: make(map[string]chain.RedeemStatus)}
}

func (l *fakeLedger) RedeemStatus(ctx context.Context, requester string, id string) (chain.RedeemStatus, error) {
	l.mu.Lock()
	delay := l.delay
	l.mu.Unlock()
	time.Sleep(delay)

	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.status[id]
	if !ok {
		return chain.RedeemPending, nil
	}
	return s, nil
}

func (l *fakeLedger) FinalizeRedemption(ctx context.Context, req chain.FinalizeRequest) (*chain.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.finalized = append(l.finalized, req)
	if l.revert {
		return &chain.TxResult{Status: false, Hash: "0xdead"}, nil
	}
	l.status[req.RedeemID] = chain.RedeemCompleted
	return &chain.TxResult{Status: true, Hash: "0xeth" + req.RedeemID}, nil
}

func (l *fakeLedger) setDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

func (l *fakeLedger) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

type fakeProofs struct{}

func (fakeProofs) GetTxProof(ctx context.Context, hash string) (*rpc.TxProof, error) {
	return &rpc.TxProof{TxHash: hash, Height: 100, Index: 1}, nil
}

type testEnv struct {
	store  storage.Store
	wallet *fakeWallet
	ledger *fakeLedger
	client *VaultClient
}

var fastTimings = operation.ActionTimings{
	PollInterval: time.Millisecond,
	AwaitStep:    time.Millisecond,
	AwaitTimeout: 50 * time.Millisecond,
}

func newTestEnv(t *testing.T, store storage.Store) *testEnv {
	if store == nil {
		var err error
		store, err = storage.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
	}
	env := &testEnv{store: store, wallet: &fakeWallet{}, ledger: newFakeLedger()}
	env.client = NewVaultClient(
		Config{Vault: testVault, Timings: fastTimings},
		store,
		NewPools(env.wallet, fakeProofs{}, env.ledger),
		NewPreflight(env.ledger),
	)
	require.NoError(t, env.client.Start(context.Background()))
	return env
}

func redeemEvent(id string) chain.RedeemRequest {
	return chain.RedeemRequest{
		ID:         id,
		Vault:      testVault,
		Requester:  testRequester,
		BtcAddress: testReceiver,
		AmountBtc:  5000,
		Status:     chain.RedeemPending,
	}
}

func TestHandleRedeemRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.client.HandleRedeemRequest(ctx, redeemEvent("42")))
	env.client.Wait()

	op, err := env.client.GetOperation("42")
	require.NoError(t, err)
	assert.Equal(t, operation.Success, op.Status())
	assert.Equal(t, []string{"42"}, env.wallet.sent())
	assert.Equal(t, 2, env.wallet.relayWaits)

	require.Len(t, env.ledger.finalized, 1)
	assert.Equal(t, "btc-42", env.ledger.finalized[0].Proof.TxHash)
	assert.Equal(t, testRequester, env.ledger.finalized[0].Requester)

	var rec operation.OperationRecord
	require.NoError(t, env.store.Find(ctx, OperationsCollection, "42", &rec))
	assert.Equal(t, operation.Success, rec.Status)
	assert.Equal(t, int64(5000), rec.Amount)
	require.Len(t, rec.Actions, 3)
	for _, a := range rec.Actions {
		assert.Equal(t, operation.Success, a.Status)
	}
	assert.Equal(t, "0xeth42", rec.Actions[2].TransactionHash)

	history, err := env.client.History(ctx, "42")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(history), 4)

	assert.ErrorIs(t, env.client.HandleRedeemRequest(ctx, redeemEvent("42")), ErrOperationExists)
}

func TestHandleRedeemRequestIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	other := redeemEvent("1")
	other.Vault = "0x1111111111111111111111111111111111111111"
	require.NoError(t, env.client.HandleRedeemRequest(ctx, other))

	done := redeemEvent("2")
	done.Status = chain.RedeemCompleted
	require.NoError(t, env.client.HandleRedeemRequest(ctx, done))

	// vault addresses compare case-insensitively
	lower := redeemEvent("3")
	lower.Vault = "0x8ddf05f9a5c488b4973897e278b58895bf87cb24"
	require.NoError(t, env.client.HandleRedeemRequest(ctx, lower))
	env.client.Wait()

	_, err := env.client.GetOperation("1")
	assert.ErrorIs(t, err, ErrOperationNotFound)
	_, err = env.client.GetOperation("2")
	assert.ErrorIs(t, err, ErrOperationNotFound)
	_, err = env.client.GetOperation("3")
	assert.NoError(t, err)
}

func TestPreflightClassifies(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ledger.status["7"] = chain.RedeemCompleted
	env.ledger.status["8"] = chain.RedeemNotFound
	env.ledger.status["9"] = chain.RedeemCanceled

	for _, id := range []string{"7", "8", "9"} {
		_, err := env.client.CreateOperation(ctx, operation.Params{ID: id, Type: operation.Redeem, Vault: testVault, Requester: testRequester, BtcAddress: testReceiver, Amount: 1})
		require.NoError(t, err)
	}
	env.client.Wait()

	status := func(id string) operation.Status {
		op, err := env.client.GetOperation(id)
		require.NoError(t, err)
		return op.Status()
	}
	assert.Equal(t, operation.Success, status("7"))
	assert.Equal(t, operation.Error, status("8"))
	assert.Equal(t, operation.Canceled, status("9"))
	assert.Empty(t, env.wallet.sent())

	// terminal operations are persisted even though nothing ran
	var rec operation.OperationRecord
	require.NoError(t, env.store.Find(ctx, OperationsCollection, "8", &rec))
	assert.Equal(t, operation.Error, rec.Status)
}

func TestRestartResumes(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	// crashed while waiting for confirmations
	require.NoError(t, store.Upsert(ctx, OperationsCollection, "9", operation.OperationRecord{
		ID:         "9",
		Type:       operation.Redeem,
		Status:     operation.InProgress,
		Amount:     5000,
		BtcAddress: testReceiver,
		Vault:      testVault,
		Requester:  testRequester,
		Timestamp:  1700000000,
		Actions: []operation.ActionRecord{
			{ID: "t", Type: operation.TransferBTC, Status: operation.Success, TransactionHash: "btc-9",
				Payload: &operation.Result{Status: true, TransactionHash: "btc-9"}},
			{ID: "w", Type: operation.WaitingConfirmations, Status: operation.InProgress},
			{ID: "e", Type: operation.ExecuteRedeem, Status: operation.Waiting},
		},
	}))
	require.NoError(t, store.Upsert(ctx, OperationsCollection, "10", operation.OperationRecord{
		ID: "10", Type: operation.Redeem, Status: operation.Error, Requester: testRequester,
	}))
	require.NoError(t, store.Upsert(ctx, OperationsCollection, "11", operation.OperationRecord{
		ID: "11", Type: "LOCK_COLLATERAL", Status: operation.InProgress,
	}))

	env := newTestEnv(t, store)
	env.client.Wait()

	op, err := env.client.GetOperation("9")
	require.NoError(t, err)
	assert.Equal(t, operation.Success, op.Status())
	assert.Equal(t, int64(1700000000), op.Snapshot(false).Timestamp)
	// the payout is not sent again
	assert.Empty(t, env.wallet.sent())
	require.Len(t, env.ledger.finalized, 1)
	assert.Equal(t, "btc-9", env.ledger.finalized[0].Proof.TxHash)

	op, err = env.client.GetOperation("10")
	require.NoError(t, err)
	assert.Equal(t, operation.Error, op.Status())

	// unknown flow types are skipped
	_, err = env.client.GetOperation("11")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestResetOperation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ledger.setErr(errors.New("nonce too high"))

	require.NoError(t, env.client.HandleRedeemRequest(ctx, redeemEvent("5")))
	env.client.Wait()
	op, err := env.client.GetOperation("5")
	require.NoError(t, err)
	assert.Equal(t, operation.Error, op.Status())

	_, err = env.client.ResetOperation(ctx, "404")
	assert.ErrorIs(t, err, ErrOperationNotFound)

	env.ledger.setErr(nil)
	op, err = env.client.ResetOperation(ctx, "5")
	require.NoError(t, err)
	env.client.Wait()

	assert.Equal(t, operation.Success, op.Status())
	assert.Equal(t, 1, op.WasRestarted())
	// the wallet is asked again and is idempotent on the id
	assert.Equal(t, []string{"5", "5"}, env.wallet.sent())

	_, err = env.client.ResetOperation(ctx, "5")
	assert.ErrorIs(t, err, operation.ErrResetNotAllowed)

	var rec operation.OperationRecord
	require.NoError(t, env.store.Find(ctx, OperationsCollection, "5", &rec))
	assert.Equal(t, 1, rec.WasRestarted)
}

func TestResetOperationConcurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ledger.setErr(errors.New("nonce too high"))

	require.NoError(t, env.client.HandleRedeemRequest(ctx, redeemEvent("5")))
	env.client.Wait()
	old, err := env.client.GetOperation("5")
	require.NoError(t, err)
	require.Equal(t, operation.Error, old.Status())

	env.ledger.setErr(nil)
	env.ledger.setDelay(50 * time.Millisecond)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.client.ResetOperation(ctx, "5")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ok++
		}()
	}
	wg.Wait()
	env.client.Wait()

	assert.Equal(t, 1, ok)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrOperationExists) || errors.Is(errs[0], operation.ErrResetNotAllowed), errs[0])

	op, err := env.client.GetOperation("5")
	require.NoError(t, err)
	assert.Equal(t, operation.Success, op.Status())
	assert.Equal(t, 1, op.WasRestarted())
	assert.Equal(t, []string{"5", "5"}, env.wallet.sent())
}

func TestHandleRedeemRequestConcurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ledger.setDelay(20 * time.Millisecond)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.client.HandleRedeemRequest(ctx, redeemEvent("7"))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrOperationExists)
		}()
	}
	wg.Wait()
	env.client.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, []string{"7"}, env.wallet.sent())
	recs, total := env.client.ListOperations(ListFilter{})
	assert.Equal(t, 1, total)
	assert.Len(t, recs, 1)
}

func TestExecuteRedeemOutcomes(t *testing.T) {
	t.Run("reverted", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.ledger.revert = true
		require.NoError(t, env.client.HandleRedeemRequest(context.Background(), redeemEvent("1")))
		env.client.Wait()

		op, _ := env.client.GetOperation("1")
		assert.Equal(t, operation.Error, op.Status())
		actions := op.Actions()
		assert.Contains(t, actions[2].Err(), ErrFinalizeReverted.Error())
	})

	t.Run("not observed", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.wallet.notObserved = true
		require.NoError(t, env.client.HandleRedeemRequest(context.Background(), redeemEvent("1")))
		env.client.Wait()

		op, _ := env.client.GetOperation("1")
		assert.Equal(t, operation.Error, op.Status())
		assert.Equal(t, ErrTxNotObserved.Error(), op.Actions()[0].Err())
		assert.Empty(t, env.ledger.finalized)
	})

	t.Run("already executed", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pools := NewPools(env.wallet, fakeProofs{}, env.ledger)
		env.ledger.status["1"] = chain.RedeemCompleted

		fn := pools.executeRedeem(operation.Params{ID: "1", Requester: testRequester})
		res, err := fn(context.Background(), operation.Env{Results: map[operation.ActionType]*operation.Result{
			operation.TransferBTC: {Status: true, TransactionHash: "btc-1"},
		}})
		require.NoError(t, err)
		assert.True(t, res.Status)
		assert.Empty(t, env.ledger.finalized)
	})
}

func TestReturnWrongPayment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.wallet.wrongPay = &btcvault.WrongPayment{ID: "77", TxHash: "bad", Vault: testVault, Type: btcvault.TxTypeWrongPayment, Amount: 8000}

	params := operation.Params{ID: "77", Type: operation.ReturnWrongPayment, Vault: testVault, BtcAddress: testReceiver, Amount: 7000}
	_, err := env.client.CreateOperation(ctx, params)
	require.NoError(t, err)

	params.ID = "78"
	_, err = env.client.CreateOperation(ctx, params)
	require.NoError(t, err)
	env.client.Wait()

	op, _ := env.client.GetOperation("77")
	assert.Equal(t, operation.Success, op.Status())
	op, _ = env.client.GetOperation("78")
	assert.Equal(t, operation.Error, op.Status())
	assert.Equal(t, btcwallet.ErrPaymentNotFound.Error(), op.Actions()[0].Err())

	assert.Equal(t, []string{"77"}, env.wallet.sent())
	assert.Zero(t, env.wallet.relayWaits)
}

func TestRefundTooLarge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.wallet.wrongPay = &btcvault.WrongPayment{ID: "77", Amount: 100}

	_, err := env.client.CreateOperation(context.Background(), operation.Params{ID: "77", Type: operation.ReturnWrongPayment, Vault: testVault, BtcAddress: testReceiver, Amount: 7000})
	require.NoError(t, err)
	env.client.Wait()

	op, _ := env.client.GetOperation("77")
	assert.Equal(t, operation.Error, op.Status())
	assert.Contains(t, op.Actions()[0].Err(), ErrRefundTooLarge.Error())
	assert.Empty(t, env.wallet.sent())
}

func TestSendRaw(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.client.CreateOperation(context.Background(), operation.Params{ID: "3", Type: operation.SendRaw, BtcAddress: testReceiver, Amount: 1000})
	require.NoError(t, err)
	env.client.Wait()

	op, _ := env.client.GetOperation("3")
	assert.Equal(t, operation.Success, op.Status())
	assert.Len(t, op.Actions(), 2)
}

func TestCancelAndSetHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ledger.status["1"] = chain.RedeemNotFound

	_, err := env.client.CreateOperation(ctx, operation.Params{ID: "1", Type: operation.Redeem, Requester: testRequester})
	require.NoError(t, err)
	env.client.Wait()

	assert.ErrorIs(t, env.client.CancelOperation(ctx, "1"), operation.ErrNotCancelable)
	assert.ErrorIs(t, env.client.CancelOperation(ctx, "2"), ErrOperationNotFound)
	assert.ErrorIs(t, env.client.SetActionTransactionHash(ctx, "1", "nope", "aa", false), operation.ErrActionNotFound)
	assert.ErrorIs(t, env.client.SetActionTransactionHash(ctx, "2", "nope", "aa", false), ErrOperationNotFound)
}

func TestListAndInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.ledger.status["2"] = chain.RedeemNotFound

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, env.client.HandleRedeemRequest(ctx, redeemEvent(id)))
	}
	_, err := env.client.CreateOperation(ctx, operation.Params{ID: "4", Type: operation.SendRaw, BtcAddress: testReceiver, Amount: 1000})
	require.NoError(t, err)
	env.client.Wait()

	recs, total := env.client.ListOperations(ListFilter{})
	assert.Equal(t, 4, total)
	assert.Equal(t, "4", recs[0].ID)
	assert.Nil(t, recs[0].Actions[0].Payload)

	recs, total = env.client.ListOperations(ListFilter{Status: operation.Error})
	assert.Equal(t, 1, total)
	assert.Equal(t, "2", recs[0].ID)

	recs, total = env.client.ListOperations(ListFilter{Type: operation.Redeem, Page: 1, Size: 2})
	assert.Equal(t, 3, total)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].ID)

	info := env.client.Info()
	assert.Equal(t, 4, info.Operations)
	assert.Equal(t, 3, info.ByStatus[operation.Success])
	assert.Equal(t, 1, info.ByStatus[operation.Error])
	assert.Equal(t, 3, info.ByType[operation.Redeem])
	assert.Empty(t, info.Running)
}

func TestRunConsumesEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	publisher := chain.NewPublisherService()
	publisher.RegisterRedeemObserver(env.client.RedeemObserver())

	errCh := make(chan error, 1)
	go func() { errCh <- env.client.Run(ctx) }()

	publisher.NotifyRedeem(redeemEvent("11"))
	require.Eventually(t, func() bool {
		op, err := env.client.GetOperation("11")
		return err == nil && op.Status() == operation.Success
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	env.client.Wait()
}
