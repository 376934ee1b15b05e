package vaultclient

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/btc-vault/btcvault"
	"github.com/TEENet-io/btc-vault/chain"
	"github.com/TEENet-io/btc-vault/database"
)

func newTestIngester(t *testing.T) (*DepositIngester, *btcvault.DepositBook) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := btcvault.NewRecordSQLiteStorage(db)
	require.NoError(t, err)
	book := btcvault.NewDepositBook(st, st, &chaincfg.MainNetParams)
	return NewDepositIngester(testVault, book, st, 0), book
}

func issueEvent(id string, vault string) chain.IssueRequest {
	return chain.IssueRequest{
		ID:          id,
		Vault:       vault,
		Requester:   testRequester,
		BtcAddress:  testReceiver,
		Amount:      10_000,
		Fee:         10,
		BlockNumber: 12,
		TxHash:      "0xissue" + id,
		Timestamp:   1700000000,
	}
}

func TestHandleIssueRequest(t *testing.T) {
	ingester, book := newTestIngester(t)
	ctx := context.Background()

	require.NoError(t, ingester.HandleIssueRequest(ctx, issueEvent("1", testVault)))
	require.NoError(t, ingester.HandleIssueRequest(ctx, issueEvent("1", testVault)))
	require.NoError(t, ingester.HandleIssueRequest(ctx, issueEvent("2", "0x1111111111111111111111111111111111111111")))

	deposits, err := book.AllDeposits(ctx, testVault)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, "1", deposits[0].ID)
	assert.Equal(t, "1", deposits[0].Status)
	assert.Equal(t, int64(12), deposits[0].BlockNumber)
	assert.Equal(t, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", deposits[0].BtcAddressBech32)
}

func TestIngesterRun(t *testing.T) {
	ingester, book := newTestIngester(t)
	ctx, cancel := context.WithCancel(context.Background())

	publisher := chain.NewPublisherService()
	publisher.RegisterIssueObserver(ingester.IssueObserver())

	errCh := make(chan error, 1)
	go func() { errCh <- ingester.Run(ctx) }()

	publisher.NotifyIssue(issueEvent("5", testVault))
	require.Eventually(t, func() bool {
		deposits, err := book.AllDeposits(context.Background(), testVault)
		return err == nil && len(deposits) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
