package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeActions(t *testing.T) {
	pools := newTestPools()
	fresh := pools.Redeem(redeemParams)

	persisted := []ActionRecord{
		// order differs from the pool
		{ID: "exec", Type: ExecuteRedeem, Status: Waiting},
		{ID: "transfer", Type: TransferBTC, Status: Success, TransactionHash: "aa",
			Payload: &Result{Status: true, TransactionHash: "aa"}},
		{ID: "confirm", Type: WaitingConfirmations, Status: InProgress},
		// no longer part of the pool
		{ID: "old", Type: "lockCollateral", Status: Success},
	}

	merged := MergeActions(fresh, persisted)
	require.Len(t, merged, 3)

	assert.Equal(t, TransferBTC, merged[0].Type())
	assert.Equal(t, "transfer", merged[0].ID())
	assert.Equal(t, Success, merged[0].Status())
	assert.Equal(t, "aa", merged[0].TransactionHash())
	assert.Equal(t, "aa", merged[0].Payload().TransactionHash)

	// interrupted by a crash
	assert.Equal(t, "confirm", merged[1].ID())
	assert.Equal(t, Waiting, merged[1].Status())

	assert.Equal(t, "exec", merged[2].ID())

	// the fresh pool is untouched
	for _, a := range fresh {
		assert.Equal(t, Waiting, a.Status())
		assert.NotEqual(t, "transfer", a.ID())
	}
}

func TestMergeActionsPartial(t *testing.T) {
	pools := newTestPools()
	fresh := pools.ReturnWrongPayment(redeemParams)

	merged := MergeActions(fresh, []ActionRecord{{ID: "v", Type: ValidateWrongPayment, Status: Success}})
	require.Len(t, merged, 3)
	assert.Equal(t, Success, merged[0].Status())
	assert.Equal(t, Waiting, merged[1].Status())
	assert.Equal(t, fresh[1].ID(), merged[1].ID())

	assert.Len(t, MergeActions(fresh, nil), 3)
	assert.Empty(t, MergeActions(nil, []ActionRecord{{Type: TransferBTC}}))
}
