package storage

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calcchain/core/types"
	"calcchain/native/manager"
	"calcchain/native/scheduler"
	"calcchain/native/strategy"
)

func TestMemDBPrefixIteration(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("s/b"), []byte("2")))
	require.NoError(t, db.Put([]byte("s/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("t/a"), []byte("x")))

	var visited []string
	err := db.IteratePrefix([]byte("s/"), func(key, value []byte) error {
		visited = append(visited, string(key)+"="+string(value))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"s/a=1", "s/b=2"}, visited)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSequencesAreIndependent(t *testing.T) {
	store := NewStore(NewMemDB())
	for want := uint64(1); want <= 3; want++ {
		id, err := store.NextStrategyID()
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	id, err := store.NextCallbackID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	id, err = store.NextHandleID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
}

func TestStrategyRoundTrip(t *testing.T) {
	store := NewStore(NewMemDB())

	st := &strategy.Strategy{
		ID:       7,
		Owner:    "owner",
		Contract: "strategy/7",
		Status:   strategy.StatusActive,
		Action: strategy.Action{Schedule: &strategy.ScheduleAction{
			Cadence: strategy.Cadence{Blocks: &strategy.BlocksCadence{Interval: 100}},
			Inner: &strategy.Action{Swap: &strategy.SwapAction{
				SwapAmount: types.NewCoinFromUint64("urune", 100),
				MinReceive: types.NewCoinFromUint64("uatom", 90),
			}},
		}},
		CreatedAt: time.Unix(1_000, 0).UTC(),
		UpdatedAt: time.Unix(1_000, 0).UTC(),
	}
	require.NoError(t, store.PutStrategy(st))

	got, ok, err := store.StrategyByID(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "owner", got.Owner)
	require.NotNil(t, got.Action.Schedule)
	require.NotNil(t, got.Action.Schedule.Inner.Swap)
	require.Zero(t, got.Action.Schedule.Inner.Swap.SwapAmount.Amount.Cmp(big.NewInt(100)))

	_, ok, err = store.StrategyByID(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListStrategiesAscendingID(t *testing.T) {
	store := NewStore(NewMemDB())
	for _, id := range []uint64{300, 2, 41} {
		require.NoError(t, store.PutStrategy(&strategy.Strategy{
			ID:       id,
			Owner:    "owner",
			Contract: "strategy/x",
			Status:   strategy.StatusActive,
		}))
	}
	listed, err := store.ListStrategies()
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, uint64(2), listed[0].ID)
	require.Equal(t, uint64(41), listed[1].ID)
	require.Equal(t, uint64(300), listed[2].ID)
}

func TestPendingCallbackLifecycle(t *testing.T) {
	store := NewStore(NewMemDB())
	cb := strategy.PendingCallback{
		ID:   5,
		Kind: strategy.CallbackSwap,
		Data: json.RawMessage(`{"swapAmount":{"denom":"urune","amount":"100"},"receiveDenom":"uatom"}`),
	}
	require.NoError(t, store.PutPendingCallback(9, cb))

	strategyID, got, ok, err := store.PendingCallback(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(9), strategyID)
	require.Equal(t, strategy.CallbackSwap, got.Kind)

	require.NoError(t, store.DeletePendingCallback(5))
	_, _, ok, err = store.PendingCallback(5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPendingCallbackCount(t *testing.T) {
	store := NewStore(NewMemDB())
	count, err := store.PendingCallbackCount()
	require.NoError(t, err)
	require.Zero(t, count)

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, store.PutPendingCallback(9, strategy.PendingCallback{ID: id, Kind: strategy.CallbackOrder}))
	}
	count, err = store.PendingCallbackCount()
	require.NoError(t, err)
	require.Equal(t, 3, count)

	require.NoError(t, store.DeletePendingCallback(2))
	count, err = store.PendingCallbackCount()
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestTriggerRoundTrip(t *testing.T) {
	store := NewStore(NewMemDB())
	trigger := scheduler.Trigger{
		ID:    42,
		Owner: "strategy/1",
		Conditions: []strategy.Condition{{
			BlocksCompleted: &strategy.BlocksCompletedCondition{Height: 100},
		}},
		Threshold: strategy.ThresholdAll,
		To:        "strategy/1",
		Payload:   json.RawMessage(`{"execute":{"strategyId":1}}`),
	}
	require.NoError(t, store.PutTrigger(trigger))

	got, ok, err := store.TriggerByID(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "strategy/1", got.Owner)
	require.Len(t, got.Conditions, 1)
	require.NotNil(t, got.Conditions[0].BlocksCompleted)

	require.NoError(t, store.DeleteTrigger(42))
	listed, err := store.ListTriggers()
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestHandleRoundTrip(t *testing.T) {
	store := NewStore(NewMemDB())
	handle := manager.Handle{
		ID:       3,
		Owner:    "owner",
		Contract: "strategy/3",
		Status:   strategy.StatusPaused,
		Affiliates: []strategy.Affiliate{
			{Address: "partner", Bps: 50},
		},
		CreatedAt: time.Unix(1_000, 0).UTC(),
		UpdatedAt: time.Unix(2_000, 0).UTC(),
	}
	require.NoError(t, store.PutHandle(handle))

	got, ok, err := store.HandleByID(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strategy.StatusPaused, got.Status)
	require.Len(t, got.Affiliates, 1)
	require.Equal(t, uint64(50), got.Affiliates[0].Bps)

	handles, err := store.ListHandles()
	require.NoError(t, err)
	require.Len(t, handles, 1)
}
