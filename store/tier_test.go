package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bkauto3/swarmsync/store"
	"github.com/bkauto3/swarmsync/store/db/memdb"
)

func TestAvailableListsHealthyTiersFastestFirst(t *testing.T) {
	ts := store.NewTierSet(memdb.NewDB(10), newFlakyTier(store.TierMongo), newFlakyTier(store.TierRedis), time.Hour)
	defer ts.Close()

	require.Equal(t,
		[]store.TierKind{store.TierRedis, store.TierMongo, store.TierMemory},
		ts.Available())
}

func TestHealthLoopBringsRecoveredTierBack(t *testing.T) {
	durable := newFlakyTier(store.TierMongo)
	durable.down.Store(true)

	ts := store.NewTierSet(memdb.NewDB(10), durable, nil, 20*time.Millisecond)
	defer ts.Close()

	require.Equal(t, []store.TierKind{store.TierMemory}, ts.Available())

	durable.down.Store(false)
	require.Eventually(t, func() bool {
		return len(ts.Available()) == 2
	}, 2*time.Second, 10*time.Millisecond, "a recovered backend must come back into rotation")
}

func TestStatsReportsPerTierCounts(t *testing.T) {
	ctx := context.Background()
	durable := newFlakyTier(store.TierMongo)
	ts := store.NewTierSet(memdb.NewDB(10), durable, nil, time.Hour)
	defer ts.Close()

	st := store.NewStrategyStore(testProfile(), ts)
	defer st.Close()
	_, err := st.Store(ctx, &store.StrategyNugget{
		Description: "d", Context: "c", Outcome: store.OutcomeSuccess,
	})
	require.NoError(t, err)

	stats := ts.Stats(ctx)
	require.Len(t, stats, 2)
	require.Equal(t, store.TierMongo, stats[0].Tier)
	require.True(t, stats[0].Available)
	require.EqualValues(t, 1, stats[0].Counts.Strategies)
	require.Equal(t, store.TierMemory, stats[1].Tier)
	require.EqualValues(t, 1, stats[1].Counts.Strategies)

	durable.down.Store(true)
	stats = ts.Stats(ctx)
	require.False(t, stats[0].Available, "a failing count reports the tier unavailable")
}

func TestTierSetCloseIsIdempotent(t *testing.T) {
	ts := store.NewTierSet(memdb.NewDB(10), nil, nil, time.Hour)
	require.NoError(t, ts.Close())
	require.NoError(t, ts.Close())
}
