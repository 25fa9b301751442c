package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bkauto3/swarmsync/store"
	"github.com/bkauto3/swarmsync/store/db/memdb"
)

func TestStrategyStoreDeduplicatesByContent(t *testing.T) {
	ctx := context.Background()
	ss := store.NewStrategyStore(testProfile(), memOnlyTiers(100))
	defer ss.Close()

	first, err := ss.Store(ctx, &store.StrategyNugget{
		Description: "run the linter before committing",
		Context:     "code review",
		Outcome:     store.OutcomeSuccess,
	})
	require.NoError(t, err)

	second, err := ss.Store(ctx, &store.StrategyNugget{
		Description: "run the linter before committing",
		Context:     "code review",
		Outcome:     store.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.Equal(t, first, second, "identical content derives the same id")

	other, err := ss.Store(ctx, &store.StrategyNugget{
		Description: "run the linter before committing",
		Context:     "CI pipelines",
		Outcome:     store.OutcomeSuccess,
	})
	require.NoError(t, err)
	require.NotEqual(t, first, other, "different context derives a different id")
}

func TestStrategyRecordOutcomeConcurrent(t *testing.T) {
	ctx := context.Background()
	ss := store.NewStrategyStore(testProfile(), memOnlyTiers(100))
	defer ss.Close()

	id, err := ss.Store(ctx, &store.StrategyNugget{
		Description: "retry with exponential backoff",
		Context:     "transient network errors",
		Outcome:     store.OutcomeSuccess,
	})
	require.NoError(t, err)

	const workers = 120
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			errs <- ss.RecordOutcome(ctx, id, success)
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := ss.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.EqualValues(t, workers, got.UsageCount, "no recorded outcome may be lost")
	require.EqualValues(t, workers/2, got.SuccessCount)
	require.InDelta(t, 0.5, got.WinRate, 1e-9)
}

func TestStrategyRecordOutcomeUnknownID(t *testing.T) {
	ss := store.NewStrategyStore(testProfile(), memOnlyTiers(100))
	defer ss.Close()

	err := ss.RecordOutcome(context.Background(), "never-stored", true)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchByContextDegraded(t *testing.T) {
	ctx := context.Background()
	ss := store.NewStrategyStore(testProfile(), memOnlyTiers(100))
	defer ss.Close()

	seed := []*store.StrategyNugget{
		{Description: "split the migration into batches", Context: "database migrations", Outcome: store.OutcomeSuccess, WinRate: 0.6, UsageCount: 10, SuccessCount: 6},
		{Description: "take a table lock", Context: "database migrations", Outcome: store.OutcomePartial, WinRate: 0.3, UsageCount: 10, SuccessCount: 3},
		{Description: "bump the instance size", Context: "capacity planning", Outcome: store.OutcomeSuccess, WinRate: 0.9, UsageCount: 10, SuccessCount: 9},
	}
	for _, n := range seed {
		_, err := ss.Store(ctx, n)
		require.NoError(t, err)
	}

	results, err := ss.SearchByContext(ctx, "database migrations", 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "split the migration into batches", results[0].Description, "highest win rate first")

	results, err = ss.SearchByContext(ctx, "database migrations", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "split the migration into batches", results[0].Description)
}

func TestStrategyPruneByWinRate(t *testing.T) {
	ctx := context.Background()
	ss := store.NewStrategyStore(testProfile(), memOnlyTiers(100))
	defer ss.Close()

	lowID, err := ss.Store(ctx, &store.StrategyNugget{
		Description: "guess and check", Context: "debugging",
		Outcome: store.OutcomeFailure, WinRate: 0.1, UsageCount: 10, SuccessCount: 1,
	})
	require.NoError(t, err)
	highID, err := ss.Store(ctx, &store.StrategyNugget{
		Description: "bisect the history", Context: "debugging",
		Outcome: store.OutcomeSuccess, WinRate: 0.9, UsageCount: 10, SuccessCount: 9,
	})
	require.NoError(t, err)

	removed, err := ss.Prune(ctx, 0.3)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	gone, err := ss.Get(ctx, lowID)
	require.NoError(t, err)
	require.Nil(t, gone)
	kept, err := ss.Get(ctx, highID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.GreaterOrEqual(t, kept.WinRate, 0.3)
}

// An outcome recorded against a strategy that the bounded in-process tier
// already evicted must still land, with the record repopulated from the
// durable tier's updated copy.
func TestStrategyRecordOutcomeRepopulatesEvicted(t *testing.T) {
	ctx := context.Background()
	durable := newFlakyTier(store.TierMongo)
	mem := memdb.NewDB(100)
	ss := store.NewStrategyStore(testProfile(), store.NewTierSet(mem, durable, nil, time.Hour))
	defer ss.Close()

	evictedID, err := ss.Store(ctx, &store.StrategyNugget{
		Description: "warm the cache first",
		Context:     "deployments",
		Outcome:     store.OutcomeSuccess,
		CreatedAt:   time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	// Drop the record from the in-process tier, as capacity eviction would.
	_, err = mem.DeleteStrategies(ctx, &store.DeleteStrategy{ID: &evictedID})
	require.NoError(t, err)

	require.NoError(t, ss.RecordOutcome(ctx, evictedID, true))

	// Take the durable tier away: the repopulated in-process copy must
	// carry the recorded outcome.
	durable.down.Store(true)
	got, err := ss.Get(ctx, evictedID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.EqualValues(t, 1, got.UsageCount)
	require.InDelta(t, 1.0, got.WinRate, 1e-9)
}

func TestStrategySampleHonorsFilter(t *testing.T) {
	ctx := context.Background()
	ss := store.NewStrategyStore(testProfile(), memOnlyTiers(100))
	defer ss.Close()

	for i, n := range []*store.StrategyNugget{
		{Description: "a", Context: "x", Outcome: store.OutcomeSuccess, WinRate: 0.8, UsageCount: 5, SuccessCount: 4},
		{Description: "b", Context: "x", Outcome: store.OutcomeSuccess, WinRate: 0.2, UsageCount: 5, SuccessCount: 1},
		{Description: "c", Context: "x", Outcome: store.OutcomeSuccess, WinRate: 0.7, UsageCount: 10, SuccessCount: 7},
	} {
		n.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		_, err := ss.Store(ctx, n)
		require.NoError(t, err)
	}

	min := 0.5
	sample, err := ss.Sample(ctx, 10, &store.FindStrategy{MinWinRate: &min})
	require.NoError(t, err)
	require.Len(t, sample, 2)
	for _, n := range sample {
		require.GreaterOrEqual(t, n.WinRate, min)
	}
}
