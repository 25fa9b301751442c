package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bkauto3/swarmsync/store"
)

func TestTrajectoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := store.NewTrajectoryStore(testProfile(), memOnlyTiers(100))
	defer ts.Close()

	in := &store.Trajectory{
		AgentID:         "builder",
		TaskDescription: "build the web app",
		FinalOutcome:    store.OutcomeSuccess,
		Reward:          0.9,
		Steps: []store.ActionStep{
			{Timestamp: time.Now(), ToolName: "bash", ToolArgs: map[string]any{"cmd": "npm run build"}},
		},
	}

	id, err := ts.Store(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, id, "an id is assigned when none is given")
	require.Empty(t, in.ID, "the caller's record is never mutated")

	got, err := ts.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, id, got.ID)
	require.Equal(t, in.AgentID, got.AgentID)
	require.Equal(t, in.TaskDescription, got.TaskDescription)
	require.Equal(t, in.Reward, got.Reward)
	require.Len(t, got.Steps, 1)
	require.False(t, got.CreatedAt.IsZero(), "creation time is filled in")

	missing, err := ts.Get(ctx, "no-such-id")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestTrajectoryStoreRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	ts := store.NewTrajectoryStore(testProfile(), memOnlyTiers(100))
	defer ts.Close()

	tests := []struct {
		name  string
		build func() *store.Trajectory
	}{
		{"reward above one", func() *store.Trajectory {
			return &store.Trajectory{AgentID: "a", FinalOutcome: store.OutcomeSuccess, Reward: 1.5}
		}},
		{"reward below zero", func() *store.Trajectory {
			return &store.Trajectory{AgentID: "a", FinalOutcome: store.OutcomeSuccess, Reward: -0.1}
		}},
		{"unrecognized outcome", func() *store.Trajectory {
			return &store.Trajectory{AgentID: "a", FinalOutcome: "mostly-fine", Reward: 0.5}
		}},
		{"negative duration", func() *store.Trajectory {
			return &store.Trajectory{AgentID: "a", FinalOutcome: store.OutcomeSuccess, Reward: 0.5, DurationSeconds: -1}
		}},
		{"missing agent", func() *store.Trajectory {
			return &store.Trajectory{FinalOutcome: store.OutcomeSuccess, Reward: 0.5}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.build()
			rec.ID = "reject-" + tt.name
			_, err := ts.Store(ctx, rec)
			require.Error(t, err)
			require.True(t, store.IsValidationError(err), "want a validation error, got %v", err)

			got, err := ts.Get(ctx, rec.ID)
			require.NoError(t, err)
			require.Nil(t, got, "a rejected record must not reach any tier")
		})
	}
}

func TestSuccessfulForAndFailedFor(t *testing.T) {
	ctx := context.Background()
	ts := store.NewTrajectoryStore(testProfile(), memOnlyTiers(100))
	defer ts.Close()

	attempts := []struct {
		outcome store.Outcome
		reward  float64
	}{
		{store.OutcomeSuccess, 0.9},
		{store.OutcomeFailure, 0.2},
		{store.OutcomeSuccess, 0.95},
	}
	for i, a := range attempts {
		_, err := ts.Store(ctx, &store.Trajectory{
			AgentID:         "builder",
			TaskDescription: "build the web app",
			FinalOutcome:    a.outcome,
			Reward:          a.reward,
			CreatedAt:       time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	best, err := ts.SuccessfulFor(ctx, "build", 2)
	require.NoError(t, err)
	require.Len(t, best, 2)
	require.Equal(t, 0.95, best[0].Reward)
	require.Equal(t, 0.9, best[1].Reward)

	failed, err := ts.FailedFor(ctx, "build", 5)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, 0.2, failed[0].Reward)
}

func TestTrajectorySampleReturnsDistinctRecords(t *testing.T) {
	ctx := context.Background()
	ts := store.NewTrajectoryStore(testProfile(), memOnlyTiers(100))
	defer ts.Close()

	for i := 0; i < 10; i++ {
		_, err := ts.Store(ctx, &store.Trajectory{
			AgentID:      "builder",
			FinalOutcome: store.OutcomeSuccess,
			Reward:       0.5,
		})
		require.NoError(t, err)
	}

	sample, err := ts.Sample(ctx, 4, nil)
	require.NoError(t, err)
	require.Len(t, sample, 4)
	seen := make(map[string]bool)
	for _, tr := range sample {
		require.False(t, seen[tr.ID])
		seen[tr.ID] = true
	}
}

func TestTrajectorySampleNonPositiveCount(t *testing.T) {
	ctx := context.Background()
	ts := store.NewTrajectoryStore(testProfile(), memOnlyTiers(100))
	defer ts.Close()

	_, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeSuccess,
		Reward:       0.5,
	})
	require.NoError(t, err)

	sample, err := ts.Sample(ctx, -1, nil)
	require.NoError(t, err)
	require.Empty(t, sample)
}

func TestLineageSkipsPrunedParents(t *testing.T) {
	ctx := context.Background()
	ts := store.NewTrajectoryStore(testProfile(), memOnlyTiers(100))
	defer ts.Close()

	parentID, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeFailure,
		Reward:       0.1,
	})
	require.NoError(t, err)

	childID, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeSuccess,
		Reward:       0.8,
		ParentIDs:    []string{parentID, "pruned-long-ago"},
	})
	require.NoError(t, err)

	parents, err := ts.Lineage(ctx, childID)
	require.NoError(t, err)
	require.Len(t, parents, 1, "dangling parent ids are skipped, not errors")
	require.Equal(t, parentID, parents[0].ID)
}

func TestTrajectoryPruneByAge(t *testing.T) {
	ctx := context.Background()
	ts := store.NewTrajectoryStore(testProfile(), memOnlyTiers(100))
	defer ts.Close()

	oldID, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeSuccess,
		Reward:       0.5,
		CreatedAt:    time.Now().AddDate(0, 0, -40),
	})
	require.NoError(t, err)
	newID, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeSuccess,
		Reward:       0.5,
	})
	require.NoError(t, err)

	removed, err := ts.Prune(ctx, 30)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	gone, err := ts.Get(ctx, oldID)
	require.NoError(t, err)
	require.Nil(t, gone)
	kept, err := ts.Get(ctx, newID)
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestTrajectoryStoreDegradedFromStart(t *testing.T) {
	ctx := context.Background()
	durable := newFlakyTier(store.TierMongo)
	durable.down.Store(true)

	ts := store.NewTrajectoryStore(testProfile(), tiersWith(100, durable, nil))
	defer ts.Close()

	require.Equal(t, []store.TierKind{store.TierMemory}, ts.AvailableTiers())

	id, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeSuccess,
		Reward:       0.7,
	})
	require.NoError(t, err, "writes succeed with every backend down")

	got, err := ts.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 0.7, got.Reward)
}

func TestTrajectoryStoreMarksTierDownMidFlight(t *testing.T) {
	ctx := context.Background()
	durable := newFlakyTier(store.TierMongo)

	ts := store.NewTrajectoryStore(testProfile(), tiersWith(100, durable, nil))
	defer ts.Close()

	require.Equal(t, []store.TierKind{store.TierMongo, store.TierMemory}, ts.AvailableTiers())

	firstID, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeSuccess,
		Reward:       0.6,
	})
	require.NoError(t, err)

	durable.down.Store(true)

	secondID, err := ts.Store(ctx, &store.Trajectory{
		AgentID:      "builder",
		FinalOutcome: store.OutcomeFailure,
		Reward:       0.1,
	})
	require.NoError(t, err, "a mid-flight backend failure never fails the write")
	require.Equal(t, []store.TierKind{store.TierMemory}, ts.AvailableTiers())

	for _, id := range []string{firstID, secondID} {
		got, err := ts.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got, "records stay readable after the durable tier is lost")
	}
}
