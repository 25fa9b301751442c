package store_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store"
	"github.com/bkauto3/swarmsync/store/db/memdb"
)

var errTierDown = errors.New("backend unreachable")

func testProfile() *profile.Profile {
	return &profile.Profile{
		Mode:                "dev",
		MemoryCapacity:      100,
		ReadCacheTTL:        time.Minute,
		HealthCheckInterval: time.Hour,
	}
}

func memOnlyTiers(capacity int) *store.TierSet {
	return store.NewTierSet(memdb.NewDB(capacity), nil, nil, time.Hour)
}

func tiersWith(memCapacity int, durable, cache store.TierDriver) *store.TierSet {
	return store.NewTierSet(memdb.NewDB(memCapacity), durable, cache, time.Hour)
}

// flakyTier wraps the in-process driver so tests can simulate a remote
// backend going down at any point. While down, every wrapped call fails.
type flakyTier struct {
	*memdb.DB
	kind store.TierKind
	down atomic.Bool
}

func newFlakyTier(kind store.TierKind) *flakyTier {
	return &flakyTier{DB: memdb.NewDB(1000), kind: kind}
}

func (f *flakyTier) Kind() store.TierKind {
	return f.kind
}

func (f *flakyTier) Ping(context.Context) error {
	if f.down.Load() {
		return errTierDown
	}
	return nil
}

func (f *flakyTier) Stats(ctx context.Context) (store.TierCounts, error) {
	if f.down.Load() {
		return store.TierCounts{}, errTierDown
	}
	return f.DB.Stats(ctx)
}

func (f *flakyTier) UpsertTrajectory(ctx context.Context, t *store.Trajectory) error {
	if f.down.Load() {
		return errTierDown
	}
	return f.DB.UpsertTrajectory(ctx, t)
}

func (f *flakyTier) GetTrajectory(ctx context.Context, id string) (*store.Trajectory, error) {
	if f.down.Load() {
		return nil, errTierDown
	}
	return f.DB.GetTrajectory(ctx, id)
}

func (f *flakyTier) UpsertStrategy(ctx context.Context, n *store.StrategyNugget) error {
	if f.down.Load() {
		return errTierDown
	}
	return f.DB.UpsertStrategy(ctx, n)
}

func (f *flakyTier) GetStrategy(ctx context.Context, id string) (*store.StrategyNugget, error) {
	if f.down.Load() {
		return nil, errTierDown
	}
	return f.DB.GetStrategy(ctx, id)
}

func (f *flakyTier) RecordStrategyOutcome(ctx context.Context, id string, success bool) (*store.StrategyNugget, error) {
	if f.down.Load() {
		return nil, errTierDown
	}
	return f.DB.RecordStrategyOutcome(ctx, id, success)
}
