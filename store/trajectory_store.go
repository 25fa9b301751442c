package store

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store/cache"
)

// TrajectoryStore records every task attempt an agent makes. Writes fan out
// to all available tiers; reads walk the tiers fastest-first. The store is
// always usable: with every backend down it degrades to the in-process tier.
type TrajectoryStore struct {
	tiers     *TierSet
	readCache *cache.Cache
	readTTL   time.Duration
	flight    singleflight.Group
}

// NewTrajectoryStore creates a trajectory store over the given tiers.
func NewTrajectoryStore(p *profile.Profile, tiers *TierSet) *TrajectoryStore {
	return &TrajectoryStore{
		tiers:   tiers,
		readTTL: p.ReadCacheTTL,
		readCache: cache.New(cache.Config{
			DefaultTTL:      p.ReadCacheTTL,
			CleanupInterval: time.Minute,
			MaxItems:        p.MemoryCapacity,
		}),
	}
}

// Store validates the trajectory and writes it to every available tier. An
// empty id and zero creation time are filled in first. The in-process write
// is never skipped; the cache and durable writes are best-effort. Returns
// the record's id.
func (s *TrajectoryStore) Store(ctx context.Context, t *Trajectory) (string, error) {
	t = t.Clone()
	if t.ID == "" {
		t.ID = NewTrajectoryID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if err := t.Validate(); err != nil {
		return "", err
	}

	if s.tiers.cache.ok() {
		if err := s.tiers.cache.driver.UpsertTrajectory(ctx, t); err != nil {
			s.tiers.cache.markDown("upsert_trajectory", err)
		}
	}
	if s.tiers.durable.ok() {
		if err := s.tiers.durable.driver.UpsertTrajectory(ctx, t); err != nil {
			s.tiers.durable.markDown("upsert_trajectory", err)
		} else {
			s.readCache.SetWithTTL(ctx, t.ID, t.Clone(), s.readTTL)
		}
	}
	if err := s.tiers.mem.driver.UpsertTrajectory(ctx, t); err != nil {
		// The in-process tier is the correctness guarantee; its failure
		// is fatal and surfaced.
		return "", NewTierError(TierMemory, "upsert_trajectory", err)
	}
	return t.ID, nil
}

// Get returns the trajectory for id, or nil when unknown. The short-TTL
// local cache is consulted first, then the streaming cache, the durable
// tier and finally the in-process tier; concurrent misses for the same id
// are collapsed into one tier walk.
func (s *TrajectoryStore) Get(ctx context.Context, id string) (*Trajectory, error) {
	if v, ok := s.readCache.Get(ctx, id); ok {
		return v.(*Trajectory).Clone(), nil
	}

	v, err, _ := s.flight.Do(id, func() (any, error) {
		return s.lookup(ctx, id), nil
	})
	if err != nil {
		return nil, err
	}
	if t, ok := v.(*Trajectory); ok && t != nil {
		return t.Clone(), nil
	}
	return nil, nil
}

func (s *TrajectoryStore) lookup(ctx context.Context, id string) *Trajectory {
	if s.tiers.cache.ok() {
		t, err := s.tiers.cache.driver.GetTrajectory(ctx, id)
		if err != nil {
			s.tiers.cache.markDown("get_trajectory", err)
		} else if t != nil {
			s.readCache.SetWithTTL(ctx, id, t, s.readTTL)
			return t
		}
	}
	if s.tiers.durable.ok() {
		t, err := s.tiers.durable.driver.GetTrajectory(ctx, id)
		if err != nil {
			s.tiers.durable.markDown("get_trajectory", err)
		} else if t != nil {
			s.readCache.SetWithTTL(ctx, id, t, s.readTTL)
			if s.tiers.cache.ok() {
				if err := s.tiers.cache.driver.UpsertTrajectory(ctx, t); err != nil {
					s.tiers.cache.markDown("upsert_trajectory", err)
				}
			}
			return t
		}
	}
	t, err := s.tiers.mem.driver.GetTrajectory(ctx, id)
	if err != nil {
		slog.Error("in-process tier read failed", "id", id, "error", err)
		return nil
	}
	return t
}

// Sample returns up to n trajectories drawn uniformly at random from the
// matching population. The durable tier's native random-sample aggregation
// is preferred; degraded mode samples the in-process tier.
func (s *TrajectoryStore) Sample(ctx context.Context, n int, outcome *Outcome) ([]*Trajectory, error) {
	find := &FindTrajectory{Outcome: outcome}
	if s.tiers.durable.ok() {
		list, err := s.tiers.durable.driver.SampleTrajectories(ctx, find, n)
		if err != nil {
			s.tiers.durable.markDown("sample_trajectories", err)
		} else {
			return list, nil
		}
	}
	return s.tiers.mem.driver.SampleTrajectories(ctx, find, n)
}

// SuccessfulFor returns the best successful attempts at the task type,
// sorted by reward descending.
func (s *TrajectoryStore) SuccessfulFor(ctx context.Context, taskType string, topN int) ([]*Trajectory, error) {
	outcome := OutcomeSuccess
	return s.list(ctx, &FindTrajectory{
		Outcome:  &outcome,
		TaskText: &taskType,
		OrderBy:  OrderTrajectoryByRewardDesc,
		Limit:    topN,
	})
}

// FailedFor returns the most recent failed attempts at the task type,
// newest first.
func (s *TrajectoryStore) FailedFor(ctx context.Context, taskType string, topN int) ([]*Trajectory, error) {
	outcome := OutcomeFailure
	return s.list(ctx, &FindTrajectory{
		Outcome:  &outcome,
		TaskText: &taskType,
		OrderBy:  OrderTrajectoryByCreatedDesc,
		Limit:    topN,
	})
}

func (s *TrajectoryStore) list(ctx context.Context, find *FindTrajectory) ([]*Trajectory, error) {
	if s.tiers.durable.ok() {
		list, err := s.tiers.durable.driver.ListTrajectories(ctx, find)
		if err != nil {
			s.tiers.durable.markDown("list_trajectories", err)
		} else {
			return list, nil
		}
	}
	return s.tiers.mem.driver.ListTrajectories(ctx, find)
}

// Lineage resolves the parent trajectories that still exist. Pruned parents
// leave dangling ids; those are skipped, never treated as errors.
func (s *TrajectoryStore) Lineage(ctx context.Context, id string) ([]*Trajectory, error) {
	t, err := s.Get(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	parents := make([]*Trajectory, 0, len(t.ParentIDs))
	for _, pid := range t.ParentIDs {
		p, err := s.Get(ctx, pid)
		if err != nil {
			return nil, err
		}
		if p != nil {
			parents = append(parents, p)
		}
	}
	return parents, nil
}

// Prune removes every trajectory older than the cutoff from every tier and
// reports how many the authoritative tier dropped.
func (s *TrajectoryStore) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	del := &DeleteTrajectory{CreatedBefore: &cutoff}

	if s.tiers.cache.ok() {
		if _, err := s.tiers.cache.driver.DeleteTrajectories(ctx, del); err != nil {
			s.tiers.cache.markDown("delete_trajectories", err)
		}
	}
	var durableCount int64 = -1
	if s.tiers.durable.ok() {
		n, err := s.tiers.durable.driver.DeleteTrajectories(ctx, del)
		if err != nil {
			s.tiers.durable.markDown("delete_trajectories", err)
		} else {
			durableCount = n
		}
	}
	memCount, err := s.tiers.mem.driver.DeleteTrajectories(ctx, del)
	if err != nil {
		return 0, NewTierError(TierMemory, "delete_trajectories", err)
	}
	s.readCache.Clear(ctx)

	if durableCount >= 0 {
		return durableCount, nil
	}
	return memCount, nil
}

// AvailableTiers reports which tiers the store can currently reach.
func (s *TrajectoryStore) AvailableTiers() []TierKind {
	return s.tiers.Available()
}

// Stats reports per-tier availability and record counts.
func (s *TrajectoryStore) Stats(ctx context.Context) []TierStats {
	return s.tiers.Stats(ctx)
}

// Close releases the read cache; the shared tier set is closed by the
// lifecycle manager.
func (s *TrajectoryStore) Close() error {
	return s.readCache.Close()
}
