// Package memdb implements the in-process storage tier: a mutex-guarded
// bounded map. It is always available and serves as the correctness backstop
// when the durable and cache tiers are down.
package memdb

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bkauto3/swarmsync/store"
)

// DB holds the three bounded record maps behind a single mutex per store
// instance. Lock hold times are short: all backend I/O happens outside this
// tier.
type DB struct {
	mu       sync.Mutex
	capacity int

	trajectories map[string]*store.Trajectory
	strategies   map[string]*store.StrategyNugget
	memories     map[string]*store.MemoryEntry
}

var _ store.TierDriver = (*DB)(nil)

// NewDB creates an in-process tier bounded to capacity records per model.
func NewDB(capacity int) *DB {
	if capacity <= 0 {
		capacity = 1000
	}
	return &DB{
		capacity:     capacity,
		trajectories: make(map[string]*store.Trajectory),
		strategies:   make(map[string]*store.StrategyNugget),
		memories:     make(map[string]*store.MemoryEntry),
	}
}

func (*DB) Kind() store.TierKind {
	return store.TierMemory
}

// Ping always succeeds: the in-process tier cannot be unavailable.
func (*DB) Ping(context.Context) error {
	return nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trajectories = make(map[string]*store.Trajectory)
	d.strategies = make(map[string]*store.StrategyNugget)
	d.memories = make(map[string]*store.MemoryEntry)
	return nil
}

// Trajectory model related methods.

func (d *DB) UpsertTrajectory(_ context.Context, create *store.Trajectory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trajectories[create.ID] = create.Clone()
	if len(d.trajectories) > d.capacity {
		evictOldest(d.trajectories, func(t *store.Trajectory) time.Time { return t.CreatedAt })
	}
	return nil
}

func (d *DB) GetTrajectory(_ context.Context, id string) (*store.Trajectory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trajectories[id].Clone(), nil
}

func (d *DB) ListTrajectories(_ context.Context, find *store.FindTrajectory) ([]*store.Trajectory, error) {
	list := d.trajectoryMatches(find)
	switch find.OrderBy {
	case store.OrderTrajectoryByRewardDesc:
		sort.Slice(list, func(i, j int) bool { return list[i].Reward > list[j].Reward })
	default:
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}
	return truncate(list, find.Limit), nil
}

func (d *DB) SampleTrajectories(_ context.Context, find *store.FindTrajectory, n int) ([]*store.Trajectory, error) {
	return sampleUniform(d.trajectoryMatches(find), n), nil
}

func (d *DB) DeleteTrajectories(_ context.Context, delete *store.DeleteTrajectory) (int64, error) {
	// Snapshot the candidate ids first so unrelated readers are not
	// blocked for the whole prune.
	d.mu.Lock()
	ids := make([]string, 0, len(d.trajectories))
	for id := range d.trajectories {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var removed int64
	for _, id := range ids {
		d.mu.Lock()
		t, ok := d.trajectories[id]
		if ok && trajectoryDeletable(t, delete) {
			removeKey(d.trajectories, id)
			removed++
		}
		d.mu.Unlock()
	}
	return removed, nil
}

// Strategy model related methods.

func (d *DB) UpsertStrategy(_ context.Context, create *store.StrategyNugget) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategies[create.ID] = create.Clone()
	if len(d.strategies) > d.capacity {
		evictOldest(d.strategies, func(s *store.StrategyNugget) time.Time { return s.CreatedAt })
	}
	return nil
}

func (d *DB) GetStrategy(_ context.Context, id string) (*store.StrategyNugget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strategies[id].Clone(), nil
}

func (d *DB) ListStrategies(_ context.Context, find *store.FindStrategy) ([]*store.StrategyNugget, error) {
	list := d.strategyMatches(find)
	if find.OrderByWinRate {
		sort.Slice(list, func(i, j int) bool { return list[i].WinRate > list[j].WinRate })
	} else {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}
	return truncate(list, find.Limit), nil
}

// SearchStrategies is the degraded-mode approximation of the durable tier's
// text-relevance search: a case-insensitive substring match ranked by win
// rate only. It performs no backend query construction from user text.
func (d *DB) SearchStrategies(_ context.Context, text string, limit int, minWinRate float64) ([]*store.StrategyNugget, error) {
	needle := strings.ToLower(text)
	d.mu.Lock()
	list := make([]*store.StrategyNugget, 0)
	for _, s := range d.strategies {
		if s.WinRate < minWinRate {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(s.Context), needle) &&
			!strings.Contains(strings.ToLower(s.Description), needle) {
			continue
		}
		list = append(list, s.Clone())
	}
	d.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].WinRate > list[j].WinRate })
	return truncate(list, limit), nil
}

func (d *DB) SampleStrategies(_ context.Context, find *store.FindStrategy, n int) ([]*store.StrategyNugget, error) {
	return sampleUniform(d.strategyMatches(find), n), nil
}

// RecordStrategyOutcome replaces the stored immutable record with a new one
// computed from it, all under the exclusive lock. Writes to the same id are
// totally ordered by this lock.
func (d *DB) RecordStrategyOutcome(_ context.Context, id string, success bool) (*store.StrategyNugget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.strategies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	updated := current.WithOutcome(success)
	d.strategies[id] = updated
	return updated.Clone(), nil
}

func (d *DB) DeleteStrategies(_ context.Context, delete *store.DeleteStrategy) (int64, error) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.strategies))
	for id := range d.strategies {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var removed int64
	for _, id := range ids {
		d.mu.Lock()
		s, ok := d.strategies[id]
		if ok && strategyDeletable(s, delete) {
			removeKey(d.strategies, id)
			removed++
		}
		d.mu.Unlock()
	}
	return removed, nil
}

// MemoryEntry model related methods.

func (d *DB) UpsertMemoryEntry(_ context.Context, create *store.MemoryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memories[create.ID] = create.Clone()
	if len(d.memories) > d.capacity {
		evictOldest(d.memories, func(m *store.MemoryEntry) time.Time { return m.CreatedAt })
	}
	return nil
}

func (d *DB) GetMemoryEntry(_ context.Context, id string) (*store.MemoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memories[id].Clone(), nil
}

func (d *DB) ListMemoryEntries(_ context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	d.mu.Lock()
	list := make([]*store.MemoryEntry, 0)
	for _, m := range d.memories {
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.Kind != nil && m.Kind != *find.Kind {
			continue
		}
		if len(find.Tags) > 0 && !m.HasTags(find.Tags) {
			continue
		}
		list = append(list, m.Clone())
	}
	d.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return truncate(list, find.Limit), nil
}

func (d *DB) RecordMemoryOutcome(_ context.Context, id string, success bool) (*store.MemoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.memories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	updated := current.WithOutcome(success)
	d.memories[id] = updated
	return updated.Clone(), nil
}

func (d *DB) DeleteMemoryEntries(_ context.Context, delete *store.DeleteMemoryEntry) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed int64
	for id, m := range d.memories {
		if delete.ID != nil && m.ID != *delete.ID {
			continue
		}
		if delete.Kind != nil && m.Kind != *delete.Kind {
			continue
		}
		removeKey(d.memories, id)
		removed++
	}
	return removed, nil
}

func (d *DB) Stats(context.Context) (store.TierCounts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return store.TierCounts{
		Trajectories:  int64(len(d.trajectories)),
		Strategies:    int64(len(d.strategies)),
		MemoryEntries: int64(len(d.memories)),
	}, nil
}

// Internal helpers.

func (d *DB) trajectoryMatches(find *store.FindTrajectory) []*store.Trajectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]*store.Trajectory, 0)
	for _, t := range d.trajectories {
		if find.ID != nil && t.ID != *find.ID {
			continue
		}
		if find.AgentID != nil && t.AgentID != *find.AgentID {
			continue
		}
		if find.Outcome != nil && t.FinalOutcome != *find.Outcome {
			continue
		}
		if find.TaskText != nil && !strings.Contains(strings.ToLower(t.TaskDescription), strings.ToLower(*find.TaskText)) {
			continue
		}
		if find.MinReward != nil && t.Reward < *find.MinReward {
			continue
		}
		list = append(list, t.Clone())
	}
	return list
}

func (d *DB) strategyMatches(find *store.FindStrategy) []*store.StrategyNugget {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]*store.StrategyNugget, 0)
	for _, s := range d.strategies {
		if find.ID != nil && s.ID != *find.ID {
			continue
		}
		if find.Environment != nil && s.Environment != *find.Environment {
			continue
		}
		if find.Outcome != nil && s.Outcome != *find.Outcome {
			continue
		}
		if find.MinWinRate != nil && s.WinRate < *find.MinWinRate {
			continue
		}
		list = append(list, s.Clone())
	}
	return list
}

func trajectoryDeletable(t *store.Trajectory, delete *store.DeleteTrajectory) bool {
	if delete.ID != nil && t.ID != *delete.ID {
		return false
	}
	if delete.CreatedBefore != nil && !t.CreatedAt.Before(*delete.CreatedBefore) {
		return false
	}
	return true
}

func strategyDeletable(s *store.StrategyNugget, delete *store.DeleteStrategy) bool {
	if delete.ID != nil && s.ID != *delete.ID {
		return false
	}
	if delete.WinRateBelow != nil && s.WinRate >= *delete.WinRateBelow {
		return false
	}
	return true
}

// sampleUniform draws up to n records without replacement via a partial
// Fisher-Yates shuffle, so repeated draws approximate a uniform distribution
// over the matching population.
func sampleUniform[T any](list []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if n >= len(list) {
		return list
	}
	for i := 0; i < n; i++ {
		j := i + rand.Intn(len(list)-i)
		list[i], list[j] = list[j], list[i]
	}
	return list[:n]
}

// evictOldest drops the record with the earliest creation time. Caller must
// hold the lock.
func evictOldest[T any](m map[string]T, createdAt func(T) time.Time) {
	var oldestID string
	var oldest time.Time
	for id, rec := range m {
		ts := createdAt(rec)
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(m, oldestID)
	}
}

func truncate[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

// removeKey exists so the builtin stays usable inside methods whose
// parameter is named delete, matching the driver signatures.
func removeKey[T any](m map[string]T, id string) {
	delete(m, id)
}
