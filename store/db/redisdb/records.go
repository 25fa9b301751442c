package redisdb

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/bkauto3/swarmsync/store"
)

// Trajectory model related methods.

func (d *DB) UpsertTrajectory(ctx context.Context, create *store.Trajectory) error {
	return d.putRecord(ctx, nsTrajectory, create.ID, create)
}

func (d *DB) GetTrajectory(ctx context.Context, id string) (*store.Trajectory, error) {
	var t store.Trajectory
	ok, err := d.getRecord(ctx, nsTrajectory, id, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// ListTrajectories only sees what retention still holds: the recent list is
// the population, filtered client-side. No query text reaches the backend.
func (d *DB) ListTrajectories(ctx context.Context, find *store.FindTrajectory) ([]*store.Trajectory, error) {
	ids, err := d.recentIDs(ctx, nsTrajectory)
	if err != nil {
		return nil, err
	}
	list, err := d.fetchTrajectories(ctx, ids)
	if err != nil {
		return nil, err
	}
	list = filterTrajectories(list, find)
	if find.OrderBy == store.OrderTrajectoryByRewardDesc {
		sort.Slice(list, func(i, j int) bool { return list[i].Reward > list[j].Reward })
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *DB) SampleTrajectories(ctx context.Context, find *store.FindTrajectory, n int) ([]*store.Trajectory, error) {
	ids, err := d.randomIDs(ctx, nsTrajectory, n*2)
	if err != nil {
		return nil, err
	}
	list, err := d.fetchTrajectories(ctx, ids)
	if err != nil {
		return nil, err
	}
	list = filterTrajectories(list, find)
	if len(list) > n {
		list = list[:n]
	}
	return list, nil
}

func (d *DB) DeleteTrajectories(ctx context.Context, delete *store.DeleteTrajectory) (int64, error) {
	if delete.ID != nil {
		if err := d.removeRecord(ctx, nsTrajectory, *delete.ID); err != nil {
			return 0, err
		}
		return 1, nil
	}
	ids, err := d.recentIDs(ctx, nsTrajectory)
	if err != nil {
		return 0, err
	}
	list, err := d.fetchTrajectories(ctx, ids)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, t := range list {
		if delete.CreatedBefore != nil && !t.CreatedAt.Before(*delete.CreatedBefore) {
			continue
		}
		if err := d.removeRecord(ctx, nsTrajectory, t.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Strategy model related methods.

func (d *DB) UpsertStrategy(ctx context.Context, create *store.StrategyNugget) error {
	return d.putRecord(ctx, nsStrategy, create.ID, create)
}

func (d *DB) GetStrategy(ctx context.Context, id string) (*store.StrategyNugget, error) {
	var s store.StrategyNugget
	ok, err := d.getRecord(ctx, nsStrategy, id, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (d *DB) ListStrategies(ctx context.Context, find *store.FindStrategy) ([]*store.StrategyNugget, error) {
	ids, err := d.recentIDs(ctx, nsStrategy)
	if err != nil {
		return nil, err
	}
	list, err := d.fetchStrategies(ctx, ids)
	if err != nil {
		return nil, err
	}
	list = filterStrategies(list, find)
	if find.OrderByWinRate {
		sort.Slice(list, func(i, j int) bool { return list[i].WinRate > list[j].WinRate })
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *DB) SearchStrategies(ctx context.Context, text string, limit int, minWinRate float64) ([]*store.StrategyNugget, error) {
	ids, err := d.recentIDs(ctx, nsStrategy)
	if err != nil {
		return nil, err
	}
	list, err := d.fetchStrategies(ctx, ids)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	matched := make([]*store.StrategyNugget, 0)
	for _, s := range list {
		if s.WinRate < minWinRate {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(s.Context), needle) &&
			!strings.Contains(strings.ToLower(s.Description), needle) {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].WinRate > matched[j].WinRate })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (d *DB) SampleStrategies(ctx context.Context, find *store.FindStrategy, n int) ([]*store.StrategyNugget, error) {
	ids, err := d.randomIDs(ctx, nsStrategy, n*2)
	if err != nil {
		return nil, err
	}
	list, err := d.fetchStrategies(ctx, ids)
	if err != nil {
		return nil, err
	}
	list = filterStrategies(list, find)
	if len(list) > n {
		list = list[:n]
	}
	return list, nil
}

// RecordStrategyOutcome drops the cached copy instead of mutating it; the
// durable and in-process tiers own the counters and the next read refills
// the cache with the converged record.
func (d *DB) RecordStrategyOutcome(ctx context.Context, id string, _ bool) (*store.StrategyNugget, error) {
	if err := d.removeRecord(ctx, nsStrategy, id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *DB) DeleteStrategies(ctx context.Context, delete *store.DeleteStrategy) (int64, error) {
	if delete.ID != nil {
		if err := d.removeRecord(ctx, nsStrategy, *delete.ID); err != nil {
			return 0, err
		}
		return 1, nil
	}
	ids, err := d.recentIDs(ctx, nsStrategy)
	if err != nil {
		return 0, err
	}
	list, err := d.fetchStrategies(ctx, ids)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, s := range list {
		if delete.WinRateBelow != nil && s.WinRate >= *delete.WinRateBelow {
			continue
		}
		if err := d.removeRecord(ctx, nsStrategy, s.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// MemoryEntry model related methods.

func (d *DB) UpsertMemoryEntry(ctx context.Context, create *store.MemoryEntry) error {
	return d.putRecord(ctx, nsMemory, create.ID, create)
}

func (d *DB) GetMemoryEntry(ctx context.Context, id string) (*store.MemoryEntry, error) {
	var m store.MemoryEntry
	ok, err := d.getRecord(ctx, nsMemory, id, &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

func (d *DB) ListMemoryEntries(ctx context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	ids, err := d.recentIDs(ctx, nsMemory)
	if err != nil {
		return nil, err
	}
	list := make([]*store.MemoryEntry, 0, len(ids))
	raw, err := d.fetchRaw(ctx, nsMemory, ids)
	if err != nil {
		return nil, err
	}
	for _, data := range raw {
		var m store.MemoryEntry
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if find.ID != nil && m.ID != *find.ID {
			continue
		}
		if find.Kind != nil && m.Kind != *find.Kind {
			continue
		}
		if len(find.Tags) > 0 && !m.HasTags(find.Tags) {
			continue
		}
		list = append(list, &m)
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *DB) RecordMemoryOutcome(ctx context.Context, id string, _ bool) (*store.MemoryEntry, error) {
	if err := d.removeRecord(ctx, nsMemory, id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *DB) DeleteMemoryEntries(ctx context.Context, delete *store.DeleteMemoryEntry) (int64, error) {
	if delete.ID != nil {
		if err := d.removeRecord(ctx, nsMemory, *delete.ID); err != nil {
			return 0, err
		}
		return 1, nil
	}
	ids, err := d.recentIDs(ctx, nsMemory)
	if err != nil {
		return 0, err
	}
	raw, err := d.fetchRaw(ctx, nsMemory, ids)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, data := range raw {
		var m store.MemoryEntry
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if delete.Kind != nil && m.Kind != *delete.Kind {
			continue
		}
		if err := d.removeRecord(ctx, nsMemory, m.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Fetch helpers.

// fetchRaw MGETs the values for ids, skipping expired entries.
func (d *DB) fetchRaw(ctx context.Context, ns string, ids []string) ([][]byte, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(ns, id)
	}

	opCtx, cancel := d.op(ctx)
	defer cancel()
	values, err := d.client.MGet(opCtx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch records")
	}

	out := make([][]byte, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, []byte(s))
		}
	}
	return out, nil
}

func (d *DB) fetchTrajectories(ctx context.Context, ids []string) ([]*store.Trajectory, error) {
	raw, err := d.fetchRaw(ctx, nsTrajectory, ids)
	if err != nil {
		return nil, err
	}
	list := make([]*store.Trajectory, 0, len(raw))
	for _, data := range raw {
		var t store.Trajectory
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		list = append(list, &t)
	}
	return list, nil
}

func (d *DB) fetchStrategies(ctx context.Context, ids []string) ([]*store.StrategyNugget, error) {
	raw, err := d.fetchRaw(ctx, nsStrategy, ids)
	if err != nil {
		return nil, err
	}
	list := make([]*store.StrategyNugget, 0, len(raw))
	for _, data := range raw {
		var s store.StrategyNugget
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		list = append(list, &s)
	}
	return list, nil
}

func filterTrajectories(list []*store.Trajectory, find *store.FindTrajectory) []*store.Trajectory {
	if find == nil {
		return list
	}
	out := make([]*store.Trajectory, 0, len(list))
	for _, t := range list {
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
		out = append(out, t)
	}
	return out
}

func filterStrategies(list []*store.StrategyNugget, find *store.FindStrategy) []*store.StrategyNugget {
	if find == nil {
		return list
	}
	out := make([]*store.StrategyNugget, 0, len(list))
	for _, s := range list {
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
		out = append(out, s)
	}
	return out
}
