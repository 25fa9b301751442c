package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store/cache"
)

// StrategyStore keeps distilled, reusable action patterns and their running
// win rates. Structurally identical to the trajectory store: same tiering,
// same degradation, same lifecycle.
type StrategyStore struct {
	tiers     *TierSet
	readCache *cache.Cache
	readTTL   time.Duration
	flight    singleflight.Group
}

// NewStrategyStore creates a strategy store over the given tiers.
func NewStrategyStore(p *profile.Profile, tiers *TierSet) *StrategyStore {
	return &StrategyStore{
		tiers:   tiers,
		readTTL: p.ReadCacheTTL,
		readCache: cache.New(cache.Config{
			DefaultTTL:      p.ReadCacheTTL,
			CleanupInterval: time.Minute,
			MaxItems:        p.MemoryCapacity,
		}),
	}
}

// Store validates the nugget and writes it to every available tier. An
// empty id is derived deterministically from description and context so the
// same distilled pattern deduplicates. Returns the record's id.
func (s *StrategyStore) Store(ctx context.Context, n *StrategyNugget) (string, error) {
	n = n.Clone()
	if n.ID == "" {
		n.ID = NewStrategyID(n.Description, n.Context)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := n.Validate(); err != nil {
		return "", err
	}

	if s.tiers.cache.ok() {
		if err := s.tiers.cache.driver.UpsertStrategy(ctx, n); err != nil {
			s.tiers.cache.markDown("upsert_strategy", err)
		}
	}
	if s.tiers.durable.ok() {
		if err := s.tiers.durable.driver.UpsertStrategy(ctx, n); err != nil {
			s.tiers.durable.markDown("upsert_strategy", err)
		} else {
			s.readCache.SetWithTTL(ctx, n.ID, n.Clone(), s.readTTL)
		}
	}
	if err := s.tiers.mem.driver.UpsertStrategy(ctx, n); err != nil {
		return "", NewTierError(TierMemory, "upsert_strategy", err)
	}
	return n.ID, nil
}

// Get returns the strategy for id, or nil when unknown.
func (s *StrategyStore) Get(ctx context.Context, id string) (*StrategyNugget, error) {
	if v, ok := s.readCache.Get(ctx, id); ok {
		return v.(*StrategyNugget).Clone(), nil
	}

	v, err, _ := s.flight.Do(id, func() (any, error) {
		return s.lookup(ctx, id), nil
	})
	if err != nil {
		return nil, err
	}
	if n, ok := v.(*StrategyNugget); ok && n != nil {
		return n.Clone(), nil
	}
	return nil, nil
}

func (s *StrategyStore) lookup(ctx context.Context, id string) *StrategyNugget {
	if s.tiers.cache.ok() {
		n, err := s.tiers.cache.driver.GetStrategy(ctx, id)
		if err != nil {
			s.tiers.cache.markDown("get_strategy", err)
		} else if n != nil {
			s.readCache.SetWithTTL(ctx, id, n, s.readTTL)
			return n
		}
	}
	if s.tiers.durable.ok() {
		n, err := s.tiers.durable.driver.GetStrategy(ctx, id)
		if err != nil {
			s.tiers.durable.markDown("get_strategy", err)
		} else if n != nil {
			s.readCache.SetWithTTL(ctx, id, n, s.readTTL)
			if s.tiers.cache.ok() {
				if err := s.tiers.cache.driver.UpsertStrategy(ctx, n); err != nil {
					s.tiers.cache.markDown("upsert_strategy", err)
				}
			}
			return n
		}
	}
	n, err := s.tiers.mem.driver.GetStrategy(ctx, id)
	if err != nil {
		slog.Error("in-process tier read failed", "id", id, "error", err)
		return nil
	}
	return n
}

// SearchByContext ranks strategies for the query text. With the durable
// tier up, ranking combines text relevance with win rate. Degraded mode
// falls back to a case-insensitive substring match over the in-process tier
// ranked by win rate only, a lower-fidelity approximation that may order
// results differently from the durable tier for the same query.
func (s *StrategyStore) SearchByContext(ctx context.Context, text string, topN int, minWinRate float64) ([]*StrategyNugget, error) {
	if s.tiers.durable.ok() {
		list, err := s.tiers.durable.driver.SearchStrategies(ctx, text, topN, minWinRate)
		if err != nil {
			s.tiers.durable.markDown("search_strategies", err)
		} else {
			return list, nil
		}
	}
	return s.tiers.mem.driver.SearchStrategies(ctx, text, topN, minWinRate)
}

// Sample returns up to n strategies drawn uniformly at random.
func (s *StrategyStore) Sample(ctx context.Context, n int, find *FindStrategy) ([]*StrategyNugget, error) {
	if find == nil {
		find = &FindStrategy{}
	}
	if s.tiers.durable.ok() {
		list, err := s.tiers.durable.driver.SampleStrategies(ctx, find, n)
		if err != nil {
			s.tiers.durable.markDown("sample_strategies", err)
		} else {
			return list, nil
		}
	}
	return s.tiers.mem.driver.SampleStrategies(ctx, find, n)
}

// RecordOutcome is the single atomic mutator for a strategy's usage count
// and win rate. Each tier advances its counters atomically (the durable
// tier by a native increment, the in-process tier by swapping a new record
// in under its lock), so no caller-side read-modify-write ever happens.
// Every cached copy of the id is invalidated.
func (s *StrategyStore) RecordOutcome(ctx context.Context, id string, success bool) error {
	s.readCache.Delete(ctx, id)
	if s.tiers.cache.ok() {
		if _, err := s.tiers.cache.driver.RecordStrategyOutcome(ctx, id, success); err != nil {
			s.tiers.cache.markDown("record_strategy_outcome", err)
		}
	}

	var durableRec *StrategyNugget
	durableSeen := false
	if s.tiers.durable.ok() {
		rec, err := s.tiers.durable.driver.RecordStrategyOutcome(ctx, id, success)
		switch {
		case err == nil:
			durableRec = rec
			durableSeen = true
		case errors.Is(err, ErrNotFound):
			// Fall through to the in-process tier.
		default:
			s.tiers.durable.markDown("record_strategy_outcome", err)
		}
	}

	_, err := s.tiers.mem.driver.RecordStrategyOutcome(ctx, id, success)
	if errors.Is(err, ErrNotFound) {
		if durableRec != nil {
			// The record was evicted from the bounded in-process tier;
			// repopulate it from the durable tier's updated copy.
			if upErr := s.tiers.mem.driver.UpsertStrategy(ctx, durableRec); upErr != nil {
				return NewTierError(TierMemory, "upsert_strategy", upErr)
			}
			return nil
		}
		if durableSeen {
			return nil
		}
		return ErrNotFound
	}
	if err != nil {
		return NewTierError(TierMemory, "record_strategy_outcome", err)
	}
	return nil
}

// Prune removes every strategy with a win rate under the threshold from
// every tier and reports how many the authoritative tier dropped.
func (s *StrategyStore) Prune(ctx context.Context, minWinRate float64) (int64, error) {
	del := &DeleteStrategy{WinRateBelow: &minWinRate}

	if s.tiers.cache.ok() {
		if _, err := s.tiers.cache.driver.DeleteStrategies(ctx, del); err != nil {
			s.tiers.cache.markDown("delete_strategies", err)
		}
	}
	var durableCount int64 = -1
	if s.tiers.durable.ok() {
		n, err := s.tiers.durable.driver.DeleteStrategies(ctx, del)
		if err != nil {
			s.tiers.durable.markDown("delete_strategies", err)
		} else {
			durableCount = n
		}
	}
	memCount, err := s.tiers.mem.driver.DeleteStrategies(ctx, del)
	if err != nil {
		return 0, NewTierError(TierMemory, "delete_strategies", err)
	}
	s.readCache.Clear(ctx)

	if durableCount >= 0 {
		return durableCount, nil
	}
	return memCount, nil
}

// AvailableTiers reports which tiers the store can currently reach.
func (s *StrategyStore) AvailableTiers() []TierKind {
	return s.tiers.Available()
}

// Stats reports per-tier availability and record counts.
func (s *StrategyStore) Stats(ctx context.Context) []TierStats {
	return s.tiers.Stats(ctx)
}

// Close releases the read cache; the shared tier set is closed by the
// lifecycle manager.
func (s *StrategyStore) Close() error {
	return s.readCache.Close()
}
