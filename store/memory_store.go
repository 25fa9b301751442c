package store

import (
	"context"
	"errors"
	"time"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store/cache"
)

// MemoryStore holds the generic tagged memory records shared by the
// learning components. It rides the same tier set as the other stores.
type MemoryStore struct {
	tiers     *TierSet
	readCache *cache.Cache
	readTTL   time.Duration
}

// NewMemoryStore creates a memory store over the given tiers.
func NewMemoryStore(p *profile.Profile, tiers *TierSet) *MemoryStore {
	return &MemoryStore{
		tiers:   tiers,
		readTTL: p.ReadCacheTTL,
		readCache: cache.New(cache.Config{
			DefaultTTL:      p.ReadCacheTTL,
			CleanupInterval: time.Minute,
			MaxItems:        p.MemoryCapacity,
		}),
	}
}

// Store validates the entry and writes it to every available tier.
func (s *MemoryStore) Store(ctx context.Context, m *MemoryEntry) (string, error) {
	m = m.Clone()
	if m.ID == "" {
		m.ID = NewMemoryEntryID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if err := m.Validate(); err != nil {
		return "", err
	}

	if s.tiers.cache.ok() {
		if err := s.tiers.cache.driver.UpsertMemoryEntry(ctx, m); err != nil {
			s.tiers.cache.markDown("upsert_memory_entry", err)
		}
	}
	if s.tiers.durable.ok() {
		if err := s.tiers.durable.driver.UpsertMemoryEntry(ctx, m); err != nil {
			s.tiers.durable.markDown("upsert_memory_entry", err)
		} else {
			s.readCache.SetWithTTL(ctx, m.ID, m.Clone(), s.readTTL)
		}
	}
	if err := s.tiers.mem.driver.UpsertMemoryEntry(ctx, m); err != nil {
		return "", NewTierError(TierMemory, "upsert_memory_entry", err)
	}
	return m.ID, nil
}

// Get returns the entry for id, or nil when unknown.
func (s *MemoryStore) Get(ctx context.Context, id string) (*MemoryEntry, error) {
	if v, ok := s.readCache.Get(ctx, id); ok {
		return v.(*MemoryEntry).Clone(), nil
	}
	if s.tiers.durable.ok() {
		m, err := s.tiers.durable.driver.GetMemoryEntry(ctx, id)
		if err != nil {
			s.tiers.durable.markDown("get_memory_entry", err)
		} else if m != nil {
			s.readCache.SetWithTTL(ctx, id, m, s.readTTL)
			return m.Clone(), nil
		}
	}
	return s.tiers.mem.driver.GetMemoryEntry(ctx, id)
}

// ListByTags returns entries of the kind carrying every given tag, newest
// first.
func (s *MemoryStore) ListByTags(ctx context.Context, kind MemoryKind, tags []string, limit int) ([]*MemoryEntry, error) {
	find := &FindMemoryEntry{Kind: &kind, Tags: tags, Limit: limit}
	if s.tiers.durable.ok() {
		list, err := s.tiers.durable.driver.ListMemoryEntries(ctx, find)
		if err != nil {
			s.tiers.durable.markDown("list_memory_entries", err)
		} else {
			return list, nil
		}
	}
	return s.tiers.mem.driver.ListMemoryEntries(ctx, find)
}

// RecordOutcome atomically advances the entry's usage count and win rate.
func (s *MemoryStore) RecordOutcome(ctx context.Context, id string, success bool) error {
	s.readCache.Delete(ctx, id)
	if s.tiers.cache.ok() {
		if _, err := s.tiers.cache.driver.RecordMemoryOutcome(ctx, id, success); err != nil {
			s.tiers.cache.markDown("record_memory_outcome", err)
		}
	}

	var durableRec *MemoryEntry
	durableSeen := false
	if s.tiers.durable.ok() {
		rec, err := s.tiers.durable.driver.RecordMemoryOutcome(ctx, id, success)
		switch {
		case err == nil:
			durableRec = rec
			durableSeen = true
		case errors.Is(err, ErrNotFound):
		default:
			s.tiers.durable.markDown("record_memory_outcome", err)
		}
	}

	_, err := s.tiers.mem.driver.RecordMemoryOutcome(ctx, id, success)
	if errors.Is(err, ErrNotFound) {
		if durableRec != nil {
			if upErr := s.tiers.mem.driver.UpsertMemoryEntry(ctx, durableRec); upErr != nil {
				return NewTierError(TierMemory, "upsert_memory_entry", upErr)
			}
			return nil
		}
		if durableSeen {
			return nil
		}
		return ErrNotFound
	}
	if err != nil {
		return NewTierError(TierMemory, "record_memory_outcome", err)
	}
	return nil
}

// Prune removes every entry of the kind from every tier.
func (s *MemoryStore) Prune(ctx context.Context, kind MemoryKind) (int64, error) {
	del := &DeleteMemoryEntry{Kind: &kind}

	if s.tiers.cache.ok() {
		if _, err := s.tiers.cache.driver.DeleteMemoryEntries(ctx, del); err != nil {
			s.tiers.cache.markDown("delete_memory_entries", err)
		}
	}
	var durableCount int64 = -1
	if s.tiers.durable.ok() {
		n, err := s.tiers.durable.driver.DeleteMemoryEntries(ctx, del)
		if err != nil {
			s.tiers.durable.markDown("delete_memory_entries", err)
		} else {
			durableCount = n
		}
	}
	memCount, err := s.tiers.mem.driver.DeleteMemoryEntries(ctx, del)
	if err != nil {
		return 0, NewTierError(TierMemory, "delete_memory_entries", err)
	}
	s.readCache.Clear(ctx)

	if durableCount >= 0 {
		return durableCount, nil
	}
	return memCount, nil
}

// Stats reports per-tier availability and record counts.
func (s *MemoryStore) Stats(ctx context.Context) []TierStats {
	return s.tiers.Stats(ctx)
}

// Close releases the read cache.
func (s *MemoryStore) Close() error {
	return s.readCache.Close()
}
