package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// tierState tracks one tier's driver and its availability flag. A failed
// operation marks the tier down for subsequent calls; only the health loop
// (or a successful probe) marks it up again; there is no inline retry.
type tierState struct {
	driver    TierDriver
	available atomic.Bool
	// warnLimiter throttles degradation warnings while a tier stays down.
	warnLimiter *rate.Limiter
}

func newTierState(driver TierDriver) *tierState {
	t := &tierState{
		driver:      driver,
		warnLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	return t
}

func (t *tierState) ok() bool {
	return t != nil && t.driver != nil && t.available.Load()
}

// markDown records an operation failure: the tier is skipped until the next
// successful probe.
func (t *tierState) markDown(op string, err error) {
	if t.available.Swap(false) || t.warnLimiter.Allow() {
		slog.Warn("storage tier unavailable",
			"tier", t.driver.Kind(),
			"op", op,
			"error", err)
	}
}

// probe pings the driver and updates availability, logging transitions.
func (t *tierState) probe(ctx context.Context) {
	if t == nil || t.driver == nil {
		return
	}
	err := t.driver.Ping(ctx)
	was := t.available.Load()
	now := err == nil
	t.available.Store(now)
	if now && !was {
		slog.Info("storage tier available", "tier", t.driver.Kind())
	} else if !now && was {
		slog.Warn("storage tier lost", "tier", t.driver.Kind(), "error", err)
	}
}

// TierSet owns the ordered storage tiers for one store instance: the
// streaming cache (optional), the durable document store (optional) and the
// in-process map, which is always present and always available. A background
// loop re-probes the optional tiers so a recovered backend comes back into
// rotation.
type TierSet struct {
	cache   *tierState // best-effort streaming cache, may be absent
	durable *tierState // authoritative durable tier, may be absent
	mem     *tierState // correctness backstop, never absent

	healthInterval time.Duration
	done           chan struct{}
	closeOnce      sync.Once
}

// NewTierSet assembles the tiers, probing each optional tier once.
// Construction never fails: an unreachable tier is just marked unavailable
// and the store runs degraded on the in-process tier.
func NewTierSet(memTier, durableTier, cacheTier TierDriver, healthInterval time.Duration) *TierSet {
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	ts := &TierSet{
		mem:            newTierState(memTier),
		healthInterval: healthInterval,
		done:           make(chan struct{}),
	}
	ts.mem.available.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if durableTier != nil {
		ts.durable = newTierState(durableTier)
		ts.durable.probe(ctx)
	}
	if cacheTier != nil {
		ts.cache = newTierState(cacheTier)
		ts.cache.probe(ctx)
	}

	go ts.healthLoop()
	return ts
}

func (ts *TierSet) healthLoop() {
	ticker := time.NewTicker(ts.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ts.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ts.durable.probe(ctx)
			ts.cache.probe(ctx)
			cancel()
		}
	}
}

// Available reports which tiers are currently usable.
func (ts *TierSet) Available() []TierKind {
	kinds := make([]TierKind, 0, 3)
	if ts.cache.ok() {
		kinds = append(kinds, TierRedis)
	}
	if ts.durable.ok() {
		kinds = append(kinds, TierMongo)
	}
	kinds = append(kinds, TierMemory)
	return kinds
}

// TierStats reports one tier's availability and record counts.
type TierStats struct {
	Tier      TierKind   `json:"tier"`
	Available bool       `json:"available"`
	Counts    TierCounts `json:"counts"`
}

// Stats reports every configured tier, fastest first. Counts for an
// unavailable tier are zero; a count failure is reported as unavailable
// without marking the tier down.
func (ts *TierSet) Stats(ctx context.Context) []TierStats {
	stats := make([]TierStats, 0, 3)
	for _, t := range []*tierState{ts.cache, ts.durable, ts.mem} {
		if t == nil || t.driver == nil {
			continue
		}
		s := TierStats{Tier: t.driver.Kind(), Available: t.ok()}
		if s.Available {
			counts, err := t.driver.Stats(ctx)
			if err != nil {
				s.Available = false
			} else {
				s.Counts = counts
			}
		}
		stats = append(stats, s)
	}
	return stats
}

// Close stops the health loop and releases every backend connection.
func (ts *TierSet) Close() error {
	ts.closeOnce.Do(func() {
		close(ts.done)
	})
	var firstErr error
	for _, t := range []*tierState{ts.cache, ts.durable, ts.mem} {
		if t == nil || t.driver == nil {
			continue
		}
		if err := t.driver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
