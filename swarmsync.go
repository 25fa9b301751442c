// Package swarmsync exposes the tiered experience and strategy stores as
// lazily-initialized singletons. Each store owns its backend connections;
// Close releases them and the next accessor re-initializes lazily.
package swarmsync

import (
	"sync"
	"sync/atomic"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store"
	"github.com/bkauto3/swarmsync/store/db"
)

type trajectoryHandle struct {
	store *store.TrajectoryStore
	tiers *store.TierSet
}

type strategyHandle struct {
	store *store.StrategyStore
	tiers *store.TierSet
}

type memoryHandle struct {
	store *store.MemoryStore
	tiers *store.TierSet
}

var (
	mu sync.Mutex

	activeProfile *profile.Profile

	trajectories atomic.Pointer[trajectoryHandle]
	strategies   atomic.Pointer[strategyHandle]
	memories     atomic.Pointer[memoryHandle]
)

// Configure sets the profile used by the next lazy initialization. It does
// not touch already-initialized stores; call Close first to rebuild them.
func Configure(p *profile.Profile) {
	mu.Lock()
	defer mu.Unlock()
	activeProfile = p
}

func currentProfile() *profile.Profile {
	if activeProfile == nil {
		p := profile.FromEnv()
		if err := p.Validate(); err != nil {
			// FromEnv defaults always validate; a broken override falls
			// back to a pure in-process configuration.
			p = &profile.Profile{Mode: "dev", MemoryCapacity: 1000}
			_ = p.Validate()
		}
		activeProfile = p
	}
	return activeProfile
}

// Trajectories returns the trajectory store singleton. The uncontended fast
// path is a single atomic load; only the first caller pays initialization
// under the lock.
func Trajectories() *store.TrajectoryStore {
	if h := trajectories.Load(); h != nil {
		return h.store
	}
	mu.Lock()
	defer mu.Unlock()
	if h := trajectories.Load(); h != nil {
		return h.store
	}
	p := currentProfile()
	tiers := db.NewTierSet(p)
	h := &trajectoryHandle{store: store.NewTrajectoryStore(p, tiers), tiers: tiers}
	trajectories.Store(h)
	return h.store
}

// Strategies returns the strategy store singleton.
func Strategies() *store.StrategyStore {
	if h := strategies.Load(); h != nil {
		return h.store
	}
	mu.Lock()
	defer mu.Unlock()
	if h := strategies.Load(); h != nil {
		return h.store
	}
	p := currentProfile()
	tiers := db.NewTierSet(p)
	h := &strategyHandle{store: store.NewStrategyStore(p, tiers), tiers: tiers}
	strategies.Store(h)
	return h.store
}

// Memories returns the memory store singleton.
func Memories() *store.MemoryStore {
	if h := memories.Load(); h != nil {
		return h.store
	}
	mu.Lock()
	defer mu.Unlock()
	if h := memories.Load(); h != nil {
		return h.store
	}
	p := currentProfile()
	tiers := db.NewTierSet(p)
	h := &memoryHandle{store: store.NewMemoryStore(p, tiers), tiers: tiers}
	memories.Store(h)
	return h.store
}

// Close drains every initialized store and releases its backend
// connections. Accessors called afterwards re-initialize lazily.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	var firstErr error
	if h := trajectories.Swap(nil); h != nil {
		if err := h.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := h.tiers.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h := strategies.Swap(nil); h != nil {
		if err := h.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := h.tiers.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if h := memories.Swap(nil); h != nil {
		if err := h.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := h.tiers.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
