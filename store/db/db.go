// Package db assembles the storage tiers for a store instance from its
// profile.
package db

import (
	"log/slog"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store"
	"github.com/bkauto3/swarmsync/store/db/memdb"
	"github.com/bkauto3/swarmsync/store/db/mongodb"
	"github.com/bkauto3/swarmsync/store/db/redisdb"
)

// NewTierSet builds the tier set for one store instance. The in-process
// tier is always created; the durable and cache tiers are attempted only
// when configured, and a connection failure degrades the store instead of
// failing construction.
func NewTierSet(p *profile.Profile) *store.TierSet {
	var durable store.TierDriver
	if p.MongoEnabled() {
		d, err := mongodb.NewDB(p)
		if err != nil {
			slog.Warn("durable tier unavailable at startup", "error", err)
		} else {
			durable = d
		}
	}

	var cacheTier store.TierDriver
	if p.RedisEnabled() {
		c, err := redisdb.NewDB(p)
		if err != nil {
			slog.Warn("cache tier unavailable at startup", "error", err)
		} else {
			cacheTier = c
		}
	}

	return store.NewTierSet(memdb.NewDB(p.MemoryCapacity), durable, cacheTier, p.HealthCheckInterval)
}
