// Package redisdb implements the streaming cache tier on Redis: low-latency
// append-style writes with bounded retention. Records are stored as JSON
// values with a TTL; a per-collection recent-id list and id set provide
// recency listing and random sampling over what is still retained.
package redisdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store"
)

const keyPrefix = "swarmsync:"

// namespaces for the three record collections.
const (
	nsTrajectory = "traj"
	nsStrategy   = "strat"
	nsMemory     = "mem"
)

// DB is the cache tier handle. Retention is bounded two ways: every value
// carries a TTL, and the recent-id list is trimmed to a fixed length.
type DB struct {
	client      *redis.Client
	ttl         time.Duration
	recentLimit int
	timeout     time.Duration
}

var _ store.TierDriver = (*DB)(nil)

// NewDB connects to Redis and verifies the connection.
func NewDB(p *profile.Profile) (*DB, error) {
	if p == nil || !p.RedisEnabled() {
		return nil, errors.New("redis addr is not configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         p.RedisAddr,
		Password:     p.RedisPassword,
		DB:           p.RedisDB,
		DialTimeout:  p.RedisTimeout,
		ReadTimeout:  p.RedisTimeout,
		WriteTimeout: p.RedisTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), p.RedisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return &DB{
		client:      client,
		ttl:         p.RedisTTL,
		recentLimit: p.RedisRecentLimit,
		timeout:     p.RedisTimeout,
	}, nil
}

func (*DB) Kind() store.TierKind {
	return store.TierRedis
}

func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.op(ctx)
	defer cancel()
	return d.client.Ping(ctx).Err()
}

// Stats counts what retention still holds, via the per-collection id sets.
func (d *DB) Stats(ctx context.Context) (store.TierCounts, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	var counts store.TierCounts
	var err error
	if counts.Trajectories, err = d.client.SCard(ctx, idSetKey(nsTrajectory)).Result(); err != nil {
		return counts, errors.Wrap(err, "failed to count trajectories")
	}
	if counts.Strategies, err = d.client.SCard(ctx, idSetKey(nsStrategy)).Result(); err != nil {
		return counts, errors.Wrap(err, "failed to count strategies")
	}
	if counts.MemoryEntries, err = d.client.SCard(ctx, idSetKey(nsMemory)).Result(); err != nil {
		return counts, errors.Wrap(err, "failed to count memory entries")
	}
	return counts, nil
}

func (d *DB) Close() error {
	return d.client.Close()
}

func (d *DB) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func recordKey(ns, id string) string {
	return keyPrefix + ns + ":" + id
}

func recentKey(ns string) string {
	return keyPrefix + ns + ":recent"
}

func idSetKey(ns string) string {
	return keyPrefix + ns + ":ids"
}

// putRecord writes the JSON value with TTL and registers the id in the
// recent list and the id set, trimming retention in the same pipeline.
func (d *DB) putRecord(ctx context.Context, ns, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal record")
	}

	ctx, cancel := d.op(ctx)
	defer cancel()

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, recordKey(ns, id), data, d.ttl)
	pipe.LRem(ctx, recentKey(ns), 0, id)
	pipe.LPush(ctx, recentKey(ns), id)
	pipe.LTrim(ctx, recentKey(ns), 0, int64(d.recentLimit-1))
	pipe.SAdd(ctx, idSetKey(ns), id)
	pipe.Expire(ctx, recentKey(ns), d.ttl)
	pipe.Expire(ctx, idSetKey(ns), d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to write record")
	}
	return nil
}

// getRecord reads the JSON value for id into out. Returns false on miss or
// expiry.
func (d *DB) getRecord(ctx context.Context, ns, id string, out any) (bool, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	data, err := d.client.Get(ctx, recordKey(ns, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to read record")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, errors.Wrap(err, "failed to unmarshal record")
	}
	return true, nil
}

// recentIDs returns the retained ids, newest first.
func (d *DB) recentIDs(ctx context.Context, ns string) ([]string, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	ids, err := d.client.LRange(ctx, recentKey(ns), 0, int64(d.recentLimit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read recent ids")
	}
	return ids, nil
}

// randomIDs draws up to n distinct ids from the id set.
func (d *DB) randomIDs(ctx context.Context, ns string, n int) ([]string, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	ids, err := d.client.SRandMemberN(ctx, idSetKey(ns), int64(n)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample ids")
	}
	return ids, nil
}

// removeRecord deletes the value and unregisters the id.
func (d *DB) removeRecord(ctx context.Context, ns, id string) error {
	ctx, cancel := d.op(ctx)
	defer cancel()

	pipe := d.client.TxPipeline()
	pipe.Del(ctx, recordKey(ns, id))
	pipe.LRem(ctx, recentKey(ns), 0, id)
	pipe.SRem(ctx, idSetKey(ns), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to remove record")
	}
	return nil
}
