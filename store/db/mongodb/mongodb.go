// Package mongodb implements the durable storage tier on MongoDB: indexed,
// queryable, with native text search and random-sample aggregation.
package mongodb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bkauto3/swarmsync/internal/profile"
	"github.com/bkauto3/swarmsync/store"
)

const (
	collTrajectories = "trajectories"
	collStrategies   = "strategies"
	collMemories     = "memories"
)

// DB is the durable tier handle. Every call is bounded by the profile's
// durable-tier timeout; a timeout or connection failure is reported to the
// store core as a tier failure, never retried inline.
type DB struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

var _ store.TierDriver = (*DB)(nil)

// NewDB connects to MongoDB, verifies the connection and bootstraps the
// collection indexes.
func NewDB(p *profile.Profile) (*DB, error) {
	if p == nil || !p.MongoEnabled() {
		return nil, errors.New("mongo uri is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.MongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(p.MongoURI).
		SetConnectTimeout(p.MongoTimeout).
		SetServerSelectionTimeout(p.MongoTimeout))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping mongo")
	}

	d := &DB{
		client:  client,
		db:      client.Database(p.MongoDatabase),
		timeout: p.MongoTimeout,
	}
	if err := d.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ensure indexes")
	}
	return d, nil
}

func (*DB) Kind() store.TierKind {
	return store.TierMongo
}

func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.op(ctx)
	defer cancel()
	return d.client.Ping(ctx, readpref.Primary())
}

func (d *DB) Stats(ctx context.Context) (store.TierCounts, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	var counts store.TierCounts
	var err error
	if counts.Trajectories, err = d.db.Collection(collTrajectories).CountDocuments(ctx, bson.M{}); err != nil {
		return counts, errors.Wrap(err, "failed to count trajectories")
	}
	if counts.Strategies, err = d.db.Collection(collStrategies).CountDocuments(ctx, bson.M{}); err != nil {
		return counts, errors.Wrap(err, "failed to count strategies")
	}
	if counts.MemoryEntries, err = d.db.Collection(collMemories).CountDocuments(ctx, bson.M{}); err != nil {
		return counts, errors.Wrap(err, "failed to count memory entries")
	}
	return counts, nil
}

func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.client.Disconnect(ctx)
}

// op bounds a single durable-tier call.
func (d *DB) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func (d *DB) ensureIndexes(ctx context.Context) error {
	_, err := d.db.Collection(collTrajectories).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "agent_id", Value: 1}}},
		{Keys: bson.D{{Key: "final_outcome", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "reward", Value: -1}}},
		{Keys: bson.D{{Key: "agent_id", Value: 1}, {Key: "final_outcome", Value: 1}}},
		{Keys: bson.D{{Key: "task_description", Value: "text"}}},
	})
	if err != nil {
		return err
	}
	_, err = d.db.Collection(collStrategies).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "description", Value: "text"}, {Key: "context", Value: "text"}}},
		{Keys: bson.D{{Key: "win_rate", Value: -1}}},
	})
	if err != nil {
		return err
	}
	_, err = d.db.Collection(collMemories).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "kind", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return err
}
