package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bkauto3/swarmsync/store"
)

func (d *DB) UpsertMemoryEntry(ctx context.Context, create *store.MemoryEntry) error {
	ctx, cancel := d.op(ctx)
	defer cancel()

	_, err := d.db.Collection(collMemories).ReplaceOne(ctx,
		bson.M{"_id": create.ID}, create, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, "failed to upsert memory entry")
	}
	return nil
}

func (d *DB) GetMemoryEntry(ctx context.Context, id string) (*store.MemoryEntry, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	var m store.MemoryEntry
	err := d.db.Collection(collMemories).FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get memory entry")
	}
	return &m, nil
}

func (d *DB) ListMemoryEntries(ctx context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	filter := bson.M{}
	if find.ID != nil {
		filter["_id"] = *find.ID
	}
	if find.Kind != nil {
		filter["kind"] = *find.Kind
	}
	if len(find.Tags) > 0 {
		filter["tags"] = bson.M{"$all": find.Tags}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if find.Limit > 0 {
		opts.SetLimit(int64(find.Limit))
	}

	cursor, err := d.db.Collection(collMemories).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory entries")
	}
	defer cursor.Close(ctx)

	list := make([]*store.MemoryEntry, 0)
	if err := cursor.All(ctx, &list); err != nil {
		return nil, errors.Wrap(err, "failed to decode memory entries")
	}
	return list, nil
}

// RecordMemoryOutcome advances both counters in a single atomic $inc, then
// recomputes the derived win rate in a follow-up $set. The derived field is
// re-derivable from the counters, so the second write being separate is
// acceptable.
func (d *DB) RecordMemoryOutcome(ctx context.Context, id string, success bool) (*store.MemoryEntry, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	inc := bson.M{"usage_count": 1}
	if success {
		inc["success_count"] = 1
	}
	var updated store.MemoryEntry
	err := d.db.Collection(collMemories).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": inc},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to record memory outcome")
	}

	updated.WinRate = float64(updated.SuccessCount) / float64(updated.UsageCount)
	if _, err := d.db.Collection(collMemories).UpdateByID(ctx, id,
		bson.M{"$set": bson.M{"win_rate": updated.WinRate}}); err != nil {
		return nil, errors.Wrap(err, "failed to update memory win rate")
	}
	return &updated, nil
}

func (d *DB) DeleteMemoryEntries(ctx context.Context, delete *store.DeleteMemoryEntry) (int64, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	filter := bson.M{}
	if delete.ID != nil {
		filter["_id"] = *delete.ID
	}
	if delete.Kind != nil {
		filter["kind"] = *delete.Kind
	}
	result, err := d.db.Collection(collMemories).DeleteMany(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete memory entries")
	}
	return result.DeletedCount, nil
}
