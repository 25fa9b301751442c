package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bkauto3/swarmsync/store"
)

func (d *DB) UpsertStrategy(ctx context.Context, create *store.StrategyNugget) error {
	ctx, cancel := d.op(ctx)
	defer cancel()

	_, err := d.db.Collection(collStrategies).ReplaceOne(ctx,
		bson.M{"_id": create.ID}, create, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, "failed to upsert strategy")
	}
	return nil
}

func (d *DB) GetStrategy(ctx context.Context, id string) (*store.StrategyNugget, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	var s store.StrategyNugget
	err := d.db.Collection(collStrategies).FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get strategy")
	}
	return &s, nil
}

func (d *DB) ListStrategies(ctx context.Context, find *store.FindStrategy) ([]*store.StrategyNugget, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	sort := bson.D{{Key: "created_at", Value: -1}}
	if find.OrderByWinRate {
		sort = bson.D{{Key: "win_rate", Value: -1}}
	}
	opts := options.Find().SetSort(sort)
	if find.Limit > 0 {
		opts.SetLimit(int64(find.Limit))
	}

	cursor, err := d.db.Collection(collStrategies).Find(ctx, strategyFilter(find), opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list strategies")
	}
	defer cursor.Close(ctx)

	list := make([]*store.StrategyNugget, 0)
	if err := cursor.All(ctx, &list); err != nil {
		return nil, errors.Wrap(err, "failed to decode strategies")
	}
	return list, nil
}

// SearchStrategies ranks by the text-relevance index score first and win
// rate second, so equally relevant strategies with higher win rates come
// back earlier.
func (d *DB) SearchStrategies(ctx context.Context, text string, limit int, minWinRate float64) ([]*store.StrategyNugget, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	filter := bson.M{
		"$text":    bson.M{"$search": text},
		"win_rate": bson.M{"$gte": minWinRate},
	}
	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.D{
			{Key: "score", Value: bson.M{"$meta": "textScore"}},
			{Key: "win_rate", Value: -1},
		})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := d.db.Collection(collStrategies).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search strategies")
	}
	defer cursor.Close(ctx)

	list := make([]*store.StrategyNugget, 0)
	if err := cursor.All(ctx, &list); err != nil {
		return nil, errors.Wrap(err, "failed to decode searched strategies")
	}
	return list, nil
}

func (d *DB) SampleStrategies(ctx context.Context, find *store.FindStrategy, n int) ([]*store.StrategyNugget, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: strategyFilter(find)}},
		bson.D{{Key: "$sample", Value: bson.M{"size": n}}},
	}
	cursor, err := d.db.Collection(collStrategies).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample strategies")
	}
	defer cursor.Close(ctx)

	list := make([]*store.StrategyNugget, 0, n)
	if err := cursor.All(ctx, &list); err != nil {
		return nil, errors.Wrap(err, "failed to decode sampled strategies")
	}
	return list, nil
}

// RecordStrategyOutcome advances both counters in a single atomic $inc, then
// recomputes the derived win rate in a follow-up $set. The derived field is
// monotonically re-derivable from the counters, so the second write being
// separate is acceptable.
func (d *DB) RecordStrategyOutcome(ctx context.Context, id string, success bool) (*store.StrategyNugget, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	inc := bson.M{"usage_count": 1}
	if success {
		inc["success_count"] = 1
	}
	var updated store.StrategyNugget
	err := d.db.Collection(collStrategies).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": inc},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to record strategy outcome")
	}

	updated.WinRate = float64(updated.SuccessCount) / float64(updated.UsageCount)
	if _, err := d.db.Collection(collStrategies).UpdateByID(ctx, id,
		bson.M{"$set": bson.M{"win_rate": updated.WinRate}}); err != nil {
		return nil, errors.Wrap(err, "failed to update strategy win rate")
	}
	return &updated, nil
}

func (d *DB) DeleteStrategies(ctx context.Context, delete *store.DeleteStrategy) (int64, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	filter := bson.M{}
	if delete.ID != nil {
		filter["_id"] = *delete.ID
	}
	if delete.WinRateBelow != nil {
		filter["win_rate"] = bson.M{"$lt": *delete.WinRateBelow}
	}
	result, err := d.db.Collection(collStrategies).DeleteMany(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete strategies")
	}
	return result.DeletedCount, nil
}

func strategyFilter(find *store.FindStrategy) bson.M {
	filter := bson.M{}
	if find == nil {
		return filter
	}
	if find.ID != nil {
		filter["_id"] = *find.ID
	}
	if find.Environment != nil {
		filter["environment"] = *find.Environment
	}
	if find.Outcome != nil {
		filter["outcome"] = *find.Outcome
	}
	if find.MinWinRate != nil {
		filter["win_rate"] = bson.M{"$gte": *find.MinWinRate}
	}
	return filter
}
