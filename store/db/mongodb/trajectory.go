package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bkauto3/swarmsync/store"
)

func (d *DB) UpsertTrajectory(ctx context.Context, create *store.Trajectory) error {
	ctx, cancel := d.op(ctx)
	defer cancel()

	_, err := d.db.Collection(collTrajectories).ReplaceOne(ctx,
		bson.M{"_id": create.ID}, create, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, "failed to upsert trajectory")
	}
	return nil
}

func (d *DB) GetTrajectory(ctx context.Context, id string) (*store.Trajectory, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	var t store.Trajectory
	err := d.db.Collection(collTrajectories).FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get trajectory")
	}
	return &t, nil
}

func (d *DB) ListTrajectories(ctx context.Context, find *store.FindTrajectory) ([]*store.Trajectory, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	sort := bson.D{{Key: "created_at", Value: -1}}
	if find.OrderBy == store.OrderTrajectoryByRewardDesc {
		sort = bson.D{{Key: "reward", Value: -1}}
	}
	opts := options.Find().SetSort(sort)
	if find.Limit > 0 {
		opts.SetLimit(int64(find.Limit))
	}

	cursor, err := d.db.Collection(collTrajectories).Find(ctx, trajectoryFilter(find), opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list trajectories")
	}
	defer cursor.Close(ctx)

	list := make([]*store.Trajectory, 0)
	if err := cursor.All(ctx, &list); err != nil {
		return nil, errors.Wrap(err, "failed to decode trajectories")
	}
	return list, nil
}

// SampleTrajectories uses the backend-native $sample stage, which draws a
// uniform random subset of the matching population.
func (d *DB) SampleTrajectories(ctx context.Context, find *store.FindTrajectory, n int) ([]*store.Trajectory, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: trajectoryFilter(find)}},
		bson.D{{Key: "$sample", Value: bson.M{"size": n}}},
	}
	cursor, err := d.db.Collection(collTrajectories).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sample trajectories")
	}
	defer cursor.Close(ctx)

	list := make([]*store.Trajectory, 0, n)
	if err := cursor.All(ctx, &list); err != nil {
		return nil, errors.Wrap(err, "failed to decode sampled trajectories")
	}
	return list, nil
}

func (d *DB) DeleteTrajectories(ctx context.Context, delete *store.DeleteTrajectory) (int64, error) {
	ctx, cancel := d.op(ctx)
	defer cancel()

	filter := bson.M{}
	if delete.ID != nil {
		filter["_id"] = *delete.ID
	}
	if delete.CreatedBefore != nil {
		filter["created_at"] = bson.M{"$lt": *delete.CreatedBefore}
	}
	result, err := d.db.Collection(collTrajectories).DeleteMany(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete trajectories")
	}
	return result.DeletedCount, nil
}

func trajectoryFilter(find *store.FindTrajectory) bson.M {
	filter := bson.M{}
	if find == nil {
		return filter
	}
	if find.ID != nil {
		filter["_id"] = *find.ID
	}
	if find.AgentID != nil {
		filter["agent_id"] = *find.AgentID
	}
	if find.Outcome != nil {
		filter["final_outcome"] = *find.Outcome
	}
	if find.TaskText != nil && *find.TaskText != "" {
		filter["$text"] = bson.M{"$search": *find.TaskText}
	}
	if find.MinReward != nil {
		filter["reward"] = bson.M{"$gte": *find.MinReward}
	}
	return filter
}
