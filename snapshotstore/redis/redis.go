package redis

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/evlund/eventsource/core"
)

// Redis snapshot store. Snapshots are kept in one sorted set per aggregate
// with the version as score, which gives latest, at-or-before and retention
// operations directly from sorted set commands.
type Redis struct {
	client redis.UniversalClient
}

// Open the snapshot store with a redis client
func Open(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Save persists the snapshot. A snapshot at an already stored version replaces it.
func (r *Redis) Save(ctx context.Context, snapshot core.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	key := aggregateKey(snapshot.AggregateType, snapshot.AggregateID)
	score := strconv.FormatUint(uint64(snapshot.Version), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, score, score)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(snapshot.Version), Member: data})
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the snapshot with the highest version
func (r *Redis) Get(ctx context.Context, id, aggregateType string) (core.Snapshot, error) {
	values, err := r.client.ZRevRange(ctx, aggregateKey(aggregateType, id), 0, 0).Result()
	if err != nil {
		return core.Snapshot{}, err
	}
	return unmarshalFirst(values)
}

// GetAtOrBefore returns the snapshot with the highest version not exceeding maxVersion
func (r *Redis) GetAtOrBefore(ctx context.Context, id, aggregateType string, maxVersion core.Version) (core.Snapshot, error) {
	values, err := r.client.ZRevRangeByScore(ctx, aggregateKey(aggregateType, id), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatUint(uint64(maxVersion), 10),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return core.Snapshot{}, err
	}
	return unmarshalFirst(values)
}

// Delete removes all snapshots for the aggregate
func (r *Redis) Delete(ctx context.Context, id, aggregateType string) error {
	return r.client.Del(ctx, aggregateKey(aggregateType, id)).Err()
}

// DeleteBefore removes snapshots with version lower than the given version
func (r *Redis) DeleteBefore(ctx context.Context, id, aggregateType string, version core.Version) error {
	max := "(" + strconv.FormatUint(uint64(version), 10)
	return r.client.ZRemRangeByScore(ctx, aggregateKey(aggregateType, id), "-inf", max).Err()
}

func unmarshalFirst(values []string) (core.Snapshot, error) {
	if len(values) == 0 {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	snapshot := core.Snapshot{}
	if err := json.Unmarshal([]byte(values[0]), &snapshot); err != nil {
		return core.Snapshot{}, err
	}
	return snapshot, nil
}

func aggregateKey(aggregateType, aggregateID string) string {
	return "snapshot:" + aggregateType + ":" + aggregateID
}
