package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "feed:"
	channelPrefix = "feed."
)

// Compile-time check to ensure RedisStore implements SnapshotStore
var _ SnapshotStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func SnapshotKey(channel, id string) string { return keyPrefix + channel + ":" + id }

func UpdatesChannel(channel, id string) string { return channelPrefix + channel + "." + id }

// SaveSnapshot stores the frame as the latest snapshot and publishes it in
// one round trip.
func (r *RedisStore) SaveSnapshot(ctx context.Context, channel, id string, payload []byte) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, SnapshotKey(channel, id), payload, r.ttl)
	pipe.Publish(ctx, UpdatesChannel(channel, id), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror %s/%s: %w", channel, id, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
