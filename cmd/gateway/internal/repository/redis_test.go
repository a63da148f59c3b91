package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/repository"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *repository.RedisStore, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, repository.NewRedisStore(client, time.Minute), client
}

func TestRedisStore_SaveSnapshotSetsKeyWithTTL(t *testing.T) {
	mr, store, _ := setupRedis(t)
	defer store.Close()

	payload := []byte(`{"type":"tick","point":{"date":"2024-11-05T12:00:00.000Z","probability":61}}`)
	if err := store.SaveSnapshot(context.Background(), protocol.ChannelHistory, "btc-100k", payload); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	key := repository.SnapshotKey(protocol.ChannelHistory, "btc-100k")
	got, err := mr.Get(key)
	if err != nil {
		t.Fatalf("Key %s missing: %v", key, err)
	}
	if got != string(payload) {
		t.Errorf("Stored payload mismatch: %s", got)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Errorf("Expected 1m TTL, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists(key) {
		t.Error("Snapshot should expire after its TTL")
	}
}

func TestRedisStore_PublishesToSubscribers(t *testing.T) {
	_, store, client := setupRedis(t)
	defer store.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, repository.UpdatesChannel(protocol.ChannelOrderbook, "btc-100k"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	payload := []byte(`{"type":"update","midPrice":0.5,"levels":[]}`)
	if err := store.SaveSnapshot(ctx, protocol.ChannelOrderbook, "btc-100k", payload); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != string(payload) {
			t.Errorf("Unexpected payload %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for published frame")
	}
}

func TestRedisStore_ErrorWhenUnavailable(t *testing.T) {
	mr, store, _ := setupRedis(t)
	mr.Close()

	if err := store.SaveSnapshot(context.Background(), protocol.ChannelHistory, "x", []byte(`{}`)); err == nil {
		t.Error("Expected error with Redis down")
	}
}
