package repository

import (
	"context"
)

// SnapshotStore mirrors the latest frame per (channel, entity) for
// collaborators outside the process. It is write-only from the gateway.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, channel, id string, payload []byte) error
	Close() error
}

// NoopStore is used when no Redis address is configured.
type NoopStore struct{}

func (NoopStore) SaveSnapshot(ctx context.Context, channel, id string, payload []byte) error {
	return nil
}

func (NoopStore) Close() error { return nil }
