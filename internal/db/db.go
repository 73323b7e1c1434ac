// Package db defines the key-value contract backing derived-data caches.
// Durable storage of documents belongs to the retrieval service; this store
// only ever holds recomputable data.
package db

import (
	"context"
	"time"
)

// Store is the key-value store contract.
type Store interface {
	Pinger
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	WaitForReady(ctx context.Context, timeout time.Duration) error
	Close()
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
