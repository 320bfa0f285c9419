// Package cache provides the TTL key-value stores that hold fixture snapshots.
// Business logic never reads these directly; the fixtures service owns the
// read-through and refresh contract.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// NoExpiry is the TTL reported for keys stored without an expiration.
const NoExpiry = time.Duration(-1)

// Store is a TTL-capable key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}

// Expirer is implemented by stores that need explicit expired-entry cleanup.
// Redis expires keys itself and does not implement it.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
