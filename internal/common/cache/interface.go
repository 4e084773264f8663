package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the grading worker needs: summary blobs
// and per-assignment scan locks.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error on a miss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error

	// TTL returns -2 when the key does not exist and -1 when it has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// LockOps defines owner-checked distributed locks. The token identifies the
// holder so a lock that expired and was taken by someone else is never
// released by the previous owner.
type LockOps interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) (bool, error)
}
