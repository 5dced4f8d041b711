package cache

import (
	"context"
	"time"
)

// Backing is an optional durable layer behind the in-memory store. It is
// consulted read-through on a memory miss and written best-effort on every
// insert, so cached completions survive a process restart. A backing failure
// never fails the in-memory operation; it is logged and the store degrades
// to memory-only behavior.
type Backing interface {
	// Fetch retrieves a serialized entry. Returns nil, nil on miss.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Store persists a serialized entry with the given TTL.
	Store(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys from the backing.
	Delete(ctx context.Context, keys ...string) error

	// Flush removes every entry owned by this backing.
	Flush(ctx context.Context) error

	// Ping checks backing health.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
