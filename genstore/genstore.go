// Package genstore hands out the implicit versions stores attach to writes
// that carry no explicit data version.
//
// Keys are node addresses (fqn strings). A counter only grows; a missing key
// reads as 0, so the first implicit version of a node is 1.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where node version counters live.
// Use LocalGenStore for a single member, RedisGenStore when members share Redis.
type GenStore interface {
	// Snapshot returns the current counter; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new counter.
	Bump(ctx context.Context, key string) (uint64, error)
	// Advance raises the counter to at least n (used when a replicated
	// version arrives from a peer) and returns the resulting value.
	Advance(ctx context.Context, key string, n uint64) (uint64, error)
	// Cleanup prunes old counters if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
