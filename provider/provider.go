// Package provider is the byte store a near cache keeps member-local copies in.
//
// A provider only ever holds copies: losing an entry costs a read from the
// tree store, never data. Entries carry their own generation stamp (see
// nearcache), so providers need no invalidation logic beyond Del and TTLs.
//
// Near-cache keys look like "<region>@<epoch>:k:<key>". The nearcache package
// owns that keyspace; other code sharing a provider must stay out of it.
package provider

import (
	"context"
	"time"
)

// Provider must be safe for concurrent use. Get returns exactly the bytes
// given to Set: no framing, compression or copying tricks that change them.
type Provider interface {
	// Get reports (nil, false, nil) on a miss and (nil, false, err) when the
	// backing store failed.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl (<= 0 means no expiry where supported). cost is
	// the entry size in bytes for stores that account for it. ok is false when
	// the store dropped the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del is best effort; a missing key is not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}
