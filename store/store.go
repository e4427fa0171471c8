// Package store defines the tree-structured distributed cache that regioncache
// sits in front of.
//
// A Store addresses nodes by fqn.Fqn; each node holds named byte slots.
// Implementations MUST be byte-for-byte transparent for slot values and safe for
// concurrent use. Lock acquisition that runs out of time MUST surface as an error
// matching ErrLockTimeout so callers can apply their own timeout policy.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/regioncache/fqn"
)

var (
	// ErrLockTimeout is returned when a node lock could not be acquired in time.
	ErrLockTimeout = errors.New("store: lock acquisition timed out")
	// ErrVersionConflict is returned when a versioned write loses the
	// optimistic check against the node's stored version.
	ErrVersionConflict = errors.New("store: data version conflict")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// DataVersion is an optimistic-concurrency strategy attached to a write.
//
// On a versioned write the store asks the node's stored version whether it is
// newer than the incoming one; if so the write is rejected with
// ErrVersionConflict.
type DataVersion interface {
	NewerThan(other DataVersion) bool
}

// Option overrides store behavior for a single invocation.
// A nil *Option means store defaults.
type Option struct {
	// LocalOnly keeps the write on this member: no replication, no invalidation.
	LocalOnly bool
	// DataVersion replaces the store's implicit version for this write.
	DataVersion DataVersion
	// ForceSynchronous / ForceAsynchronous override the cache mode's
	// propagation style for this call. ForceSynchronous wins if both are set.
	ForceSynchronous  bool
	ForceAsynchronous bool
	// LockTimeout overrides the lock acquisition timeout. 0 => store default,
	// negative => a single non-blocking attempt.
	LockTimeout time.Duration
}

// Version returns the explicit data version, nil-safe.
func (o *Option) Version() DataVersion {
	if o == nil {
		return nil
	}
	return o.DataVersion
}

// Local reports whether the call must stay on this member, nil-safe.
func (o *Option) Local() bool { return o != nil && o.LocalOnly }

// NodeInfo is a snapshot of a node's metadata.
type NodeInfo struct {
	Fqn      fqn.Fqn
	Version  DataVersion
	Resident bool
}

// Store is the tree cache contract.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) when the node or
	// slot is missing.
	Get(ctx context.Context, f fqn.Fqn, slot string, opt *Option) ([]byte, bool, error)

	// Put writes a slot, creating the node and any missing ancestors.
	Put(ctx context.Context, f fqn.Fqn, slot string, value []byte, opt *Option) error

	// PutForExternalRead writes a slot only if it is absent, fails fast
	// (ErrLockTimeout) when the node is locked, and never invalidates peers.
	PutForExternalRead(ctx context.Context, f fqn.Fqn, slot string, value []byte, opt *Option) error

	// RemoveNode removes a node with its subtree. removed is false if it did not exist.
	RemoveNode(ctx context.Context, f fqn.Fqn, opt *Option) (removed bool, err error)

	// AddChild creates a node (and ancestors) if absent and returns it.
	AddChild(ctx context.Context, f fqn.Fqn, opt *Option) (NodeInfo, error)

	// GetNode resolves a node without creating it.
	GetNode(ctx context.Context, f fqn.Fqn) (NodeInfo, bool, error)

	// SetResident pins (or unpins) a node against eviction.
	SetResident(ctx context.Context, f fqn.Fqn, resident bool) error

	// ChildrenNames lists direct children. ok is false when f does not exist.
	ChildrenNames(ctx context.Context, f fqn.Fqn) (names []string, ok bool, err error)

	// CacheMode returns the native cache mode (e.g. "REPL_SYNC").
	CacheMode() string

	// Subscribe registers a listener for node events, local and remote.
	Subscribe(l Listener) (cancel func())

	Close(ctx context.Context) error
}
