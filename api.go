package regioncache

import (
	"context"

	c "github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/consistency"
	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
)

// Access is the primitive cache surface entity, collection and query caches
// are built on. V is the caller's value type; serialization is handled by a
// pluggable Codec[V]. Keys are addressed inside a region as region/key and
// the value lives in the fqn.Item slot. The key fqn.InternalNode ("internal")
// is reserved for eviction markers and fails with ErrReservedKey.
//
// Every store fault comes back as *AccessError. Lock timeouts follow a
// per-operation policy:
//
//	Get, Put, Remove, RemoveAll, CreateRegionRoot  returned (errors.Is(err, ErrLockTimeout))
//	GetAllowingTimeout                              treated as a miss
//	PutAllowingTimeout                              swallowed
//	PutForExternalRead                              reported as false
type Access[V any] interface {
	Get(ctx context.Context, region fqn.Fqn, key string) (v V, ok bool, err error)
	GetAllowingTimeout(ctx context.Context, region fqn.Fqn, key string) (v V, ok bool, err error)

	Put(ctx context.Context, region fqn.Fqn, key string, value V, opt *store.Option) error
	PutAllowingTimeout(ctx context.Context, region fqn.Fqn, key string, value V, opt *store.Option) error
	// PutForExternalRead populates the cache after a miss. It never
	// overwrites and never invalidates peers; written is false when the
	// node was locked by another writer.
	PutForExternalRead(ctx context.Context, region fqn.Fqn, key string, value V, opt *store.Option) (written bool, err error)

	// Remove and RemoveAll usually run with version.CircumventChecksOption():
	// the remover cannot know the prior version.
	Remove(ctx context.Context, region fqn.Fqn, key string, opt *store.Option) error
	RemoveAll(ctx context.Context, region fqn.Fqn, opt *store.Option) error

	// CreateRegionRoot materializes region's root node. With a version the
	// node is created by a versioned write of the dummy slot; see access.go.
	CreateRegionRoot(ctx context.Context, region fqn.Fqn, localOnly, resident bool, v store.DataVersion) (store.NodeInfo, error)

	// ChildrenNames lists the keys cached under region, sorted. A missing
	// region yields an empty list, not an error.
	ChildrenNames(ctx context.Context, region fqn.Fqn) ([]string, error)

	// Eviction broadcast (see Broadcaster).
	NotifyEvict(ctx context.Context, region fqn.Fqn, member, key string, opt *store.Option) error
	NotifyEvictAll(ctx context.Context, region fqn.Fqn, member string, opt *store.Option) error

	// Consistency of the underlying store, fixed at construction.
	Mode() consistency.Mode
	IsClusteredInvalidation() bool
	IsClusteredReplication() bool
	IsSynchronous() bool

	Store() store.Store
}

// Options configure an Access. Only Store and Codec are required.
type Options[V any] struct {
	// Required
	Store store.Store
	Codec c.Codec[V]

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

func New[V any](opts Options[V]) (Access[V], error) {
	return newAccess[V](opts)
}
