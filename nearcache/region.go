// Package nearcache keeps a member-local copy of a region's values in a
// provider.Provider in front of the clustered tree cache.
//
// Local copies are stamped with a per-key generation. Any change observed on
// the tree (a write, a removal, an invalidation, an eviction marker addressed
// to this member) bumps the generation, so a copy read under an older
// generation is never served. Region-wide evictions move an epoch that is
// part of every provider key.
package nearcache

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/regioncache"
	c "github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/genstore"
	"github.com/unkn0wn-root/regioncache/internal/util"
	"github.com/unkn0wn-root/regioncache/internal/wire"
	"github.com/unkn0wn-root/regioncache/provider"
	"github.com/unkn0wn-root/regioncache/putfromload"
	"github.com/unkn0wn-root/regioncache/store"
	"github.com/unkn0wn-root/regioncache/version"
)

const defaultTTL = 10 * time.Minute

type Config[V any] struct {
	// Required
	Access   regioncache.Access[V]
	Region   fqn.Fqn
	Codec    c.Codec[V] // must match the Access codec
	Provider provider.Provider

	// Member is this member's id. Eviction markers naming it, or naming
	// fqn.InternalLocal, drop local copies.
	Member string
	// TTL of local copies (0 => 10m). A bigcache provider declines copies
	// whose TTL is shorter than its life window.
	TTL       time.Duration
	Validator *putfromload.Validator // nil => putfromload defaults
	Logger    regioncache.Logger     // nil => NopLogger
}

// Region is safe for concurrent use.
type Region[V any] struct {
	acc    regioncache.Access[V]
	region fqn.Fqn
	codec  c.Codec[V]
	prov   provider.Provider
	member string
	ttl    time.Duration
	pfl    *putfromload.Validator
	log    regioncache.Logger

	gen   *genstore.LocalGenStore
	epoch atomic.Uint64
}

func New[V any](cfg Config[V]) (*Region[V], error) {
	if cfg.Access == nil {
		return nil, errors.New("nearcache: access is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("nearcache: codec is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("nearcache: provider is required")
	}
	r := &Region[V]{
		acc:    cfg.Access,
		region: cfg.Region,
		codec:  cfg.Codec,
		prov:   cfg.Provider,
		member: cfg.Member,
		ttl:    cfg.TTL,
		pfl:    cfg.Validator,
		log:    cfg.Logger,
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.pfl == nil {
		r.pfl = putfromload.New(putfromload.Config{})
	}
	if r.log == nil {
		r.log = regioncache.NopLogger{}
	}
	// a counter must outlive every copy stamped with it
	r.gen = genstore.NewLocalGenStore(r.ttl, 2*r.ttl)
	return r, nil
}

func (r *Region[V]) Validator() *putfromload.Validator { return r.pfl }

func (r *Region[V]) nearKey(epoch uint64, key string) string {
	return util.Key(r.region.String()+"@"+strconv.FormatUint(epoch, 10), "k", key)
}

func (r *Region[V]) genKey(key string) string { return fqn.ForKey(r.region, key).String() }

// Get serves the local copy when it is current, otherwise reads the tree
// (a lock timeout reads as a miss) and keeps a local copy of a hit.
func (r *Region[V]) Get(ctx context.Context, key string) (V, bool, error) {
	epoch := r.epoch.Load()
	g, _ := r.gen.Snapshot(ctx, r.genKey(key))
	nk := r.nearKey(epoch, key)

	if v, ok := r.local(ctx, nk, g); ok {
		return v, true, nil
	}

	v, ok, err := r.acc.GetAllowingTimeout(ctx, r.region, key)
	if err != nil || !ok {
		return v, ok, err
	}
	r.fill(ctx, nk, g, v)
	return v, true, nil
}

func (r *Region[V]) local(ctx context.Context, nk string, g uint64) (V, bool) {
	var zero V
	raw, ok, err := r.prov.Get(ctx, nk)
	if err != nil {
		r.log.Warn("near cache read failed", regioncache.Fields{"key": nk, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	eg, payload, err := wire.DecodeEntry(raw)
	if err == nil && eg == g {
		v, err := r.codec.Decode(payload)
		if err == nil {
			return v, true
		}
	}
	// stale or corrupt; best-effort cleanup
	_ = r.prov.Del(ctx, nk)
	return zero, false
}

func (r *Region[V]) fill(ctx context.Context, nk string, g uint64, v V) {
	payload, err := r.codec.Encode(v)
	if err != nil {
		r.log.Warn("near cache encode failed", regioncache.Fields{"key": nk, "err": err})
		return
	}
	b := wire.EncodeEntry(g, payload)
	if ok, err := r.prov.Set(ctx, nk, b, int64(len(b)), r.ttl); err != nil {
		r.log.Warn("near cache write failed", regioncache.Fields{"key": nk, "err": err})
	} else if !ok {
		r.log.Debug("near cache write rejected", regioncache.Fields{"key": nk})
	}
}

// RegisterPendingPut marks the start of a database load of key; see
// putfromload.Validator.
func (r *Region[V]) RegisterPendingPut(key string) { r.pfl.RegisterPendingPut(key) }

// PutFromLoad caches a value just loaded from the system of record. It is
// refused (false, nil) when key was invalidated since the load began or when
// another writer holds the node. An existing tree value is never overwritten.
func (r *Region[V]) PutFromLoad(ctx context.Context, key string, v V, dv store.DataVersion) (bool, error) {
	if !r.pfl.Acquire(ctx, key) {
		r.log.Debug("put from load refused", regioncache.Fields{"region": r.region.String(), "key": key})
		return false, nil
	}
	defer r.pfl.Release(key)

	// the write itself raises an event that bumps key's generation, so the
	// local copy is left to the next Get
	return r.acc.PutForExternalRead(ctx, r.region, key, v, version.Option(dv))
}

// Remove invalidates key for pending loads, then removes it from the tree
// regardless of its stored version.
func (r *Region[V]) Remove(ctx context.Context, key string) error {
	r.pfl.InvalidateKey(ctx, key)
	r.drop(ctx, key)
	return r.acc.Remove(ctx, r.region, key, version.CircumventChecksOption())
}

// RemoveAll invalidates the whole region, then removes it from the tree.
func (r *Region[V]) RemoveAll(ctx context.Context) error {
	r.pfl.InvalidateRegion(ctx)
	r.dropAll()
	return r.acc.RemoveAll(ctx, r.region, version.CircumventChecksOption())
}

// Evict drops key here and tells every member to drop its copy. The tree
// entry itself is kept.
func (r *Region[V]) Evict(ctx context.Context, key string) error {
	r.drop(ctx, key)
	return r.acc.NotifyEvict(ctx, r.region, "", key, nil)
}

// EvictAll drops every local copy of the region here and on every member.
func (r *Region[V]) EvictAll(ctx context.Context) error {
	r.dropAll()
	return r.acc.NotifyEvictAll(ctx, r.region, "", nil)
}

func (r *Region[V]) drop(ctx context.Context, key string) {
	_, _ = r.gen.Bump(ctx, r.genKey(key))
}

func (r *Region[V]) dropAll() { r.epoch.Add(1) }

// Listen subscribes to st (the store behind Access) and drops local copies
// as the tree changes. Call the returned func to stop.
func (r *Region[V]) Listen(st store.Store) (cancel func()) {
	return st.Subscribe(r.observe)
}

func (r *Region[V]) observe(e store.Event) {
	ctx := context.Background()
	if n, ok := fqn.ParseNotification(r.region, e.Fqn); ok {
		if n.Member != fqn.InternalLocal && n.Member != r.member {
			return
		}
		if n.All {
			r.dropAll()
		} else {
			r.drop(ctx, n.Key)
		}
		r.log.Debug("eviction marker applied", regioncache.Fields{"marker": e.Fqn.String(), "event": e.Type.String()})
		return
	}
	if fqn.IsInternal(r.region, e.Fqn) {
		return
	}

	switch {
	case e.Fqn.IsChildOf(r.region):
		r.drop(ctx, e.Fqn.Get(r.region.Len()))
	case e.Fqn.Equal(r.region) || r.region.IsChildOf(e.Fqn):
		// the region root only changes content through its dummy slot
		if e.Type != store.NodeModified {
			r.dropAll()
		}
	}
}

// Close stops the generation sweeper. The provider belongs to the caller.
func (r *Region[V]) Close(ctx context.Context) error {
	return r.gen.Close(ctx)
}
