package regioncache

import (
	"context"
	"errors"
	"fmt"

	c "github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/consistency"
	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
)

// Operation names carried by AccessError and hooks.
const (
	OpGet                = "get"
	OpGetAllowingTimeout = "get_allowing_timeout"
	OpPut                = "put"
	OpPutAllowingTimeout = "put_allowing_timeout"
	OpPutForExternalRead = "put_for_external_read"
	OpRemove             = "remove"
	OpRemoveAll          = "remove_all"
	OpCreateRegionRoot   = "create_region_root"
	OpChildrenNames      = "children_names"
	OpNotifyEvict        = "notify_evict"
	OpNotifyEvictAll     = "notify_evict_all"
)

type access[V any] struct {
	*Broadcaster

	st    store.Store
	codec c.Codec[V]
	log   Logger
	hooks Hooks
	mode  consistency.Mode
}

func newAccess[V any](opts Options[V]) (*access[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("regioncache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("regioncache: codec is required")
	}

	a := &access[V]{
		st:    opts.Store,
		codec: opts.Codec,
		log:   coalesce[Logger](opts.Logger, NopLogger{}),
		hooks: coalesce[Hooks](opts.Hooks, NopHooks{}),
		mode:  consistency.Classify(opts.Store.CacheMode()),
	}
	a.Broadcaster = &Broadcaster{st: a.st, log: a.log, hooks: a.hooks}
	return a, nil
}

func (a *access[V]) Store() store.Store            { return a.st }
func (a *access[V]) Mode() consistency.Mode        { return a.mode }
func (a *access[V]) IsClusteredInvalidation() bool { return a.mode.IsInvalidation() }
func (a *access[V]) IsClusteredReplication() bool  { return a.mode.IsReplication() }

// IsSynchronous is true for both REPL_SYNC and INVALIDATION_SYNC. It says a
// write waits for the cluster, not that data is copied.
func (a *access[V]) IsSynchronous() bool { return a.mode.IsSynchronous() }

// address resolves region/key, refusing the marker subtree name.
func address(op string, region fqn.Fqn, key string) (fqn.Fqn, error) {
	f := fqn.ForKey(region, key)
	if key == fqn.InternalNode {
		return f, &AccessError{Op: op, Fqn: f, Err: ErrReservedKey}
	}
	return f, nil
}

func (a *access[V]) Get(ctx context.Context, region fqn.Fqn, key string) (V, bool, error) {
	return a.get(ctx, OpGet, region, key, false)
}

func (a *access[V]) GetAllowingTimeout(ctx context.Context, region fqn.Fqn, key string) (V, bool, error) {
	return a.get(ctx, OpGetAllowingTimeout, region, key, true)
}

func (a *access[V]) get(ctx context.Context, op string, region fqn.Fqn, key string, missOnTimeout bool) (V, bool, error) {
	var zero V
	f, err := address(op, region, key)
	if err != nil {
		return zero, false, err
	}
	raw, ok, err := a.st.Get(ctx, f, fqn.Item, nil)
	if err != nil {
		if missOnTimeout && errors.Is(err, store.ErrLockTimeout) {
			a.hooks.LockTimeout(op, f.String())
			a.log.Debug("lock timeout treated as miss", Fields{"fqn": f.String()})
			return zero, false, nil
		}
		return zero, false, &AccessError{Op: op, Fqn: f, Err: err}
	}
	if !ok {
		return zero, false, nil
	}
	v, err := a.codec.Decode(raw)
	if err != nil {
		a.hooks.DecodeError(f.String(), err)
		return zero, false, &AccessError{Op: op, Fqn: f, Err: fmt.Errorf("decode: %w", err)}
	}
	return v, true, nil
}

func (a *access[V]) Put(ctx context.Context, region fqn.Fqn, key string, value V, opt *store.Option) error {
	f, err := address(OpPut, region, key)
	if err != nil {
		return err
	}
	return a.put(ctx, OpPut, f, value, opt)
}

func (a *access[V]) PutAllowingTimeout(ctx context.Context, region fqn.Fqn, key string, value V, opt *store.Option) error {
	f, err := address(OpPutAllowingTimeout, region, key)
	if err != nil {
		return err
	}
	err = a.put(ctx, OpPutAllowingTimeout, f, value, opt)
	if err != nil && errors.Is(err, store.ErrLockTimeout) {
		a.hooks.LockTimeout(OpPutAllowingTimeout, f.String())
		a.log.Debug("lock timeout on put ignored", Fields{"fqn": f.String()})
		return nil
	}
	return err
}

func (a *access[V]) put(ctx context.Context, op string, f fqn.Fqn, value V, opt *store.Option) error {
	b, err := a.codec.Encode(value)
	if err != nil {
		return &AccessError{Op: op, Fqn: f, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := a.st.Put(ctx, f, fqn.Item, b, opt); err != nil {
		return &AccessError{Op: op, Fqn: f, Err: err}
	}
	return nil
}

func (a *access[V]) PutForExternalRead(ctx context.Context, region fqn.Fqn, key string, value V, opt *store.Option) (bool, error) {
	f, err := address(OpPutForExternalRead, region, key)
	if err != nil {
		return false, err
	}
	b, err := a.codec.Encode(value)
	if err != nil {
		return false, &AccessError{Op: OpPutForExternalRead, Fqn: f, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := a.st.PutForExternalRead(ctx, f, fqn.Item, b, opt); err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			// someone else is writing this entry; let them
			a.hooks.ExternalReadSkipped(f.String())
			a.log.Debug("put for external read skipped (locked)", Fields{"fqn": f.String()})
			return false, nil
		}
		return false, &AccessError{Op: OpPutForExternalRead, Fqn: f, Err: err}
	}
	return true, nil
}

func (a *access[V]) Remove(ctx context.Context, region fqn.Fqn, key string, opt *store.Option) error {
	f, err := address(OpRemove, region, key)
	if err != nil {
		return err
	}
	if _, err := a.st.RemoveNode(ctx, f, opt); err != nil {
		return &AccessError{Op: OpRemove, Fqn: f, Err: err}
	}
	return nil
}

func (a *access[V]) RemoveAll(ctx context.Context, region fqn.Fqn, opt *store.Option) error {
	if _, err := a.st.RemoveNode(ctx, region, opt); err != nil {
		return &AccessError{Op: OpRemoveAll, Fqn: region, Err: err}
	}
	return nil
}

func (a *access[V]) CreateRegionRoot(ctx context.Context, region fqn.Fqn, localOnly, resident bool, v store.DataVersion) (store.NodeInfo, error) {
	opt := &store.Option{LocalOnly: localOnly}
	fail := func(err error) (store.NodeInfo, error) {
		return store.NodeInfo{}, &AccessError{Op: OpCreateRegionRoot, Fqn: region, Err: err}
	}

	var info store.NodeInfo
	if v == nil {
		var err error
		if info, err = a.st.AddChild(ctx, region, opt); err != nil {
			return fail(err)
		}
	} else {
		// AddChild does not carry a data version. Writing the dummy slot with
		// the version creates the node at the same address with the version
		// attached, so keep this two-step form even though it looks redundant.
		opt.DataVersion = v
		if err := a.st.Put(ctx, region, fqn.Dummy, []byte(fqn.Dummy), opt); err != nil {
			return fail(err)
		}
		n, ok, err := a.st.GetNode(ctx, region)
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(errors.New("region root removed right after creation"))
		}
		info = n
	}

	if resident {
		if err := a.st.SetResident(ctx, region, true); err != nil {
			return fail(err)
		}
		info.Resident = true
	}
	a.hooks.RegionRootCreated(region.String(), v != nil)
	a.log.Debug("region root created", Fields{"region": region.String(), "local": localOnly, "resident": resident})
	return info, nil
}

func (a *access[V]) ChildrenNames(ctx context.Context, region fqn.Fqn) ([]string, error) {
	names, ok, err := a.st.ChildrenNames(ctx, region)
	if err != nil {
		return nil, &AccessError{Op: OpChildrenNames, Fqn: region, Err: err}
	}
	out := make([]string, 0, len(names))
	if !ok {
		return out, nil
	}
	for _, n := range names {
		if n != fqn.InternalNode {
			out = append(out, n)
		}
	}
	return out, nil
}
