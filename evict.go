package regioncache

import (
	"context"

	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
)

// Broadcaster announces evictions by writing marker nodes under a region's
// internal subtree. The write is the notification: the store's own
// replication or invalidation carries it to every member, and listeners
// (see nearcache) translate the marker into a local eviction. There is no
// read-back and no acknowledgment beyond what the cache mode provides.
type Broadcaster struct {
	st    store.Store
	log   Logger
	hooks Hooks
}

// NewBroadcaster builds a standalone broadcaster. Access embeds one.
func NewBroadcaster(st store.Store, log Logger, hooks Hooks) *Broadcaster {
	return &Broadcaster{
		st:    st,
		log:   coalesce[Logger](log, NopLogger{}),
		hooks: coalesce[Hooks](hooks, NopHooks{}),
	}
}

// NotifyEvict writes the marker region/internal/<member|local>/<key>.
func (b *Broadcaster) NotifyEvict(ctx context.Context, region fqn.Fqn, member, key string, opt *store.Option) error {
	return b.notify(ctx, OpNotifyEvict, fqn.Notification(region, member, key), opt)
}

// NotifyEvictAll writes the marker region/internal/<member|local>.
func (b *Broadcaster) NotifyEvictAll(ctx context.Context, region fqn.Fqn, member string, opt *store.Option) error {
	return b.notify(ctx, OpNotifyEvictAll, fqn.Notification(region, member), opt)
}

func (b *Broadcaster) notify(ctx context.Context, op string, marker fqn.Fqn, opt *store.Option) error {
	if err := b.st.Put(ctx, marker, fqn.Item, []byte(fqn.Dummy), opt); err != nil {
		return &AccessError{Op: op, Fqn: marker, Err: err}
	}
	b.hooks.EvictionBroadcast(marker.String())
	b.log.Debug("eviction broadcast", Fields{"marker": marker.String()})
	return nil
}
