// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/regioncache"
//	"github.com/unkn0wn-root/regioncache/codec"
//	asynchook "github.com/unkn0wn-root/regioncache/hooks/async"
//	"github.com/unkn0wn-root/regioncache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    LockTimeoutEvery: 100, // sample: contention can be chatty
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	acc, _ := regioncache.New[Order](regioncache.Options[Order]{
//	    Store: st,
//	    Codec: codec.JSON[Order]{},
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/regioncache"
)

type Hooks struct {
	inner regioncache.Hooks
	q     chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ regioncache.Hooks = (*Hooks)(nil)

func New(inner regioncache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events and waits for queued ones to run.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped counts events discarded because the queue was full or closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) LockTimeout(op, f string)      { h.try(func() { h.inner.LockTimeout(op, f) }) }
func (h *Hooks) ExternalReadSkipped(f string)  { h.try(func() { h.inner.ExternalReadSkipped(f) }) }
func (h *Hooks) EvictionBroadcast(m string)    { h.try(func() { h.inner.EvictionBroadcast(m) }) }
func (h *Hooks) DecodeError(f string, e error) { h.try(func() { h.inner.DecodeError(f, e) }) }
func (h *Hooks) RegionRootCreated(r string, v bool) {
	h.try(func() { h.inner.RegionRootCreated(r, v) })
}
