// Package putfromload decides whether a value loaded from the system of record
// may still be cached.
//
// A loader reads the database, then offers the value to the cache. If the entry
// was invalidated in between, caching the loaded value would resurrect stale
// data. The Validator tracks invalidations and in-flight loads so that such
// puts are refused:
//
//	v.RegisterPendingPut(key)   // before reading the database
//	... load ...
//	if v.Acquire(ctx, key) {    // before writing the cache
//		... put for external read ...
//		v.Release(key)
//	}
//
// Writers call InvalidateKey (or InvalidateRegion) before removing entries.
// A put that was not registered (a naked put) is refused for
// NakedPutInvalidationPeriod after an invalidation of its key or region.
package putfromload

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultNakedPutInvalidationPeriod = 20 * time.Second
	DefaultMaxPendingPutDelay         = 2 * time.Minute
	DefaultAcquireTimeout             = 100 * time.Millisecond
)

type Config struct {
	NakedPutInvalidationPeriod time.Duration // 0 => 20s
	MaxPendingPutDelay         time.Duration // 0 => 2m; older registrations are dropped
	AcquireTimeout             time.Duration // 0 => 100ms; wait for a concurrent invalidation
	Now                        func() time.Time
}

// Validator is safe for concurrent use.
type Validator struct {
	naked      time.Duration
	maxPending time.Duration
	acquireTO  time.Duration
	now        func() time.Time

	mu          sync.Mutex
	keys        map[string]*keyState
	removals    map[string]time.Time // key -> naked puts refused until
	regionUntil time.Time
	lastSweep   time.Time
}

type keyState struct {
	// sem serializes a put-from-load with invalidation of the same key.
	sem *semaphore.Weighted
	// pending holds registration times of loads that have not put yet.
	pending []time.Time
	// epoch moves on every invalidation; an acquirer that waited across one fails.
	epoch uint64
	refs  int
}

func New(cfg Config) *Validator {
	v := &Validator{
		naked:      cfg.NakedPutInvalidationPeriod,
		maxPending: cfg.MaxPendingPutDelay,
		acquireTO:  cfg.AcquireTimeout,
		now:        cfg.Now,
		keys:       make(map[string]*keyState),
		removals:   make(map[string]time.Time),
	}
	if v.naked <= 0 {
		v.naked = DefaultNakedPutInvalidationPeriod
	}
	if v.maxPending <= 0 {
		v.maxPending = DefaultMaxPendingPutDelay
	}
	if v.acquireTO <= 0 {
		v.acquireTO = DefaultAcquireTimeout
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// state returns key's state, creating it. Caller holds v.mu.
func (v *Validator) state(key string) *keyState {
	st, ok := v.keys[key]
	if !ok {
		st = &keyState{sem: semaphore.NewWeighted(1)}
		v.keys[key] = st
	}
	return st
}

// forget drops key's state once nothing references it. Caller holds v.mu.
func (v *Validator) forget(key string, st *keyState) {
	if st.refs == 0 && len(st.pending) == 0 && v.keys[key] == st {
		delete(v.keys, key)
	}
}

// expire drops registrations older than MaxPendingPutDelay. Caller holds v.mu.
func (v *Validator) expire(st *keyState, now time.Time) {
	cut := 0
	for cut < len(st.pending) && now.Sub(st.pending[cut]) > v.maxPending {
		cut++
	}
	st.pending = st.pending[cut:]
}

// sweep bounds memory held by abandoned registrations and old removals.
// Caller holds v.mu.
func (v *Validator) sweep(now time.Time) {
	if now.Sub(v.lastSweep) < v.naked {
		return
	}
	v.lastSweep = now
	for k, until := range v.removals {
		if !now.Before(until) {
			delete(v.removals, k)
		}
	}
	for k, st := range v.keys {
		v.expire(st, now)
		v.forget(k, st)
	}
}

// RegisterPendingPut records that a load of key is starting. A registered
// load may put even inside the naked-put window, unless key is invalidated
// after registration.
func (v *Validator) RegisterPendingPut(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	v.sweep(now)
	st := v.state(key)
	v.expire(st, now)
	st.pending = append(st.pending, now)
}

// Acquire reports whether a loaded value for key may be cached now. On true
// the caller holds key against invalidation and must call Release.
func (v *Validator) Acquire(ctx context.Context, key string) bool {
	v.mu.Lock()
	now := v.now()
	st := v.state(key)
	v.expire(st, now)

	ok := false
	if len(st.pending) > 0 {
		// consume the oldest registration
		st.pending = st.pending[1:]
		ok = true
	} else if now.After(v.regionUntil) {
		until, removed := v.removals[key]
		ok = !removed || now.After(until)
	}
	if !ok {
		v.forget(key, st)
		v.mu.Unlock()
		return false
	}
	st.refs++
	epoch := st.epoch
	v.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, v.acquireTO)
	err := st.sem.Acquire(wctx, 1)
	cancel()

	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil && st.epoch == epoch {
		return true
	}
	if err == nil {
		st.sem.Release(1)
	}
	st.refs--
	v.forget(key, st)
	return false
}

// Release ends a put started by a successful Acquire.
func (v *Validator) Release(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.keys[key]
	if !ok {
		return
	}
	st.sem.Release(1)
	st.refs--
	v.forget(key, st)
}

// InvalidateKey cancels pending loads of key and refuses naked puts for
// NakedPutInvalidationPeriod. It waits for an in-flight put of key to finish;
// false means ctx ended first.
func (v *Validator) InvalidateKey(ctx context.Context, key string) bool {
	v.mu.Lock()
	now := v.now()
	v.sweep(now)
	v.removals[key] = now.Add(v.naked)
	st := v.state(key)
	st.pending = nil
	st.epoch++
	st.refs++
	v.mu.Unlock()

	return v.drain(ctx, key, st)
}

// InvalidateRegion cancels every pending load and refuses naked puts for the
// whole region for NakedPutInvalidationPeriod.
func (v *Validator) InvalidateRegion(ctx context.Context) bool {
	v.mu.Lock()
	now := v.now()
	v.regionUntil = now.Add(v.naked)
	// the region window covers every per-key window
	clear(v.removals)
	held := make(map[string]*keyState, len(v.keys))
	for k, st := range v.keys {
		st.pending = nil
		st.epoch++
		st.refs++
		held[k] = st
	}
	v.mu.Unlock()

	ok := true
	for k, st := range held {
		if !v.drain(ctx, k, st) {
			ok = false
		}
	}
	return ok
}

// drain waits for st's holder to release, then drops the reference taken by
// the caller.
func (v *Validator) drain(ctx context.Context, key string, st *keyState) bool {
	err := st.sem.Acquire(ctx, 1)
	if err == nil {
		st.sem.Release(1)
	}
	v.mu.Lock()
	st.refs--
	v.forget(key, st)
	v.mu.Unlock()
	return err == nil
}

// Pending returns the number of live registrations for key.
func (v *Validator) Pending(key string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.keys[key]
	if !ok {
		return 0
	}
	v.expire(st, v.now())
	return len(st.pending)
}
