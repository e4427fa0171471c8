package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
)

// node is one tree node. children is guarded by Store.mu; data, version and
// resident are guarded by lock (readers weight 1, writers weight maxReaders).
type node struct {
	f    fqn.Fqn
	lock *semaphore.Weighted

	parent   *node
	children map[string]*node

	data     map[string][]byte
	version  store.DataVersion
	resident bool

	removed atomic.Bool
}

func newNode(f fqn.Fqn, parent *node, maxReaders int64) *node {
	return &node{
		f:        f,
		lock:     semaphore.NewWeighted(maxReaders),
		parent:   parent,
		children: make(map[string]*node),
		data:     make(map[string][]byte),
	}
}

// find resolves f without creating anything. Caller holds s.mu (read).
func (s *Store) find(f fqn.Fqn) *node {
	n := s.root
	for i := 0; i < f.Len(); i++ {
		c, ok := n.children[f.Get(i)]
		if !ok {
			return nil
		}
		n = c
	}
	return n
}

func (s *Store) lookup(f fqn.Fqn) *node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(f)
}

// ensure resolves f, creating missing nodes along the path.
func (s *Store) ensure(f fqn.Fqn) (n *node, created bool) {
	if n = s.lookup(f); n != nil {
		return n, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n = s.root
	for i := 0; i < f.Len(); i++ {
		name := f.Get(i)
		c, ok := n.children[name]
		if !ok {
			c = newNode(fqn.FromElements(f.Elements()[:i+1]...), n, s.maxReaders)
			n.children[name] = c
			created = true
		}
		n = c
	}
	return n, created
}

// subtree lists n and all descendants, parents first. Caller holds s.mu.
func subtree(n *node) []*node {
	out := []*node{n}
	for i := 0; i < len(out); i++ {
		names := make([]string, 0, len(out[i].children))
		for name := range out[i].children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, out[i].children[name])
		}
	}
	return out
}

func (s *Store) timeout(opt *store.Option) time.Duration {
	if opt != nil && opt.LockTimeout != 0 {
		return opt.LockTimeout
	}
	return s.lockTimeout
}

// acquire takes weight units of n's lock within the lock timeout.
func (s *Store) acquire(ctx context.Context, n *node, weight int64, timeout time.Duration) error {
	if timeout < 0 {
		if n.lock.TryAcquire(weight) {
			return nil
		}
		return fmt.Errorf("%w: %s", store.ErrLockTimeout, n.f)
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := n.lock.Acquire(lctx, weight); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s after %s", store.ErrLockTimeout, n.f, timeout)
	}
	return nil
}

func (s *Store) readLock(ctx context.Context, n *node, opt *store.Option) (func(), error) {
	if err := s.acquire(ctx, n, 1, s.timeout(opt)); err != nil {
		return nil, err
	}
	return func() { n.lock.Release(1) }, nil
}

func (s *Store) writeLock(ctx context.Context, n *node, timeout time.Duration) (func(), error) {
	if err := s.acquire(ctx, n, s.maxReaders, timeout); err != nil {
		return nil, err
	}
	return func() { n.lock.Release(s.maxReaders) }, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
