// Package memory is an in-process member of a tree-structured cache cluster.
//
// Every node carries a reader/writer lock with a bounded acquisition time, an
// optional data version checked optimistically on versioned writes, and a
// resident flag that pins it against eviction. Writes are applied locally and
// then shipped to peers through a Transport according to the cache mode:
// replication modes copy the change, invalidation modes make peers drop the
// node, LOCAL keeps everything on this member.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/regioncache/consistency"
	"github.com/unkn0wn-root/regioncache/fqn"
	gen "github.com/unkn0wn-root/regioncache/genstore"
	"github.com/unkn0wn-root/regioncache/store"
	"github.com/unkn0wn-root/regioncache/version"
)

const (
	defaultLockTimeout = 10 * time.Second
	defaultMaxReaders  = 1024
)

// Config for a member. Only Member is required when Transport is set.
type Config struct {
	Member      string        // cluster-unique id
	CacheMode   string        // native mode, e.g. "REPL_SYNC"; "" => LOCAL
	LockTimeout time.Duration // 0 => 10s
	MaxReaders  int64         // concurrent readers per node; 0 => 1024
	Transport   Transport     // nil => no peers
	GenStore    gen.GenStore  // nil => in-process counters owned by the store
}

type Store struct {
	member      string
	native      string
	mode        consistency.Mode
	lockTimeout time.Duration
	maxReaders  int64
	transport   Transport
	gen         gen.GenStore
	ownsGen     bool

	mu   sync.RWMutex
	root *node

	listeners store.Listeners
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ store.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Transport != nil && cfg.Member == "" {
		return nil, errors.New("memory: member id is required with a transport")
	}
	s := &Store{
		member:      cfg.Member,
		native:      cfg.CacheMode,
		mode:        consistency.Classify(cfg.CacheMode),
		lockTimeout: cfg.LockTimeout,
		maxReaders:  cfg.MaxReaders,
		transport:   cfg.Transport,
		gen:         cfg.GenStore,
	}
	if s.native == "" {
		s.native = consistency.NativeLocal
	}
	if s.lockTimeout == 0 {
		s.lockTimeout = defaultLockTimeout
	}
	if s.maxReaders <= 0 {
		s.maxReaders = defaultMaxReaders
	}
	if s.gen == nil {
		s.gen = gen.NewLocalGenStore(0, 0)
		s.ownsGen = true
	}
	s.root = newNode(fqn.Root(), nil, s.maxReaders)

	if s.transport != nil {
		if err := s.transport.Join(s.member, s.apply); err != nil {
			if s.ownsGen {
				_ = s.gen.Close(context.Background())
			}
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Member() string         { return s.member }
func (s *Store) CacheMode() string      { return s.native }
func (s *Store) Mode() consistency.Mode { return s.mode }

func (s *Store) Subscribe(l store.Listener) func() { return s.listeners.Add(l) }

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, f fqn.Fqn, slot string, opt *store.Option) ([]byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	n := s.lookup(f)
	if n == nil {
		return nil, false, nil
	}
	release, err := s.readLock(ctx, n, opt)
	if err != nil {
		return nil, false, err
	}
	defer release()
	if n.removed.Load() {
		return nil, false, nil
	}
	v, ok := n.data[slot]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (s *Store) Put(ctx context.Context, f fqn.Fqn, slot string, value []byte, opt *store.Option) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	v, err := s.write(ctx, f, s.timeout(opt), opt.Version(), func(n *node) bool {
		n.data[slot] = clone(value)
		return true
	})
	if err != nil {
		return err
	}
	s.listeners.Emit(store.Event{Type: store.NodeModified, Fqn: f, Origin: s.member, Local: true})

	switch {
	case s.mode.IsReplication():
		return s.propagate(ctx, Message{Op: OpPut, Fqn: f, Slot: slot, Value: clone(value), Version: v}, opt)
	case s.mode.IsInvalidation():
		return s.propagate(ctx, Message{Op: OpInvalidate, Fqn: f}, opt)
	}
	return nil
}

func (s *Store) PutForExternalRead(ctx context.Context, f fqn.Fqn, slot string, value []byte, opt *store.Option) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var written bool
	v, err := s.write(ctx, f, -1, opt.Version(), func(n *node) bool {
		if _, ok := n.data[slot]; ok {
			return false
		}
		n.data[slot] = clone(value)
		written = true
		return true
	})
	if errors.Is(err, store.ErrVersionConflict) {
		// a newer write already landed; the loaded value is stale
		return nil
	}
	if err != nil || !written {
		return err
	}
	s.listeners.Emit(store.Event{Type: store.NodeModified, Fqn: f, Origin: s.member, Local: true})

	// a read-populate never invalidates peers; under replication it is
	// shipped asynchronously and peers apply it only if they lack the slot
	if s.mode.IsReplication() {
		async := &store.Option{ForceAsynchronous: true, LocalOnly: opt.Local()}
		return s.propagate(ctx, Message{Op: OpPutForExternalRead, Fqn: f, Slot: slot, Value: clone(value), Version: v}, async)
	}
	return nil
}

// AddChild creates f if missing. It does not attach opt.DataVersion: the
// created node only gets an implicit version. Write a slot with the version
// to create a versioned node.
func (s *Store) AddChild(ctx context.Context, f fqn.Fqn, opt *store.Option) (store.NodeInfo, error) {
	if err := s.checkOpen(); err != nil {
		return store.NodeInfo{}, err
	}
	n, created := s.ensure(f)
	if created {
		release, err := s.writeLock(ctx, n, s.timeout(opt))
		if err != nil {
			return store.NodeInfo{}, err
		}
		if n.version == nil {
			n.version = s.implicit(ctx, f)
		}
		release()
		s.listeners.Emit(store.Event{Type: store.NodeModified, Fqn: f, Origin: s.member, Local: true})
		if s.mode.IsReplication() {
			if err := s.propagate(ctx, Message{Op: OpAddChild, Fqn: f}, opt); err != nil {
				return store.NodeInfo{}, err
			}
		}
	}
	info, ok, err := s.GetNode(ctx, f)
	if err != nil {
		return store.NodeInfo{}, err
	}
	if !ok {
		// removed concurrently right after creation
		return store.NodeInfo{Fqn: f}, nil
	}
	return info, nil
}

func (s *Store) GetNode(ctx context.Context, f fqn.Fqn) (store.NodeInfo, bool, error) {
	if err := s.checkOpen(); err != nil {
		return store.NodeInfo{}, false, err
	}
	n := s.lookup(f)
	if n == nil {
		return store.NodeInfo{}, false, nil
	}
	release, err := s.readLock(ctx, n, nil)
	if err != nil {
		return store.NodeInfo{}, false, err
	}
	defer release()
	if n.removed.Load() {
		return store.NodeInfo{}, false, nil
	}
	return store.NodeInfo{Fqn: f, Version: n.version, Resident: n.resident}, true, nil
}

func (s *Store) SetResident(ctx context.Context, f fqn.Fqn, resident bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	n := s.lookup(f)
	if n == nil {
		return nil
	}
	release, err := s.writeLock(ctx, n, s.lockTimeout)
	if err != nil {
		return err
	}
	n.resident = resident
	release()
	return nil
}

func (s *Store) ChildrenNames(_ context.Context, f fqn.Fqn) ([]string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.find(f)
	if n == nil {
		return nil, false, nil
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true, nil
}

func (s *Store) RemoveNode(ctx context.Context, f fqn.Fqn, opt *store.Option) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	removed, err := s.remove(ctx, f, s.timeout(opt), opt.Version(), false)
	if err != nil || !removed {
		return removed, err
	}
	s.listeners.Emit(store.Event{Type: store.NodeRemoved, Fqn: f, Origin: s.member, Local: true})

	switch {
	case s.mode.IsReplication():
		return true, s.propagate(ctx, Message{Op: OpRemove, Fqn: f}, opt)
	case s.mode.IsInvalidation():
		return true, s.propagate(ctx, Message{Op: OpInvalidate, Fqn: f}, opt)
	}
	return true, nil
}

// Evict drops f and its subtree from this member only. Resident nodes are kept.
func (s *Store) Evict(ctx context.Context, f fqn.Fqn) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	evicted, err := s.remove(ctx, f, s.lockTimeout, nil, true)
	if err != nil || !evicted {
		return evicted, err
	}
	s.listeners.Emit(store.Event{Type: store.NodeEvicted, Fqn: f, Origin: s.member, Local: true})
	return true, nil
}

// Lock takes f's writer lock the way an in-flight unit of work would,
// creating the node if needed. Call unlock exactly once.
func (s *Store) Lock(ctx context.Context, f fqn.Fqn) (unlock func(), err error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	n, _ := s.ensure(f)
	release, err := s.writeLock(ctx, n, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.transport != nil {
			err = s.transport.Leave(s.member)
		}
		if s.ownsGen {
			_ = s.gen.Close(ctx)
		}
	})
	return err
}

// write resolves (creating) f, takes its writer lock, runs the optimistic
// check and applies mutate. It returns the version the node ends up with.
func (s *Store) write(ctx context.Context, f fqn.Fqn, timeout time.Duration, incoming store.DataVersion, mutate func(*node) bool) (store.DataVersion, error) {
	for {
		v, retry, err := s.writeOnce(ctx, f, timeout, incoming, mutate)
		if !retry {
			return v, err
		}
	}
}

func (s *Store) writeOnce(ctx context.Context, f fqn.Fqn, timeout time.Duration, incoming store.DataVersion, mutate func(*node) bool) (store.DataVersion, bool, error) {
	n, _ := s.ensure(f)
	release, err := s.writeLock(ctx, n, timeout)
	if err != nil {
		return nil, false, err
	}
	defer release()
	if n.removed.Load() {
		// detached while we waited; resolve the path again
		return nil, true, nil
	}
	v, err := s.mutate(ctx, n, incoming, mutate)
	return v, false, err
}

func (s *Store) mutate(ctx context.Context, n *node, incoming store.DataVersion, mutate func(*node) bool) (store.DataVersion, error) {
	if err := store.CheckVersion(n.version, incoming); err != nil {
		return nil, err
	}
	if !mutate(n) {
		return n.version, nil
	}
	if incoming != nil {
		n.version = incoming
		if nv, ok := incoming.(version.Numeric); ok {
			_, _ = s.gen.Advance(ctx, n.f.String(), uint64(nv))
		}
	} else {
		n.version = s.implicit(ctx, n.f)
	}
	return n.version, nil
}

func (s *Store) implicit(ctx context.Context, f fqn.Fqn) store.DataVersion {
	g, err := s.gen.Bump(ctx, f.String())
	if err != nil {
		return nil
	}
	return version.Numeric(g)
}

// remove write-locks the whole subtree of f and detaches it. The tree root
// itself is never detached, only emptied.
func (s *Store) remove(ctx context.Context, f fqn.Fqn, timeout time.Duration, incoming store.DataVersion, evict bool) (bool, error) {
	s.mu.RLock()
	n := s.find(f)
	var nodes []*node
	if n != nil {
		nodes = subtree(n)
	}
	s.mu.RUnlock()
	if n == nil {
		return false, nil
	}

	releases := make([]func(), 0, len(nodes))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, x := range nodes {
		release, err := s.writeLock(ctx, x, timeout)
		if err != nil {
			return false, err
		}
		releases = append(releases, release)
	}

	if n.removed.Load() {
		return false, nil
	}
	if evict && n.resident {
		return false, nil
	}
	if err := store.CheckVersion(n.version, incoming); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.root {
		for _, c := range n.children {
			for _, x := range subtree(c) {
				x.removed.Store(true)
			}
		}
		n.children = make(map[string]*node)
		n.data = make(map[string][]byte)
		return true, nil
	}
	for _, x := range subtree(n) {
		x.removed.Store(true)
	}
	delete(n.parent.children, f.Last())
	return true, nil
}

func (s *Store) propagate(ctx context.Context, msg Message, opt *store.Option) error {
	if s.transport == nil || opt.Local() || !s.mode.IsClustered() {
		return nil
	}
	wait := s.mode.IsSynchronous()
	if opt != nil {
		switch {
		case opt.ForceSynchronous:
			wait = true
		case opt.ForceAsynchronous:
			wait = false
		}
	}
	msg.Origin = s.member
	return s.transport.Broadcast(ctx, msg, wait)
}

// apply runs a peer's change on this member. It never propagates further.
func (s *Store) apply(ctx context.Context, msg Message) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ev := store.Event{Fqn: msg.Fqn, Origin: msg.Origin}

	switch msg.Op {
	case OpPut, OpPutForExternalRead:
		timeout := s.lockTimeout
		if msg.Op == OpPutForExternalRead {
			timeout = -1
		}
		var written bool
		_, err := s.write(ctx, msg.Fqn, timeout, nil, func(n *node) bool {
			if msg.Op == OpPutForExternalRead {
				if _, ok := n.data[msg.Slot]; ok {
					return false
				}
			}
			n.data[msg.Slot] = clone(msg.Value)
			// the origin already validated; adopt its version as-is
			n.version = msg.Version
			written = true
			return false
		})
		if err != nil {
			if msg.Op == OpPutForExternalRead && errors.Is(err, store.ErrLockTimeout) {
				return nil
			}
			return err
		}
		if !written {
			return nil
		}
		if nv, ok := msg.Version.(version.Numeric); ok {
			_, _ = s.gen.Advance(ctx, msg.Fqn.String(), uint64(nv))
		}
		ev.Type = store.NodeModified

	case OpAddChild:
		if _, created := s.ensure(msg.Fqn); !created {
			return nil
		}
		ev.Type = store.NodeModified

	case OpRemove:
		removed, err := s.remove(ctx, msg.Fqn, s.lockTimeout, nil, false)
		if err != nil || !removed {
			return err
		}
		ev.Type = store.NodeRemoved

	case OpInvalidate:
		if _, err := s.remove(ctx, msg.Fqn, s.lockTimeout, nil, false); err != nil {
			return err
		}
		// raised even when nothing was cached here: listeners watching
		// eviction markers rely on it
		ev.Type = store.NodeInvalidated

	default:
		return nil
	}
	s.listeners.Emit(ev)
	return nil
}
