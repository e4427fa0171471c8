// Package redis is a tree store shared by all members through one Redis.
//
// Layout under Prefix:
//
//	<prefix>:n:<path>  node blob (slots, version, resident flag)
//	<prefix>:c:<path>  set of child names
//	<prefix>:l:<path>  writer lease (SET NX PX, released by compare-and-delete)
//	<prefix>:events    pub/sub channel carrying node events between members
//
// Data is shared, so "replication" only decides how peers hear about a change:
// in invalidation modes remote modifications and removals arrive as
// NodeInvalidated. Reads never take the lease.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/regioncache/consistency"
	"github.com/unkn0wn-root/regioncache/fqn"
	gen "github.com/unkn0wn-root/regioncache/genstore"
	"github.com/unkn0wn-root/regioncache/internal/util"
	"github.com/unkn0wn-root/regioncache/internal/wire"
	"github.com/unkn0wn-root/regioncache/store"
	"github.com/unkn0wn-root/regioncache/version"
)

var ErrNilClient = errors.New("redis store: nil client")

const (
	defaultPrefix      = "rc"
	defaultLockTimeout = 10 * time.Second
	defaultLeaseTTL    = 30 * time.Second
)

// unlockScript deletes the lease only if we still own it.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type Config struct {
	Client goredis.UniversalClient
	Prefix string // key namespace; default "rc"
	// Member identifies this store on the events channel. Empty => a
	// generated id, unique per store.
	Member string
	// CacheMode defaults to REPL_SYNC.
	CacheMode   string
	LockTimeout time.Duration // 0 => 10s
	// LeaseTTL bounds how long a crashed writer can hold a node. 0 => 30s.
	LeaseTTL time.Duration
	// GenStore defaults to a RedisGenStore on Client namespaced by Prefix.
	GenStore    gen.GenStore
	CloseClient bool // set true only if this store exclusively owns the client
}

type Store struct {
	rdb         goredis.UniversalClient
	prefix      string
	member      string
	nonce       string // lease tokens
	native      string
	mode        consistency.Mode
	lockTimeout time.Duration
	leaseTTL    time.Duration
	gen         gen.GenStore
	closeClient bool

	seq       atomic.Uint64
	listeners store.Listeners

	ps        *goredis.PubSub
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store{
		rdb:         cfg.Client,
		prefix:      coalesce(cfg.Prefix, defaultPrefix),
		member:      cfg.Member,
		nonce:       nuid.Next(),
		native:      coalesce(cfg.CacheMode, consistency.NativeReplSync),
		lockTimeout: cfg.LockTimeout,
		leaseTTL:    cfg.LeaseTTL,
		gen:         cfg.GenStore,
		closeClient: cfg.CloseClient,
		done:        make(chan struct{}),
	}
	if s.member == "" {
		s.member = "redis-" + s.nonce
	}
	s.mode = consistency.Classify(s.native)
	if s.lockTimeout == 0 {
		s.lockTimeout = defaultLockTimeout
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = defaultLeaseTTL
	}
	if s.gen == nil {
		s.gen = gen.NewRedisGenStore(s.rdb, s.prefix)
	}

	s.ps = s.rdb.Subscribe(ctx, s.channel())
	if _, err := s.ps.Receive(ctx); err != nil {
		_ = s.ps.Close()
		return nil, fmt.Errorf("redis store: subscribe: %w", err)
	}
	go s.listen()
	return s, nil
}

func coalesce(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Store) channel() string { return s.prefix + ":events" }

func (s *Store) key(kind string, f fqn.Fqn) string {
	return util.Key(s.prefix, kind, f.String())
}

func (s *Store) CacheMode() string { return s.native }

func (s *Store) Member() string { return s.member }

func (s *Store) Subscribe(l store.Listener) func() { return s.listeners.Add(l) }

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) timeout(opt *store.Option) time.Duration {
	if opt != nil && opt.LockTimeout != 0 {
		return opt.LockTimeout
	}
	return s.lockTimeout
}

// lock takes f's writer lease, retrying with backoff until timeout.
// A negative timeout makes a single attempt.
func (s *Store) lock(ctx context.Context, f fqn.Fqn, timeout time.Duration) (func(), error) {
	key := s.key("l", f)
	token := fmt.Sprintf("%s:%s:%d", s.member, s.nonce, s.seq.Add(1))
	deadline := time.Now().Add(timeout)
	backoff := 2 * time.Millisecond

	for {
		ok, err := s.rdb.SetNX(ctx, key, token, s.leaseTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = unlockScript.Run(context.Background(), s.rdb, []string{key}, token).Err()
			}, nil
		}
		if timeout < 0 || !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", store.ErrLockTimeout, f)
		}
		wait := backoff
		if left := time.Until(deadline); left < wait {
			wait = left
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

func (s *Store) load(ctx context.Context, f fqn.Fqn) (wire.Node, bool, error) {
	b, err := s.rdb.Get(ctx, s.key("n", f)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return wire.Node{}, f.IsRoot(), nil
	}
	if err != nil {
		return wire.Node{}, false, err
	}
	n, err := wire.DecodeNode(b)
	if err != nil {
		return wire.Node{}, false, fmt.Errorf("redis store: node %s: %w", f, err)
	}
	return n, true, nil
}

func slot(n wire.Node, name string) ([]byte, bool) {
	for _, s := range n.Slots {
		if s.Name == name {
			return s.Value, true
		}
	}
	return nil, false
}

func setSlot(n *wire.Node, name string, value []byte) {
	for i := range n.Slots {
		if n.Slots[i].Name == name {
			n.Slots[i].Value = value
			return
		}
	}
	n.Slots = append(n.Slots, wire.Slot{Name: name, Value: value})
}

// link queues creation of f's missing ancestors and child-set entries.
func (s *Store) link(ctx context.Context, pipe goredis.Pipeliner, f fqn.Fqn) error {
	empty, err := wire.EncodeNode(wire.Node{})
	if err != nil {
		return err
	}
	for cur := f; !cur.IsRoot(); cur = cur.Parent() {
		parent := cur.Parent()
		pipe.SAdd(ctx, s.key("c", parent), cur.Last())
		if !parent.IsRoot() {
			pipe.SetNX(ctx, s.key("n", parent), empty, 0)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, f fqn.Fqn, name string, _ *store.Option) ([]byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	n, ok, err := s.load(ctx, f)
	if err != nil || !ok {
		return nil, false, err
	}
	v, ok := slot(n, name)
	return v, ok, nil
}

// write runs mutate on f's node under its lease and stores the result with
// the incoming or an implicit version. written is false when mutate declined.
func (s *Store) write(ctx context.Context, f fqn.Fqn, timeout time.Duration, incoming store.DataVersion, mutate func(*wire.Node) bool) (written bool, err error) {
	unlock, err := s.lock(ctx, f, timeout)
	if err != nil {
		return false, err
	}
	defer unlock()

	n, _, err := s.load(ctx, f)
	if err != nil {
		return false, err
	}
	stored, err := version.FromWire(n.Version)
	if err != nil {
		return false, err
	}
	if err := store.CheckVersion(stored, incoming); err != nil {
		return false, err
	}
	if !mutate(&n) {
		return false, nil
	}

	v := incoming
	if v == nil {
		g, err := s.gen.Bump(ctx, f.String())
		if err != nil {
			return false, fmt.Errorf("redis store: implicit version: %w", err)
		}
		v = version.Numeric(g)
	} else if nv, ok := v.(version.Numeric); ok {
		_, _ = s.gen.Advance(ctx, f.String(), uint64(nv))
	}
	if n.Version, err = version.ToWire(v); err != nil {
		return false, err
	}
	b, err := wire.EncodeNode(n)
	if err != nil {
		return false, err
	}

	pipe := s.rdb.TxPipeline()
	if err := s.link(ctx, pipe, f); err != nil {
		return false, err
	}
	pipe.Set(ctx, s.key("n", f), b, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Put(ctx context.Context, f fqn.Fqn, name string, value []byte, opt *store.Option) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.write(ctx, f, s.timeout(opt), opt.Version(), func(n *wire.Node) bool {
		setSlot(n, name, value)
		return true
	}); err != nil {
		return err
	}
	return s.notify(ctx, store.NodeModified, f, opt)
}

func (s *Store) PutForExternalRead(ctx context.Context, f fqn.Fqn, name string, value []byte, opt *store.Option) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	written, err := s.write(ctx, f, -1, opt.Version(), func(n *wire.Node) bool {
		if _, ok := slot(*n, name); ok {
			return false
		}
		setSlot(n, name, value)
		return true
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil
	}
	if err != nil || !written {
		return err
	}
	if s.mode.IsInvalidation() {
		// a read-populate must not make peers drop their copies
		s.listeners.Emit(store.Event{Type: store.NodeModified, Fqn: f, Origin: s.member, Local: true})
		return nil
	}
	return s.notify(ctx, store.NodeModified, f, opt)
}

// AddChild creates f with an implicit version if missing; opt.DataVersion is
// not applied.
func (s *Store) AddChild(ctx context.Context, f fqn.Fqn, opt *store.Option) (store.NodeInfo, error) {
	if err := s.checkOpen(); err != nil {
		return store.NodeInfo{}, err
	}
	if _, ok, err := s.load(ctx, f); err != nil {
		return store.NodeInfo{}, err
	} else if !ok {
		created, err := s.write(ctx, f, s.timeout(opt), nil, func(n *wire.Node) bool {
			return n.Version.Tag == 0 && len(n.Slots) == 0
		})
		if err != nil {
			return store.NodeInfo{}, err
		}
		if created {
			if err := s.notify(ctx, store.NodeModified, f, opt); err != nil {
				return store.NodeInfo{}, err
			}
		}
	}
	info, _, err := s.GetNode(ctx, f)
	return info, err
}

func (s *Store) GetNode(ctx context.Context, f fqn.Fqn) (store.NodeInfo, bool, error) {
	if err := s.checkOpen(); err != nil {
		return store.NodeInfo{}, false, err
	}
	n, ok, err := s.load(ctx, f)
	if err != nil || !ok {
		return store.NodeInfo{}, false, err
	}
	v, err := version.FromWire(n.Version)
	if err != nil {
		return store.NodeInfo{}, false, err
	}
	return store.NodeInfo{Fqn: f, Version: v, Resident: n.Resident}, true, nil
}

func (s *Store) SetResident(ctx context.Context, f fqn.Fqn, resident bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, f, s.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()
	n, ok, err := s.load(ctx, f)
	if err != nil || !ok {
		return err
	}
	n.Resident = resident
	b, err := wire.EncodeNode(n)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("n", f), b, 0).Err()
}

func (s *Store) ChildrenNames(ctx context.Context, f fqn.Fqn) ([]string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	if !f.IsRoot() {
		n, err := s.rdb.Exists(ctx, s.key("n", f)).Result()
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			return nil, false, nil
		}
	}
	names, err := s.rdb.SMembers(ctx, s.key("c", f)).Result()
	if err != nil {
		return nil, false, err
	}
	sort.Strings(names)
	return names, true, nil
}

func (s *Store) RemoveNode(ctx context.Context, f fqn.Fqn, opt *store.Option) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	unlock, err := s.lock(ctx, f, s.timeout(opt))
	if err != nil {
		return false, err
	}
	removed, err := s.removeLocked(ctx, f, opt.Version())
	unlock()
	if err != nil || !removed {
		return removed, err
	}
	return true, s.notify(ctx, store.NodeRemoved, f, opt)
}

func (s *Store) removeLocked(ctx context.Context, f fqn.Fqn, incoming store.DataVersion) (bool, error) {
	n, ok, err := s.load(ctx, f)
	if err != nil || !ok {
		return false, err
	}
	stored, err := version.FromWire(n.Version)
	if err != nil {
		return false, err
	}
	if err := store.CheckVersion(stored, incoming); err != nil {
		return false, err
	}

	var keys []string
	queue := []fqn.Fqn{f}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		keys = append(keys, s.key("n", cur), s.key("c", cur))
		names, err := s.rdb.SMembers(ctx, s.key("c", cur)).Result()
		if err != nil {
			return false, err
		}
		for _, name := range names {
			queue = append(queue, cur.Child(name))
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	if !f.IsRoot() {
		pipe.SRem(ctx, s.key("c", f.Parent()), f.Last())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.ps.Close()
		<-s.done
		if s.closeClient {
			err = errors.Join(err, s.rdb.Close())
		}
	})
	return err
}
