package redis

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
	"github.com/unkn0wn-root/regioncache/version"
)

var orders42 = fqn.FromString("orders/42")

func newClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newStore(t *testing.T, rdb *goredis.Client, cfg Config) *Store {
	t.Helper()
	cfg.Client = rdb
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []store.Event
}

func (r *recorder) listen(e store.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) remote() []store.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Event
	for _, e := range r.events {
		if !e.Local {
			out = append(out, e)
		}
	}
	return out
}

func TestNewNilClient(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	s := newStore(t, rdb, Config{})

	require.NoError(t, s.Put(ctx, orders42, fqn.Item, []byte("SHIPPED"), nil))
	v, ok, err := s.Get(ctx, orders42, fqn.Item, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SHIPPED", string(v))

	_, ok, err = s.Get(ctx, orders42, "missing", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, fqn.FromString("orders/7"), fqn.Item, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	names, ok, err := s.ChildrenNames(ctx, fqn.FromString("orders"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"42"}, names)

	names, ok, err = s.ChildrenNames(ctx, fqn.Root())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"orders"}, names)

	assert.Equal(t, "REPL_SYNC", s.CacheMode())
}

func TestVersions(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	s := newStore(t, rdb, Config{})

	require.NoError(t, s.Put(ctx, orders42, fqn.Item, []byte("a"), nil))
	info, ok, err := s.GetNode(ctx, orders42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, version.Numeric(1), info.Version)

	require.NoError(t, s.Put(ctx, orders42, fqn.Item, []byte("b"), version.Option(version.Numeric(5))))
	err = s.Put(ctx, orders42, fqn.Item, []byte("c"), version.Option(version.Numeric(4)))
	require.ErrorIs(t, err, store.ErrVersionConflict)

	require.NoError(t, s.Put(ctx, orders42, fqn.Item, []byte("d"), nil))
	info, _, _ = s.GetNode(ctx, orders42)
	assert.Equal(t, version.Numeric(6), info.Version)

	require.NoError(t, s.Put(ctx, orders42, fqn.Item, []byte("e"), version.NonLockingOption()))
	info, _, _ = s.GetNode(ctx, orders42)
	assert.Equal(t, version.NonLocking, info.Version)
}

func TestLeaseTimeout(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newClient(t)
	s := newStore(t, rdb, Config{LockTimeout: 30 * time.Millisecond})

	// another member holds the node
	require.NoError(t, mr.Set("rc:l:orders/42", "other:1"))

	err := s.Put(ctx, orders42, fqn.Item, []byte("x"), nil)
	require.ErrorIs(t, err, store.ErrLockTimeout)

	err = s.PutForExternalRead(ctx, orders42, fqn.Item, []byte("x"), nil)
	require.ErrorIs(t, err, store.ErrLockTimeout)

	_, err = s.RemoveNode(ctx, orders42, nil)
	require.ErrorIs(t, err, store.ErrLockTimeout)

	// reads do not take the lease
	_, _, err = s.Get(ctx, orders42, fqn.Item, nil)
	require.NoError(t, err)

	mr.Del("rc:l:orders/42")
	require.NoError(t, s.Put(ctx, orders42, fqn.Item, []byte("x"), nil))
	assert.False(t, mr.Exists("rc:l:orders/42"), "lease released")
}

func TestLeaseNotStolenOnRelease(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newClient(t)
	s := newStore(t, rdb, Config{})

	unlock, err := s.lock(ctx, orders42, time.Second)
	require.NoError(t, err)
	// lease expired and someone else took it
	require.NoError(t, mr.Set("rc:l:orders/42", "other:9"))
	unlock()

	got, err := mr.Get("rc:l:orders/42")
	require.NoError(t, err)
	assert.Equal(t, "other:9", got)
}

func TestPutForExternalRead(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	s := newStore(t, rdb, Config{})

	require.NoError(t, s.PutForExternalRead(ctx, orders42, fqn.Item, []byte("first"), nil))
	require.NoError(t, s.PutForExternalRead(ctx, orders42, fqn.Item, []byte("second"), nil))
	v, _, _ := s.Get(ctx, orders42, fqn.Item, nil)
	assert.Equal(t, "first", string(v))
}

func TestRemoveSubtree(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newClient(t)
	s := newStore(t, rdb, Config{})

	require.NoError(t, s.Put(ctx, fqn.FromString("orders/42/lines/1"), fqn.Item, []byte("x"), nil))
	require.NoError(t, s.Put(ctx, fqn.FromString("users/1"), fqn.Item, []byte("u"), nil))

	removed, err := s.RemoveNode(ctx, fqn.FromString("orders"), nil)
	require.NoError(t, err)
	assert.True(t, removed)

	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "rc:") {
			assert.NotContains(t, k, "orders", "leftover key")
		}
	}
	names, _, _ := s.ChildrenNames(ctx, fqn.Root())
	assert.Equal(t, []string{"users"}, names)

	removed, err = s.RemoveNode(ctx, fqn.FromString("orders"), nil)
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err := s.ChildrenNames(ctx, fqn.FromString("orders"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveVersionConflict(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	s := newStore(t, rdb, Config{})
	require.NoError(t, s.Put(ctx, orders42, fqn.Item, []byte("x"), version.Option(version.Numeric(3))))

	_, err := s.RemoveNode(ctx, orders42, version.Option(version.Numeric(2)))
	require.ErrorIs(t, err, store.ErrVersionConflict)
	removed, err := s.RemoveNode(ctx, orders42, version.CircumventChecksOption())
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestAddChildAndResident(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	s := newStore(t, rdb, Config{})
	region := fqn.FromString("orders")

	info, err := s.AddChild(ctx, region, version.Option(version.Numeric(50)))
	require.NoError(t, err)
	assert.Equal(t, version.Numeric(1), info.Version)

	again, err := s.AddChild(ctx, region, nil)
	require.NoError(t, err)
	assert.Equal(t, info.Version, again.Version)

	require.NoError(t, s.SetResident(ctx, region, true))
	info, _, _ = s.GetNode(ctx, region)
	assert.True(t, info.Resident)
}

func TestCorruptNode(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newClient(t)
	s := newStore(t, rdb, Config{})
	require.NoError(t, mr.Set("rc:n:orders/42", "garbage"))

	_, _, err := s.Get(ctx, orders42, fqn.Item, nil)
	assert.Error(t, err)
}

func TestEventsAcrossMembers(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	a := newStore(t, rdb, Config{Member: "a"})
	b := newStore(t, rdb, Config{Member: "b"})
	rec := &recorder{}
	b.Subscribe(rec.listen)

	require.NoError(t, a.Put(ctx, orders42, fqn.Item, []byte("x"), nil))
	require.NoError(t, a.Put(ctx, orders42, fqn.Item, []byte("y"), &store.Option{LocalOnly: true}))
	_, err := a.RemoveNode(ctx, orders42, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.remote()) == 2 }, time.Second, 5*time.Millisecond)
	got := rec.remote()
	assert.Equal(t, store.NodeModified, got[0].Type)
	assert.Equal(t, "a", got[0].Origin)
	assert.True(t, got[0].Fqn.Equal(orders42))
	assert.Equal(t, store.NodeRemoved, got[1].Type)

	// shared data: b sees a's write without any apply step
	require.NoError(t, a.Put(ctx, orders42, fqn.Item, []byte("z"), nil))
	v, ok, _ := b.Get(ctx, orders42, fqn.Item, nil)
	require.True(t, ok)
	assert.Equal(t, "z", string(v))
}

func TestDefaultMembersHearEachOther(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	a := newStore(t, rdb, Config{})
	b := newStore(t, rdb, Config{})
	require.NotEmpty(t, a.Member())
	assert.NotEqual(t, a.Member(), b.Member())
	assert.NotEqual(t, fqn.InternalLocal, a.Member())

	rec := &recorder{}
	b.Subscribe(rec.listen)
	marker := fqn.Notification(fqn.FromString("orders"), fqn.InternalLocal, "42")
	require.NoError(t, a.Put(ctx, marker, fqn.Item, []byte{1}, nil))

	require.Eventually(t, func() bool { return len(rec.remote()) == 1 }, time.Second, 5*time.Millisecond)
	got := rec.remote()[0]
	assert.Equal(t, a.Member(), got.Origin)
	assert.True(t, got.Fqn.Equal(marker))
}

func TestLeaseTokensDifferPerStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newClient(t)
	a := newStore(t, rdb, Config{Member: "node", LeaseTTL: 50 * time.Millisecond})
	b := newStore(t, rdb, Config{Member: "node", LeaseTTL: 50 * time.Millisecond})

	unlockA, err := a.lock(ctx, orders42, -1)
	require.NoError(t, err)
	mr.FastForward(100 * time.Millisecond)

	unlockB, err := b.lock(ctx, orders42, -1)
	require.NoError(t, err)
	defer unlockB()

	// a's late release must leave b's lease alone
	unlockA()
	require.True(t, mr.Exists("rc:l:orders/42"))
	_, err = a.lock(ctx, orders42, -1)
	assert.ErrorIs(t, err, store.ErrLockTimeout)
}

func TestInvalidationModeEvents(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	a := newStore(t, rdb, Config{Member: "a", CacheMode: "INVALIDATION_SYNC"})
	b := newStore(t, rdb, Config{Member: "b", CacheMode: "INVALIDATION_SYNC"})
	rec := &recorder{}
	b.Subscribe(rec.listen)

	require.NoError(t, a.PutForExternalRead(ctx, orders42, fqn.Item, []byte("loaded"), nil))
	require.NoError(t, a.Put(ctx, orders42, fqn.Item, []byte("x"), nil))

	require.Eventually(t, func() bool { return len(rec.remote()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, store.NodeInvalidated, rec.remote()[0].Type)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	s, err := New(ctx, Config{Client: rdb})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	assert.ErrorIs(t, s.Put(ctx, orders42, fqn.Item, nil, nil), store.ErrClosed)
}
