package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/regioncache"
	"github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/consistency"
	"github.com/unkn0wn-root/regioncache/nearcache"
	"github.com/unkn0wn-root/regioncache/provider/bigcache"
	predis "github.com/unkn0wn-root/regioncache/provider/redis"
	"github.com/unkn0wn-root/regioncache/provider/ristretto"
	"github.com/unkn0wn-root/regioncache/store/memory"
)

const sample = `
cluster:
  member: node-a
  mode: repl_sync
  lock_timeout: 250ms
  max_readers: 8
redis:
  addr: localhost:6379
  prefix: app
  lease_ttl: 5s
regions:
  - name: /orders/
    resident: true
    near_cache:
      provider: ristretto
      ttl: 5m
  - name: users
    near_cache:
      provider: redis
  - name: audit
    local_only: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, consistency.NativeReplSync, cfg.Cluster.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Cluster.LockTimeout)
	assert.Equal(t, int64(8), cfg.Cluster.MaxReaders)
	assert.Equal(t, 5*time.Second, cfg.Redis.LeaseTTL)
	require.Len(t, cfg.Regions, 3)

	orders, ok := cfg.Region("orders")
	require.True(t, ok)
	assert.True(t, orders.Resident)
	assert.Equal(t, "orders", orders.Fqn().String())
	assert.Equal(t, 5*time.Minute, orders.NearCache.TTL)

	audit, _ := cfg.Region("audit")
	assert.True(t, audit.LocalOnly)
	assert.Equal(t, ProviderNone, audit.NearCache.Provider)

	_, ok = cfg.Region("missing")
	assert.False(t, ok)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("regions: [{name: orders}]"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, consistency.NativeLocal, cfg.Cluster.Mode)

	mc := cfg.MemoryStore(nil)
	assert.Equal(t, consistency.NativeLocal, mc.CacheMode)
	st, err := memory.New(mc)
	require.NoError(t, err)
	defer st.Close(context.Background())
	assert.Equal(t, consistency.NativeLocal, st.CacheMode())
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown mode":       "cluster: {mode: TOTAL}",
		"member missing":     "cluster: {mode: INVALIDATION_ASYNC}",
		"negative timeout":   "cluster: {lock_timeout: -1s}",
		"empty region":       "regions: [{name: ''}]",
		"duplicate region":   "regions: [{name: orders}, {name: /orders}]",
		"unknown provider":   "regions: [{name: orders, near_cache: {provider: memcached}}]",
		"redis without addr": "regions: [{name: orders, near_cache: {provider: redis}}]",
	}
	for name, doc := range cases {
		cfg, err := Parse([]byte(doc))
		require.NoError(t, err, name)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestParseError(t *testing.T) {
	_, err := Parse([]byte("cluster: ["))
	assert.ErrorContains(t, err, "parse config")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("REGIONCACHE_MEMBER", "node-b")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-b", cfg.Cluster.Member)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestMemoryStoreWithHub(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	hub := memory.NewHub(0)
	st, err := memory.New(cfg.MemoryStore(hub))
	require.NoError(t, err)
	defer st.Close(context.Background())
	assert.Equal(t, "node-a", st.Member())
	assert.Equal(t, []string{"node-a"}, hub.Members())
}

func TestRedisStoreConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	cfg.Redis.Addr = mr.Addr()
	client := cfg.RedisClient()
	defer client.Close()

	rc := cfg.RedisStore(client)
	assert.Equal(t, "app", rc.Prefix)
	assert.Equal(t, "node-a", rc.Member)
	assert.Equal(t, 250*time.Millisecond, rc.LockTimeout)
	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestNearProvider(t *testing.T) {
	ctx := context.Background()
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	cfg.Redis.Addr = mr.Addr()
	client := cfg.RedisClient()
	defer client.Close()

	orders, _ := cfg.Region("orders")
	p, err := orders.NearProvider(ctx, client)
	require.NoError(t, err)
	assert.IsType(t, &ristretto.Provider{}, p)
	_ = p.Close(ctx)

	users, _ := cfg.Region("users")
	p, err = users.NearProvider(ctx, client)
	require.NoError(t, err)
	require.IsType(t, &predis.Redis{}, p)
	_, err = p.Set(ctx, "k", []byte("v"), 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("near:users:k"))

	audit, _ := cfg.Region("audit")
	p, err = audit.NearProvider(ctx, client)
	require.NoError(t, err)
	assert.Nil(t, p)

	bc := Region{Name: "x", NearCache: NearCache{Provider: ProviderBigcache, TTL: time.Minute}}
	p, err = bc.NearProvider(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &bigcache.Provider{}, p)
	_ = p.Close(ctx)
}

const clustered = `
cluster: {member: node-a, mode: REPL_SYNC}
regions:
  - name: audit
    resident: true
    local_only: true
  - name: orders
    near_cache: {provider: ristretto, ttl: 90s}
`

func TestCreateRootFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg, err := Parse([]byte(clustered))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	hub := memory.NewHub(0)
	a, err := memory.New(cfg.MemoryStore(hub))
	require.NoError(t, err)
	defer a.Close(ctx)
	b, err := memory.New(memory.Config{Member: "node-b", CacheMode: consistency.NativeReplSync, Transport: hub})
	require.NoError(t, err)
	defer b.Close(ctx)

	acc, err := regioncache.New[string](regioncache.Options[string]{Store: a, Codec: codec.String{}})
	require.NoError(t, err)

	audit, _ := cfg.Region("audit")
	info, err := audit.CreateRoot(ctx, acc)
	require.NoError(t, err)
	assert.True(t, info.Resident)

	got, ok, err := a.GetNode(ctx, audit.Fqn())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Resident)
	_, ok, _ = b.GetNode(ctx, audit.Fqn())
	assert.False(t, ok, "local_only root must stay on node-a")

	orders, _ := cfg.Region("orders")
	_, err = orders.CreateRoot(ctx, acc)
	require.NoError(t, err)
	got, ok, _ = b.GetNode(ctx, orders.Fqn())
	require.True(t, ok, "clustered root replicates")
	assert.False(t, got.Resident)
}

func TestNearCacheConfig(t *testing.T) {
	ctx := context.Background()
	cfg, err := Parse([]byte(clustered))
	require.NoError(t, err)
	st, err := memory.New(cfg.MemoryStore(nil))
	require.NoError(t, err)
	defer st.Close(ctx)
	acc, err := regioncache.New[string](regioncache.Options[string]{Store: st, Codec: codec.String{}})
	require.NoError(t, err)

	orders, _ := cfg.Region("orders")
	p, err := orders.NearProvider(ctx, nil)
	require.NoError(t, err)
	defer p.Close(ctx)

	nc := NearCacheConfig[string](cfg, orders, acc, codec.String{}, p)
	assert.Equal(t, 90*time.Second, nc.TTL)
	assert.Equal(t, "node-a", nc.Member)
	assert.True(t, nc.Region.Equal(orders.Fqn()))

	r, err := nearcache.New(nc)
	require.NoError(t, err)
	defer r.Close(ctx)
	require.NoError(t, acc.Put(ctx, orders.Fqn(), "42", "SHIPPED", nil))
	v, ok, err := r.Get(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SHIPPED", v)
}

func TestNATSTransportRequiresURL(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	_, err = cfg.NATSTransport(nil)
	assert.ErrorContains(t, err, "nats.url")
}

func TestNATSTransport(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	cfg.NATS.URL = url
	tr, err := cfg.NATSTransport(nil)
	require.NoError(t, err)
	st, err := memory.New(cfg.MemoryStore(tr))
	require.NoError(t, err)
	require.NoError(t, st.Close(context.Background()))
	require.NoError(t, tr.Close())
}
