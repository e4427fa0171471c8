// Package config loads a member's cache configuration from YAML.
//
//	cluster:
//	  member: node-a
//	  mode: REPL_SYNC
//	  lock_timeout: 10s
//	redis:
//	  addr: localhost:6379
//	nats:
//	  url: nats://localhost:4222
//	regions:
//	  - name: orders
//	    resident: true
//	    near_cache:
//	      provider: ristretto
//	      ttl: 5m
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/regioncache"
	"github.com/unkn0wn-root/regioncache/codec"
	"github.com/unkn0wn-root/regioncache/consistency"
	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/nearcache"
	"github.com/unkn0wn-root/regioncache/provider"
	"github.com/unkn0wn-root/regioncache/provider/bigcache"
	predis "github.com/unkn0wn-root/regioncache/provider/redis"
	"github.com/unkn0wn-root/regioncache/provider/ristretto"
	"github.com/unkn0wn-root/regioncache/store"
	"github.com/unkn0wn-root/regioncache/store/memory"
	rstore "github.com/unkn0wn-root/regioncache/store/redis"
	tnats "github.com/unkn0wn-root/regioncache/transport/nats"
)

// Near-cache provider names.
const (
	ProviderNone      = "none"
	ProviderRistretto = "ristretto"
	ProviderBigcache  = "bigcache"
	ProviderRedis     = "redis"
)

type Config struct {
	Cluster struct {
		Member      string        `yaml:"member"`
		Mode        string        `yaml:"mode"`
		LockTimeout time.Duration `yaml:"lock_timeout"`
		MaxReaders  int64         `yaml:"max_readers"`
	} `yaml:"cluster"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		LeaseTTL time.Duration `yaml:"lease_ttl"`
	} `yaml:"redis"`

	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Regions []Region `yaml:"regions"`
}

type Region struct {
	Name      string    `yaml:"name"`
	Resident  bool      `yaml:"resident"`
	LocalOnly bool      `yaml:"local_only"`
	NearCache NearCache `yaml:"near_cache"`
}

func (r Region) Fqn() fqn.Fqn { return fqn.FromString(r.Name) }

// RootCreator is the part of regioncache.Access that CreateRoot needs.
type RootCreator interface {
	CreateRegionRoot(ctx context.Context, region fqn.Fqn, localOnly, resident bool, v store.DataVersion) (store.NodeInfo, error)
}

// CreateRoot materializes r's root node with its local_only and resident
// settings.
func (r Region) CreateRoot(ctx context.Context, acc RootCreator) (store.NodeInfo, error) {
	return acc.CreateRegionRoot(ctx, r.Fqn(), r.LocalOnly, r.Resident, nil)
}

// NearCacheConfig builds the nearcache.Config for r with its near_cache.ttl
// and cluster.member. p is usually r.NearProvider's result.
func NearCacheConfig[V any](cfg *Config, r Region, acc regioncache.Access[V], cd codec.Codec[V], p provider.Provider) nearcache.Config[V] {
	return nearcache.Config[V]{
		Access:   acc,
		Region:   r.Fqn(),
		Codec:    cd,
		Provider: p,
		Member:   cfg.Cluster.Member,
		TTL:      r.NearCache.TTL,
	}
}

type NearCache struct {
	Provider string        `yaml:"provider"` // none (default), ristretto, bigcache, redis
	TTL      time.Duration `yaml:"ttl"`
	MaxCost  int64         `yaml:"max_cost"` // ristretto bytes; bigcache MB
}

var validModes = []string{
	consistency.NativeLocal,
	consistency.NativeReplSync,
	consistency.NativeReplAsync,
	consistency.NativeInvalidationSync,
	consistency.NativeInvalidationAsync,
}

// Load reads and validates a YAML file. REGIONCACHE_MEMBER overrides
// cluster.member.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if m := os.Getenv("REGIONCACHE_MEMBER"); m != "" {
		cfg.Cluster.Member = m
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML and fills defaults. It does not validate.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Cluster.Mode = strings.ToUpper(strings.TrimSpace(cfg.Cluster.Mode))
	if cfg.Cluster.Mode == "" {
		cfg.Cluster.Mode = consistency.NativeLocal
	}
	for i := range cfg.Regions {
		if cfg.Regions[i].NearCache.Provider == "" {
			cfg.Regions[i].NearCache.Provider = ProviderNone
		}
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	known := false
	for _, m := range validModes {
		if c.Cluster.Mode == m {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("cluster.mode %q: want one of %s", c.Cluster.Mode, strings.Join(validModes, ", ")))
	}
	if consistency.Classify(c.Cluster.Mode).IsClustered() && c.Cluster.Member == "" {
		errs = append(errs, errors.New("cluster.member is required in clustered modes"))
	}
	if c.Cluster.LockTimeout < 0 {
		errs = append(errs, errors.New("cluster.lock_timeout must not be negative"))
	}

	seen := make(map[string]bool, len(c.Regions))
	for i, r := range c.Regions {
		switch {
		case r.Fqn().IsRoot():
			errs = append(errs, fmt.Errorf("regions[%d]: name is required", i))
		case seen[r.Fqn().String()]:
			errs = append(errs, fmt.Errorf("regions[%d]: duplicate region %q", i, r.Name))
		}
		seen[r.Fqn().String()] = true

		switch r.NearCache.Provider {
		case ProviderNone, ProviderRistretto, ProviderBigcache:
		case ProviderRedis:
			if c.Redis.Addr == "" {
				errs = append(errs, fmt.Errorf("regions[%d]: redis near cache needs redis.addr", i))
			}
		default:
			errs = append(errs, fmt.Errorf("regions[%d]: unknown near cache provider %q", i, r.NearCache.Provider))
		}
	}
	return errors.Join(errs...)
}

// Region returns the region named name.
func (c *Config) Region(name string) (Region, bool) {
	want := fqn.FromString(name)
	for _, r := range c.Regions {
		if r.Fqn().Equal(want) {
			return r, true
		}
	}
	return Region{}, false
}

// MemoryStore builds the in-process store config. tr may be nil for LOCAL.
func (c *Config) MemoryStore(tr memory.Transport) memory.Config {
	return memory.Config{
		Member:      c.Cluster.Member,
		CacheMode:   c.Cluster.Mode,
		LockTimeout: c.Cluster.LockTimeout,
		MaxReaders:  c.Cluster.MaxReaders,
		Transport:   tr,
	}
}

// RedisClient opens a client for redis.addr.
func (c *Config) RedisClient() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// RedisStore builds the shared Redis store config on client.
func (c *Config) RedisStore(client goredis.UniversalClient) rstore.Config {
	return rstore.Config{
		Client:      client,
		Prefix:      c.Redis.Prefix,
		Member:      c.Cluster.Member,
		CacheMode:   c.Cluster.Mode,
		LockTimeout: c.Cluster.LockTimeout,
		LeaseTTL:    c.Redis.LeaseTTL,
	}
}

// NATSTransport connects to nats.url and returns a transport that owns the
// connection. onError may be nil.
func (c *Config) NATSTransport(onError func(member string, err error)) (*tnats.Transport, error) {
	if c.NATS.URL == "" {
		return nil, errors.New("config: nats.url is required")
	}
	nc, err := natsgo.Connect(c.NATS.URL,
		natsgo.Name("regioncache-"+c.Cluster.Member),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	t, err := tnats.New(tnats.Config{Conn: nc, Subject: c.NATS.Subject, OnError: onError, CloseConn: true})
	if err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

// NearProvider builds r's near-cache provider; nil for "none". client is only
// used by the redis provider and is not closed by it.
func (r Region) NearProvider(ctx context.Context, client goredis.UniversalClient) (provider.Provider, error) {
	nc := r.NearCache
	switch nc.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderRistretto:
		maxCost := nc.MaxCost
		if maxCost <= 0 {
			maxCost = 64 << 20
		}
		return ristretto.New(ristretto.Config{MaxCost: maxCost})
	case ProviderBigcache:
		life := nc.TTL
		if life <= 0 {
			life = 10 * time.Minute
		}
		return bigcache.New(ctx, bigcache.Config{LifeWindow: life, HardMaxCacheSizeMB: int(nc.MaxCost)})
	case ProviderRedis:
		return predis.New(predis.Config{Client: client, Prefix: "near:" + r.Fqn().String() + ":"})
	default:
		return nil, fmt.Errorf("config: unknown near cache provider %q", nc.Provider)
	}
}
