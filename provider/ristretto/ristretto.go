// Package ristretto is an in-process near-cache provider. Entries are
// charged by their framed size, so MaxCost is a byte budget.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

// ErrCost is returned by Set for a non-positive cost. A zero-cost entry would
// never count against MaxCost.
var ErrCost = errors.New("ristretto: entry cost must be positive")

const (
	minCounters        = 1000
	defaultBufferItems = 64
)

type Config struct {
	// MaxCost is the byte budget. Required.
	MaxCost int64
	// NumCounters defaults to MaxCost/100 (at least 1000), about ten
	// counters per 1KiB entry.
	NumCounters int64
	BufferItems int64 // 0 => 64
	Metrics     bool
	// SyncWrites waits for each admitted Set to land so the next Get sees it.
	SyncWrites bool
}

type Provider struct {
	c          *rc.Cache
	maxCost    int64
	syncWrites bool
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.MaxCost <= 0 {
		return nil, errors.New("ristretto: max cost is required")
	}
	if cfg.NumCounters < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("ristretto: negative counters or buffer")
	}
	if cfg.NumCounters == 0 {
		cfg.NumCounters = max(cfg.MaxCost/100, minCounters)
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = defaultBufferItems
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Provider{c: c, maxCost: cfg.MaxCost, syncWrites: cfg.SyncWrites}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	if b, ok := v.([]byte); ok && b != nil {
		return b, true, nil
	}
	p.c.Del(key)
	return nil, false, nil
}

// Set declines (false, nil) an entry larger than the whole budget without
// disturbing resident entries.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		return false, ErrCost
	}
	if cost > p.maxCost {
		return false, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	if !p.c.SetWithTTL(key, value, cost, ttl) {
		return false, nil
	}
	if p.syncWrites {
		p.c.Wait()
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

// Close flushes pending writes and stops ristretto's goroutines.
func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics is nil unless Config.Metrics.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
