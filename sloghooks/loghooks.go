package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/unkn0wn-root/regioncache"
)

type Options struct {
	// Sampling to avoid floods under contention; 0/1 = log all.
	LockTimeoutEvery  uint64
	ExternalSkipEvery uint64
	// Redact replaces addresses in lock timeout, external read and decode
	// logs. The default hashes the last element and keeps the region readable.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	timeoutCtr atomic.Uint64
	skipCtr    atomic.Uint64
}

var _ regioncache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

// redact hides the key of an address and keeps its region readable:
// "orders/42" becomes "orders/#<hash>".
func (h *Hooks) redact(addr string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(addr)
	}
	region, key := "", addr
	if i := strings.LastIndexByte(addr, '/'); i >= 0 {
		region, key = addr[:i+1], addr[i+1:]
	}
	sum := sha256.Sum256([]byte(key))
	return region + "#" + hex.EncodeToString(sum[:6])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) LockTimeout(op, fqn string) {
	if h.l == nil || !sample(h.opts.LockTimeoutEvery, &h.timeoutCtr) {
		return
	}
	h.l.Debug("regioncache.lock_timeout",
		"op", op,
		"fqn", h.redact(fqn))
}

func (h *Hooks) ExternalReadSkipped(fqn string) {
	if h.l == nil || !sample(h.opts.ExternalSkipEvery, &h.skipCtr) {
		return
	}
	h.l.Debug("regioncache.external_read_skipped",
		"fqn", h.redact(fqn))
}

func (h *Hooks) EvictionBroadcast(marker string) {
	if h.l == nil {
		return
	}
	h.l.Info("regioncache.eviction_broadcast",
		"marker", marker)
}

func (h *Hooks) RegionRootCreated(region string, versioned bool) {
	if h.l == nil {
		return
	}
	h.l.Info("regioncache.region_root_created",
		"region", region,
		"versioned", versioned)
}

func (h *Hooks) DecodeError(fqn string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("regioncache.decode_error",
		"fqn", h.redact(fqn),
		"err", err)
}
