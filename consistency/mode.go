// Package consistency classifies a store's replication configuration.
//
// The four clustered modes form a 2x2 matrix: replication vs invalidation,
// synchronous vs asynchronous. "Synchronous" cuts across both families and
// never implies "replicated".
package consistency

import "strings"

// Mode is the semantic category of a store's cache mode.
type Mode uint8

const (
	Other Mode = iota
	ReplicatedSync
	ReplicatedAsync
	InvalidatedSync
	InvalidatedAsync
)

// Native cache mode names understood by Classify.
const (
	NativeLocal             = "LOCAL"
	NativeReplSync          = "REPL_SYNC"
	NativeReplAsync         = "REPL_ASYNC"
	NativeInvalidationSync  = "INVALIDATION_SYNC"
	NativeInvalidationAsync = "INVALIDATION_ASYNC"
)

// Classify maps a native cache mode to a Mode. Unrecognized values,
// LOCAL included, map to Other.
func Classify(native string) Mode {
	switch strings.ToUpper(strings.TrimSpace(native)) {
	case NativeReplSync:
		return ReplicatedSync
	case NativeReplAsync:
		return ReplicatedAsync
	case NativeInvalidationSync:
		return InvalidatedSync
	case NativeInvalidationAsync:
		return InvalidatedAsync
	default:
		return Other
	}
}

// IsInvalidation is true only for the Invalidated* modes.
func (m Mode) IsInvalidation() bool {
	return m == InvalidatedSync || m == InvalidatedAsync
}

// IsReplication is true only for the Replicated* modes.
func (m Mode) IsReplication() bool {
	return m == ReplicatedSync || m == ReplicatedAsync
}

// IsSynchronous is true for ReplicatedSync and InvalidatedSync: a write does
// not return before the cluster applied it, whether that means copying the
// data or dropping stale copies.
func (m Mode) IsSynchronous() bool {
	return m == ReplicatedSync || m == InvalidatedSync
}

// IsClustered reports whether writes leave the local member at all.
func (m Mode) IsClustered() bool { return m.IsReplication() || m.IsInvalidation() }

// Native returns the native cache mode name; Other renders as LOCAL.
func (m Mode) Native() string {
	switch m {
	case ReplicatedSync:
		return NativeReplSync
	case ReplicatedAsync:
		return NativeReplAsync
	case InvalidatedSync:
		return NativeInvalidationSync
	case InvalidatedAsync:
		return NativeInvalidationAsync
	default:
		return NativeLocal
	}
}

func (m Mode) String() string {
	switch m {
	case ReplicatedSync:
		return "replicated-sync"
	case ReplicatedAsync:
		return "replicated-async"
	case InvalidatedSync:
		return "invalidated-sync"
	case InvalidatedAsync:
		return "invalidated-async"
	default:
		return "other"
	}
}

// Helpers for callers that only hold the raw configuration value.

func IsClusteredInvalidation(native string) bool { return Classify(native).IsInvalidation() }
func IsClusteredReplication(native string) bool  { return Classify(native).IsReplication() }
func IsSynchronous(native string) bool           { return Classify(native).IsSynchronous() }
