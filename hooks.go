package regioncache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The access layer calls them on hot paths.
type Hooks interface {
	// A lock timeout was absorbed by policy.
	// op ∈ {"get_allowing_timeout", "put_allowing_timeout"}
	LockTimeout(op, fqn string)

	// PutForExternalRead found the node locked and gave up.
	ExternalReadSkipped(fqn string)

	// An eviction marker was written.
	EvictionBroadcast(marker string)

	// A region root was materialized; versioned when created via the dummy slot.
	RegionRootCreated(region string, versioned bool)

	// A stored item could not be decoded (the error is also returned).
	DecodeError(fqn string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) LockTimeout(string, string)     {}
func (NopHooks) ExternalReadSkipped(string)     {}
func (NopHooks) EvictionBroadcast(string)       {}
func (NopHooks) RegionRootCreated(string, bool) {}
func (NopHooks) DecodeError(string, error)      {}
