// Package version provides the optimistic-concurrency strategies attached to
// individual store writes.
//
//   - CircumventChecks: for writes (typically removals) where no valid prior
//     version is known. A store comparing against it is a protocol violation
//     and panics.
//   - NonLocking: never newer than anything, so writes over it never conflict
//     and never block. Used by query-result, timestamp and unversioned regions.
//   - Numeric: the default last-writer-wins counter stores assign implicitly.
package version

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/regioncache/store"
)

// ErrCircumventChecks is the panic cause raised when CircumventChecks is compared.
var ErrCircumventChecks = errors.New("version: optimistic checks on CircumventChecks should never happen")

type circumventChecks struct{}

type nonLocking struct{}

// Process-wide immutable strategy values.
var (
	CircumventChecks store.DataVersion = circumventChecks{}
	NonLocking       store.DataVersion = nonLocking{}
)

// NewerThan always panics. Reaching it means two writers raced on an
// operation that was supposed to be exclusive.
func (circumventChecks) NewerThan(other store.DataVersion) bool {
	panic(fmt.Errorf("%w (compared against %s)", ErrCircumventChecks, Describe(other)))
}

func (circumventChecks) String() string { return "circumvent-checks" }

// NewerThan always reports false.
func (nonLocking) NewerThan(store.DataVersion) bool { return false }

func (nonLocking) String() string { return "non-locking" }

// Numeric is a monotonically increasing counter version.
type Numeric uint64

// NewerThan compares against other Numeric versions only; any other
// strategy opted out of checks and is never superseded by a counter.
func (n Numeric) NewerThan(other store.DataVersion) bool {
	o, ok := other.(Numeric)
	if !ok {
		return false
	}
	return n > o
}

func (n Numeric) String() string { return fmt.Sprintf("v%d", uint64(n)) }

func (circumventChecks) Option() *store.Option { return Option(CircumventChecks) }

func (nonLocking) Option() *store.Option { return Option(NonLocking) }

// Option overrides a single write with version n.
func (n Numeric) Option() *store.Option { return Option(n) }

// Option returns a fresh per-call override carrying v.
func Option(v store.DataVersion) *store.Option {
	return &store.Option{DataVersion: v}
}

// CircumventChecksOption is the override used for removals.
func CircumventChecksOption() *store.Option { return Option(CircumventChecks) }

// NonLockingOption is the override used by regions that must never block.
func NonLockingOption() *store.Option { return Option(NonLocking) }

// Describe renders a version for logs; nil renders as "implicit".
func Describe(v store.DataVersion) string {
	if v == nil {
		return "implicit"
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", v)
}
