package regioncache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
)

// ErrLockTimeout matches lock acquisition timeouts inside an AccessError.
var ErrLockTimeout = store.ErrLockTimeout

// ErrReservedKey is returned for keys that collide with the eviction marker
// subtree (fqn.InternalNode).
var ErrReservedKey = errors.New("key is reserved for eviction markers")

// AccessError wraps every fault surfaced by Access and Broadcaster.
type AccessError struct {
	Op  string
	Fqn fqn.Fqn
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("regioncache: %s %q: %v", e.Op, e.Fqn.String(), e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// IsLockTimeout reports whether err is (or wraps) a lock acquisition timeout.
func IsLockTimeout(err error) bool { return errors.Is(err, store.ErrLockTimeout) }
