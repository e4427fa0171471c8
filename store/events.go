package store

import (
	"sync"

	"github.com/unkn0wn-root/regioncache/fqn"
)

type EventType uint8

const (
	NodeModified EventType = iota + 1
	NodeRemoved
	// NodeInvalidated is raised on a member that dropped its copy because a
	// peer wrote the node in an invalidation mode.
	NodeInvalidated
	// NodeEvicted is raised when a member dropped a node from its own memory only.
	NodeEvicted
)

func (t EventType) String() string {
	switch t {
	case NodeModified:
		return "modified"
	case NodeRemoved:
		return "removed"
	case NodeInvalidated:
		return "invalidated"
	case NodeEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Event describes a change observed by a member.
type Event struct {
	Type   EventType
	Fqn    fqn.Fqn
	Origin string // member that performed the write
	Local  bool   // true when this member performed the write
}

// Listener must be cheap and non-blocking; stores call it inline.
type Listener func(Event)

// Listeners is a small registry stores embed to fan out events.
type Listeners struct {
	mu   sync.RWMutex
	next uint64
	m    map[uint64]Listener
}

func (ls *Listeners) Add(l Listener) (cancel func()) {
	ls.mu.Lock()
	if ls.m == nil {
		ls.m = make(map[uint64]Listener)
	}
	id := ls.next
	ls.next++
	ls.m[id] = l
	ls.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			delete(ls.m, id)
			ls.mu.Unlock()
		})
	}
}

func (ls *Listeners) Emit(e Event) {
	ls.mu.RLock()
	snapshot := make([]Listener, 0, len(ls.m))
	for _, l := range ls.m {
		snapshot = append(snapshot, l)
	}
	ls.mu.RUnlock()
	for _, l := range snapshot {
		l(e)
	}
}
