package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
)

type Op uint8

const (
	OpPut Op = iota + 1
	OpPutForExternalRead
	OpAddChild
	OpRemove
	OpInvalidate
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpPutForExternalRead:
		return "put-for-external-read"
	case OpAddChild:
		return "add-child"
	case OpRemove:
		return "remove"
	case OpInvalidate:
		return "invalidate"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Message is one change shipped to peers.
type Message struct {
	Op      Op
	Origin  string
	Fqn     fqn.Fqn
	Slot    string
	Value   []byte
	Version store.DataVersion
}

// Deliver applies a message on the receiving member.
type Deliver func(ctx context.Context, msg Message) error

// Transport connects members of one cluster.
type Transport interface {
	// Join registers member; messages from other members are passed to deliver.
	Join(member string, deliver Deliver) error
	Leave(member string) error
	// Broadcast ships msg to every member except msg.Origin. With sync it
	// returns after all peers applied it.
	Broadcast(ctx context.Context, msg Message, sync bool) error
}

var ErrUnknownMember = errors.New("memory: member not joined")

// Hub is an in-process Transport. Async deliveries are queued per member
// and applied in order by one goroutine per member.
type Hub struct {
	mu      sync.RWMutex
	members map[string]*hubMember
	pending sync.WaitGroup
	qlen    int
}

type hubMember struct {
	deliver Deliver
	q       chan Message
	done    chan struct{}
}

var _ Transport = (*Hub)(nil)

// NewHub creates a hub; qlen bounds each member's async queue (0 => 1024).
func NewHub(qlen int) *Hub {
	if qlen <= 0 {
		qlen = 1024
	}
	return &Hub{members: make(map[string]*hubMember), qlen: qlen}
}

func (h *Hub) Join(member string, deliver Deliver) error {
	if member == "" {
		return errors.New("memory: empty member id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[member]; ok {
		return fmt.Errorf("memory: member %q already joined", member)
	}
	m := &hubMember{deliver: deliver, q: make(chan Message, h.qlen), done: make(chan struct{})}
	h.members[member] = m
	go h.run(m)
	return nil
}

func (h *Hub) run(m *hubMember) {
	defer close(m.done)
	for msg := range m.q {
		// async delivery failures have nowhere to go; the origin already returned
		_ = m.deliver(context.Background(), msg)
		h.pending.Done()
	}
}

func (h *Hub) Leave(member string) error {
	h.mu.Lock()
	m, ok := h.members[member]
	if ok {
		delete(h.members, member)
	}
	h.mu.Unlock()
	if !ok {
		return ErrUnknownMember
	}
	close(m.q)
	<-m.done
	return nil
}

func (h *Hub) Broadcast(ctx context.Context, msg Message, sync bool) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.members[msg.Origin]; !ok {
		return ErrUnknownMember
	}

	var errs []error
	for id, m := range h.members {
		if id == msg.Origin {
			continue
		}
		if sync {
			if err := m.deliver(ctx, msg); err != nil {
				errs = append(errs, fmt.Errorf("member %s: %w", id, err))
			}
			continue
		}
		h.pending.Add(1)
		select {
		case m.q <- msg:
		case <-ctx.Done():
			h.pending.Done()
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Quiesce blocks until every queued async delivery has been applied.
func (h *Hub) Quiesce() { h.pending.Wait() }

// Members returns the joined member ids.
func (h *Hub) Members() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.members))
	for id := range h.members {
		out = append(out, id)
	}
	return out
}
