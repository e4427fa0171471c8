// Package nats carries memory store changes between processes over NATS.
//
// Every member subscribes to one shared subject and ignores its own messages.
// Core NATS keeps per-subscription order, so a member applies a peer's
// changes in the order they were published. "Synchronous" broadcast means the
// server has accepted the message (publish + flush); peer application is
// always asynchronous and failures are reported through Config.OnError.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/unkn0wn-root/regioncache/store/memory"
)

var ErrNilConn = errors.New("nats transport: nil connection")

type Config struct {
	Conn *natsgo.Conn
	// Subject shared by one cluster. Default "regioncache.changes".
	Subject string
	// ApplyTimeout bounds a single peer-side apply. Default 30s.
	ApplyTimeout time.Duration
	// OnError receives decode and apply failures on the receiving side.
	OnError func(member string, err error)
	// CloseConn closes Conn on Close; set only if the transport owns it.
	CloseConn bool
}

type Transport struct {
	nc        *natsgo.Conn
	subject   string
	timeout   time.Duration
	onError   func(string, error)
	closeConn bool

	mu   sync.Mutex
	subs map[string]*natsgo.Subscription
}

var _ memory.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	if cfg.Conn == nil {
		return nil, ErrNilConn
	}
	t := &Transport{
		nc:        cfg.Conn,
		subject:   cfg.Subject,
		timeout:   cfg.ApplyTimeout,
		onError:   cfg.OnError,
		closeConn: cfg.CloseConn,
		subs:      make(map[string]*natsgo.Subscription),
	}
	if t.subject == "" {
		t.subject = "regioncache.changes"
	}
	if t.timeout <= 0 {
		t.timeout = 30 * time.Second
	}
	if t.onError == nil {
		t.onError = func(string, error) {}
	}
	return t, nil
}

func (t *Transport) Join(member string, deliver memory.Deliver) error {
	if member == "" {
		return errors.New("nats transport: empty member id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[member]; ok {
		return fmt.Errorf("nats transport: member %q already joined", member)
	}
	sub, err := t.nc.Subscribe(t.subject, func(m *natsgo.Msg) {
		msg, err := decodeMessage(m.Data)
		if err != nil {
			t.onError(member, err)
			return
		}
		if msg.Origin == member {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := deliver(ctx, msg); err != nil {
			t.onError(member, fmt.Errorf("apply %s %s from %s: %w", msg.Op, msg.Fqn, msg.Origin, err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats transport: subscribe %s: %w", t.subject, err)
	}
	t.subs[member] = sub
	return nil
}

func (t *Transport) Leave(member string) error {
	t.mu.Lock()
	sub, ok := t.subs[member]
	delete(t.subs, member)
	t.mu.Unlock()
	if !ok {
		return memory.ErrUnknownMember
	}
	// let already received messages finish before the member goes away
	return sub.Drain()
}

func (t *Transport) Broadcast(ctx context.Context, msg memory.Message, sync bool) error {
	b, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := t.nc.Publish(t.subject, b); err != nil {
		return fmt.Errorf("nats transport: publish: %w", err)
	}
	if !sync {
		return nil
	}
	if err := t.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats transport: flush: %w", err)
	}
	return nil
}

// Close drains all member subscriptions.
func (t *Transport) Close() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[string]*natsgo.Subscription)
	t.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.closeConn {
		t.nc.Close()
	}
	return errors.Join(errs...)
}
