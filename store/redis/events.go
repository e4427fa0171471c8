package redis

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store"
)

type event struct {
	Type   uint8    `msgpack:"t"`
	Path   []string `msgpack:"p"`
	Origin string   `msgpack:"m"`
}

// notify emits e locally and publishes it to peers unless opt keeps it local.
func (s *Store) notify(ctx context.Context, typ store.EventType, f fqn.Fqn, opt *store.Option) error {
	s.listeners.Emit(store.Event{Type: typ, Fqn: f, Origin: s.member, Local: true})
	if opt.Local() {
		return nil
	}
	b, err := msgpack.Marshal(event{Type: uint8(typ), Path: f.Elements(), Origin: s.member})
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, s.channel(), b).Err(); err != nil {
		return fmt.Errorf("redis store: publish %s: %w", typ, err)
	}
	return nil
}

func (s *Store) listen() {
	defer close(s.done)
	for m := range s.ps.Channel() {
		var e event
		if err := msgpack.Unmarshal([]byte(m.Payload), &e); err != nil {
			continue
		}
		if e.Origin == s.member {
			continue
		}
		typ := store.EventType(e.Type)
		if s.mode.IsInvalidation() && (typ == store.NodeModified || typ == store.NodeRemoved) {
			typ = store.NodeInvalidated
		}
		s.listeners.Emit(store.Event{Type: typ, Fqn: fqn.FromElements(e.Path...), Origin: e.Origin})
	}
}
