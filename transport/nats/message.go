package nats

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/regioncache/fqn"
	"github.com/unkn0wn-root/regioncache/store/memory"
	"github.com/unkn0wn-root/regioncache/version"
)

// envelope is the msgpack form of memory.Message.
type envelope struct {
	Op      uint8    `msgpack:"o"`
	Origin  string   `msgpack:"m"`
	Path    []string `msgpack:"p"`
	Slot    string   `msgpack:"s,omitempty"`
	Value   []byte   `msgpack:"v,omitempty"`
	Version []byte   `msgpack:"d"`
}

func encodeMessage(msg memory.Message) ([]byte, error) {
	v, err := version.Marshal(msg.Version)
	if err != nil {
		return nil, fmt.Errorf("nats transport: encode version: %w", err)
	}
	return msgpack.Marshal(envelope{
		Op:      uint8(msg.Op),
		Origin:  msg.Origin,
		Path:    msg.Fqn.Elements(),
		Slot:    msg.Slot,
		Value:   msg.Value,
		Version: v,
	})
}

func decodeMessage(b []byte) (memory.Message, error) {
	var e envelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return memory.Message{}, fmt.Errorf("nats transport: decode: %w", err)
	}
	v, err := version.Unmarshal(e.Version)
	if err != nil {
		return memory.Message{}, fmt.Errorf("nats transport: decode version: %w", err)
	}
	return memory.Message{
		Op:      memory.Op(e.Op),
		Origin:  e.Origin,
		Fqn:     fqn.FromElements(e.Path...),
		Slot:    e.Slot,
		Value:   e.Value,
		Version: v,
	}, nil
}
