package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf stores generated messages. ctor returns an empty message to decode
// into, e.g. func() *orderpb.Order { return &orderpb.Order{} }.
type Protobuf[T proto.Message] struct {
	ctor func() T
	opts proto.UnmarshalOptions
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor, opts: proto.UnmarshalOptions{DiscardUnknown: true}}
}

// Encode uses deterministic marshaling so members agree on the bytes of
// equal messages.
func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.ctor == nil {
		var zero T
		return zero, errors.New("codec: protobuf codec built without NewProtobuf")
	}
	m := c.ctor()
	err := c.opts.Unmarshal(b, m)
	return m, err
}
