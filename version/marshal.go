package version

import (
	"fmt"

	"github.com/unkn0wn-root/regioncache/internal/wire"
	"github.com/unkn0wn-root/regioncache/store"
)

const (
	tagNone byte = iota
	tagNumeric
	tagNonLocking
	tagCircumvent
)

// ToWire maps a strategy to its tagged wire form.
func ToWire(v store.DataVersion) (wire.Version, error) {
	switch vv := v.(type) {
	case nil:
		return wire.Version{Tag: tagNone}, nil
	case Numeric:
		return wire.Version{Tag: tagNumeric, N: uint64(vv)}, nil
	case nonLocking:
		return wire.Version{Tag: tagNonLocking}, nil
	case circumventChecks:
		return wire.Version{Tag: tagCircumvent}, nil
	default:
		return wire.Version{}, fmt.Errorf("version: cannot serialize %T", v)
	}
}

// FromWire is the inverse of ToWire. Tag 0 yields a nil version.
func FromWire(w wire.Version) (store.DataVersion, error) {
	switch w.Tag {
	case tagNone:
		return nil, nil
	case tagNumeric:
		return Numeric(w.N), nil
	case tagNonLocking:
		return NonLocking, nil
	case tagCircumvent:
		return CircumventChecks, nil
	default:
		return nil, fmt.Errorf("version: unknown tag %d", w.Tag)
	}
}

// Marshal encodes a strategy for transports.
func Marshal(v store.DataVersion) ([]byte, error) {
	w, err := ToWire(v)
	if err != nil {
		return nil, err
	}
	return wire.EncodeVersion(w), nil
}

func Unmarshal(b []byte) (store.DataVersion, error) {
	w, err := wire.DecodeVersion(b)
	if err != nil {
		return nil, err
	}
	return FromWire(w)
}
