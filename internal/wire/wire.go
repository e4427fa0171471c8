package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version     byte = 1
	kindNode    byte = 1
	kindVersion byte = 2
	kindEntry   byte = 3

	flagResident byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("regioncache: corrupt entry")
	magic4     = [...]byte{'R', 'G', 'N', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Version is a tagged data version. Tag 0 means "no version".
type Version struct {
	Tag byte
	N   uint64
}

// Version: magic(4) | ver(1) | kind(2=version) | tag(1) | n(u64 be)
func EncodeVersion(v Version) []byte {
	b := make([]byte, 0, 4+1+1+1+8)
	b = append(b, magic4[:]...)
	b = append(b, version, kindVersion, v.Tag)
	return binary.BigEndian.AppendUint64(b, v.N)
}

func DecodeVersion(b []byte) (Version, error) {
	const size = 4 + 1 + 1 + 1 + 8
	if len(b) != size || !hasMagic(b) || b[4] != version || b[5] != kindVersion {
		return Version{}, ErrCorrupt
	}
	return Version{Tag: b[6], N: binary.BigEndian.Uint64(b[7:])}, nil
}

// Entry: magic(4) | ver(1) | kind(3=entry) | gen(u64 be) | vlen(u32 be) | payload(vlen)
// A near-cache copy of one value, stamped with the generation it was read under.
func EncodeEntry(gen uint64, payload []byte) []byte {
	b := make([]byte, 0, 4+1+1+8+4+len(payload))
	b = append(b, magic4[:]...)
	b = append(b, version, kindEntry)
	b = binary.BigEndian.AppendUint64(b, gen)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

func DecodeEntry(b []byte) (gen uint64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[6:14])
	vlen := int(binary.BigEndian.Uint32(b[14:18]))
	if vlen != len(b)-hdr {
		return 0, nil, ErrCorrupt
	}
	return gen, b[hdr:], nil
}

// Slot is one named value of a node.
type Slot struct {
	Name  string
	Value []byte
}

// Node is the persisted form of a tree node.
type Node struct {
	Resident bool
	Version  Version
	Slots    []Slot
}

// Node:
//
//	magic(4) | ver(1) | kind(1=node) | flags(1) | vtag(1) | vn(u64 be) | n(u32 be)
//	nameLen(u16 be) | name(nameLen) | vlen(u32 be) | value(vlen) * n
func EncodeNode(n Node) ([]byte, error) {
	total := 4 + 1 + 1 + 1 + 1 + 8 + 4
	for _, s := range n.Slots {
		total += 2 + len(s.Name) + 4 + len(s.Value)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindNode)

	var flags byte
	if n.Resident {
		flags |= flagResident
	}
	buf.WriteByte(flags)
	buf.WriteByte(n.Version.Tag)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], n.Version.N)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(n.Slots)))
	buf.Write(u4[:])

	for _, s := range n.Slots {
		if l := len(s.Name); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("regioncache: invalid slot name length %d", l)
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(s.Name)))
		buf.Write(u2[:])
		buf.WriteString(s.Name)

		binary.BigEndian.PutUint32(u4[:], uint32(len(s.Value)))
		buf.Write(u4[:])
		buf.Write(s.Value)
	}
	return buf.Bytes(), nil
}

func DecodeNode(b []byte) (Node, error) {
	const hdr = 4 + 1 + 1 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindNode {
		return Node{}, ErrCorrupt
	}

	off := 6
	n := Node{Resident: b[off]&flagResident != 0}
	off++
	n.Version.Tag = b[off]
	off++
	n.Version.N = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	count := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// each slot needs at least 2+1+4 bytes; refuse bogus counts before allocating
	if count < 0 || count > (len(b)-off)/7 {
		return Node{}, ErrCorrupt
	}

	n.Slots = make([]Slot, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(b) {
			return Node{}, ErrCorrupt
		}
		nlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if nlen <= 0 || nlen > len(b)-off {
			return Node{}, ErrCorrupt
		}
		name := string(b[off : off+nlen])
		off += nlen

		if off+4 > len(b) {
			return Node{}, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return Node{}, ErrCorrupt
		}
		n.Slots = append(n.Slots, Slot{Name: name, Value: b[off : off+vlen]})
		off += vlen
	}
	if off != len(b) {
		return Node{}, ErrCorrupt
	}
	return n, nil
}
