package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func mustEncodeNode(t *testing.T, n Node) []byte {
	t.Helper()
	b, err := EncodeNode(n)
	if err != nil {
		t.Fatalf("EncodeNode error: %v", err)
	}
	return b
}

func mustDecodeNode(t *testing.T, b []byte) Node {
	t.Helper()
	n, err := DecodeNode(b)
	if err != nil {
		t.Fatalf("DecodeNode error: %v", err)
	}
	return n
}

func TestVersionRT(t *testing.T) {
	cases := []Version{
		{},
		{Tag: 1, N: 42},
		{Tag: 3, N: math.MaxUint64},
	}
	for _, tc := range cases {
		got, err := DecodeVersion(EncodeVersion(tc))
		if err != nil {
			t.Fatalf("DecodeVersion(%+v): %v", tc, err)
		}
		if got != tc {
			t.Fatalf("version mismatch: got %+v want %+v", got, tc)
		}
	}
}

func TestVersionRejectsBadInput(t *testing.T) {
	enc := EncodeVersion(Version{Tag: 1, N: 7})

	if _, err := DecodeVersion(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated version")
	}
	if _, err := DecodeVersion(append(append([]byte(nil), enc...), 0)); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
	badKind := append([]byte(nil), enc...)
	badKind[5] = kindNode
	if _, err := DecodeVersion(badKind); err == nil {
		t.Fatalf("expected error on wrong kind")
	}
}

func TestNodeRoundTrip(t *testing.T) {
	cases := []Node{
		{},
		{Resident: true, Version: Version{Tag: 1, N: 9}},
		{
			Version: Version{Tag: 2},
			Slots: []Slot{
				{Name: "item", Value: []byte(`{"status":"SHIPPED"}`)},
				{Name: "dummy", Value: nil},
			},
		},
	}
	for _, tc := range cases {
		got := mustDecodeNode(t, mustEncodeNode(t, tc))
		if got.Resident != tc.Resident || got.Version != tc.Version || len(got.Slots) != len(tc.Slots) {
			t.Fatalf("node mismatch: got %+v want %+v", got, tc)
		}
		for i := range tc.Slots {
			if got.Slots[i].Name != tc.Slots[i].Name || !bytes.Equal(got.Slots[i].Value, tc.Slots[i].Value) {
				t.Fatalf("slot %d mismatch: got %+v want %+v", i, got.Slots[i], tc.Slots[i])
			}
		}
	}
}

func TestNodeRejectsTrailingBytes(t *testing.T) {
	enc := mustEncodeNode(t, Node{Slots: []Slot{{Name: "item", Value: []byte("v")}}})
	enc = append(enc, 0xBE, 0xEF)
	if _, err := DecodeNode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestNodeSlotNameValidation(t *testing.T) {
	if _, err := EncodeNode(Node{Slots: []Slot{{Name: "", Value: []byte("x")}}}); err == nil {
		t.Fatalf("expected error on empty slot name")
	}
	if _, err := EncodeNode(Node{Slots: []Slot{{Name: strings.Repeat("a", 0x10000)}}}); err == nil {
		t.Fatalf("expected error on slot name > 0xFFFF")
	}
	if _, err := EncodeNode(Node{Slots: []Slot{{Name: strings.Repeat("b", 0xFFFF)}}}); err != nil {
		t.Fatalf("boundary slot name length should succeed: %v", err)
	}
}

func TestNodeCorruptHeadersAndLengths(t *testing.T) {
	enc := mustEncodeNode(t, Node{Slots: []Slot{{Name: "k", Value: []byte("xyz")}}})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeNode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeNode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindVersion
	if _, err := DecodeNode(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// header: 4 magic +1 ver +1 kind +1 flags +1 vtag +8 vn +4 n = 20 bytes
	// slot: 2 nlen + name + 4 vlen + value
	offset := 20 + 2 + 1
	badVlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(badVlen[offset:offset+4], uint32(len("xyz")+1))
	if _, err := DecodeNode(badVlen); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	badNlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(badNlen[20:22], uint16(50))
	if _, err := DecodeNode(badNlen); err == nil {
		t.Fatalf("expected error on name length beyond buffer")
	}

	// bogus slot count with no bodies must error, not allocate
	bogus := mustEncodeNode(t, Node{})
	binary.BigEndian.PutUint32(bogus[16:20], ^uint32(0))
	if _, err := DecodeNode(bogus); err == nil {
		t.Fatalf("expected error on bogus slot count")
	}
}

func TestNodeZeroCopyValues(t *testing.T) {
	enc := mustEncodeNode(t, Node{Slots: []Slot{{Name: "item", Value: []byte("Z")}}})
	got := mustDecodeNode(t, enc)
	got.Slots[0].Value[0] = 'Q'
	if again := mustDecodeNode(t, enc); again.Slots[0].Value[0] != 'Q' {
		t.Fatalf("expected zero-copy value slices into enc buffer")
	}
}

func TestEntryRoundTrip(t *testing.T) {
	enc := EncodeEntry(7, []byte("SHIPPED"))
	gen, p, err := DecodeEntry(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gen != 7 || string(p) != "SHIPPED" {
		t.Fatalf("gen=%d payload=%q", gen, p)
	}

	if _, _, err := DecodeEntry(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on short payload")
	}
	if _, _, err := DecodeEntry(append(enc, 0)); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
	if _, _, err := DecodeEntry(EncodeVersion(Version{Tag: 1, N: 2})); err == nil {
		t.Fatalf("expected error on wrong kind")
	}
	if _, p, err := DecodeEntry(EncodeEntry(0, nil)); err != nil || len(p) != 0 {
		t.Fatalf("empty payload: %q %v", p, err)
	}
}
