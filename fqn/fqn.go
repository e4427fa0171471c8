// Package fqn addresses nodes in a tree-structured cache.
//
// A region is a subtree; every logical key in a region lives in its own child
// node, and the cached value sits in that node's Item slot:
//
//	<region>/<key>            -> slot "item"
//	<region>/internal/<m>     -> eviction-all marker from member m ("local" if unknown)
//	<region>/internal/<m>/<k> -> eviction marker for key k
//
// The internal subtree only exists to push eviction events through the store's
// own replication or invalidation channel.
package fqn

import "strings"

const (
	// Item is the slot holding a cached value.
	Item = "item"
	// Dummy is the slot (and sentinel value) used to force node creation
	// through a plain write.
	Dummy = "dummy"

	// InternalNode is the reserved child of a region under which eviction
	// markers are written.
	InternalNode = "internal"
	// InternalLocal replaces the member id when the originator does not route
	// per member.
	InternalLocal = "local"

	sep = "/"
)

// Fqn is an immutable, fully qualified node address.
// The zero value is the tree root.
type Fqn struct {
	elems []string
}

// Root returns the address of the tree root.
func Root() Fqn { return Fqn{} }

// FromElements builds an address from its elements. Elements are copied.
func FromElements(elems ...string) Fqn {
	if len(elems) == 0 {
		return Fqn{}
	}
	out := make([]string, len(elems))
	copy(out, elems)
	return Fqn{elems: out}
}

// FromString parses a "/"-separated path. Empty segments are dropped,
// so "/a/b", "a/b" and "a//b/" are the same address.
func FromString(s string) Fqn {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return FromElements(out...)
}

// Child returns the address of a descendant of f.
func (f Fqn) Child(elems ...string) Fqn {
	out := make([]string, 0, len(f.elems)+len(elems))
	out = append(out, f.elems...)
	out = append(out, elems...)
	return Fqn{elems: out}
}

// Parent returns the parent address; the root is its own parent.
func (f Fqn) Parent() Fqn {
	if len(f.elems) <= 1 {
		return Fqn{}
	}
	return Fqn{elems: f.elems[:len(f.elems)-1]}
}

// Last returns the final element, or "" for the root.
func (f Fqn) Last() string {
	if len(f.elems) == 0 {
		return ""
	}
	return f.elems[len(f.elems)-1]
}

func (f Fqn) Len() int     { return len(f.elems) }
func (f Fqn) IsRoot() bool { return len(f.elems) == 0 }

// Elements returns a copy of the address elements.
func (f Fqn) Elements() []string {
	out := make([]string, len(f.elems))
	copy(out, f.elems)
	return out
}

// Get returns the i-th element.
func (f Fqn) Get(i int) string { return f.elems[i] }

// IsChildOf reports whether f is a strict descendant of parent.
func (f Fqn) IsChildOf(parent Fqn) bool {
	if len(f.elems) <= len(parent.elems) {
		return false
	}
	for i, e := range parent.elems {
		if f.elems[i] != e {
			return false
		}
	}
	return true
}

func (f Fqn) Equal(o Fqn) bool {
	if len(f.elems) != len(o.elems) {
		return false
	}
	for i := range f.elems {
		if f.elems[i] != o.elems[i] {
			return false
		}
	}
	return true
}

// String renders the address as "a/b/c". The root renders as "".
func (f Fqn) String() string { return strings.Join(f.elems, sep) }
