package fqn

// ForKey returns the node address of key inside region.
func ForKey(region Fqn, key string) Fqn {
	return region.Child(key)
}

// Notification returns the marker address used to broadcast an eviction.
// An empty member is replaced by InternalLocal. With no key the address
// denotes "evict everything in region".
func Notification(region Fqn, member string, key ...string) Fqn {
	if member == "" {
		member = InternalLocal
	}
	f := region.Child(InternalNode, member)
	if len(key) > 0 {
		f = f.Child(key[0])
	}
	return f
}

// Notice is a decoded eviction marker address.
type Notice struct {
	Member string // InternalLocal when the originator did not name itself
	Key    string // empty when All
	All    bool
}

// ParseNotification decodes an address produced by Notification for region.
// ok is false for any address that is not an eviction marker of region.
func ParseNotification(region, f Fqn) (n Notice, ok bool) {
	base := region.Len()
	if !f.IsChildOf(region) || f.Get(base) != InternalNode {
		return Notice{}, false
	}
	switch f.Len() - base {
	case 2:
		return Notice{Member: f.Get(base + 1), All: true}, true
	case 3:
		return Notice{Member: f.Get(base + 1), Key: f.Get(base + 2)}, true
	default:
		return Notice{}, false
	}
}

// IsInternal reports whether f is the internal subtree of region or inside it.
func IsInternal(region, f Fqn) bool {
	in := region.Child(InternalNode)
	return f.Equal(in) || f.IsChildOf(in)
}
