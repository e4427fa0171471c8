package fqn

import "testing"

func TestFromStringNormalizes(t *testing.T) {
	cases := []struct {
		in   string
		want string
		n    int
	}{
		{"", "", 0},
		{"/", "", 0},
		{"orders", "orders", 1},
		{"/orders/42", "orders/42", 2},
		{"a//b/", "a/b", 2},
	}
	for _, tc := range cases {
		f := FromString(tc.in)
		if f.String() != tc.want || f.Len() != tc.n {
			t.Fatalf("FromString(%q) = %q (len %d), want %q (len %d)", tc.in, f.String(), f.Len(), tc.want, tc.n)
		}
	}
}

func TestChildDoesNotAlias(t *testing.T) {
	base := FromElements("a", "b")
	x := base.Child("x")
	y := base.Child("y")
	if x.String() != "a/b/x" || y.String() != "a/b/y" {
		t.Fatalf("children alias each other: %q %q", x, y)
	}
	elems := []string{"p", "q"}
	f := FromElements(elems...)
	elems[0] = "mutated"
	if f.String() != "p/q" {
		t.Fatalf("FromElements must copy, got %q", f)
	}
}

func TestParentLastAndRoot(t *testing.T) {
	f := FromString("a/b/c")
	if f.Parent().String() != "a/b" || f.Last() != "c" {
		t.Fatalf("parent/last: %q %q", f.Parent(), f.Last())
	}
	if !Root().IsRoot() || !Root().Parent().IsRoot() || Root().Last() != "" {
		t.Fatalf("root invariants broken")
	}
	if !FromString("a").Parent().IsRoot() {
		t.Fatalf("parent of single element must be root")
	}
}

func TestIsChildOf(t *testing.T) {
	region := FromString("orders")
	if !ForKey(region, "42").IsChildOf(region) {
		t.Fatalf("key node must be child of region")
	}
	if region.IsChildOf(region) {
		t.Fatalf("IsChildOf must be strict")
	}
	if FromString("ordersX/1").IsChildOf(region) {
		t.Fatalf("prefix string is not a parent")
	}
	if !region.IsChildOf(Root()) {
		t.Fatalf("everything but root is a child of root")
	}
}

func TestForKeyIsDeterministic(t *testing.T) {
	r := FromString("/com/acme/Order")
	a, b := ForKey(r, "42"), ForKey(r, "42")
	if !a.Equal(b) || a.String() != "com/acme/Order/42" {
		t.Fatalf("ForKey: %q vs %q", a, b)
	}
}

func TestNotificationAddresses(t *testing.T) {
	region := FromString("orders")

	if got := Notification(region, "").String(); got != "orders/internal/local" {
		t.Fatalf("evict-all local: %q", got)
	}
	if got := Notification(region, "node-b", "42").String(); got != "orders/internal/node-b/42" {
		t.Fatalf("evict key: %q", got)
	}
	if got := Notification(region, "", "42").String(); got != "orders/internal/local/42" {
		t.Fatalf("evict key local: %q", got)
	}
}

func TestParseNotificationInverts(t *testing.T) {
	region := FromString("a/b")

	n, ok := ParseNotification(region, Notification(region, "", "k"))
	if !ok || n.Member != InternalLocal || n.Key != "k" || n.All {
		t.Fatalf("key notice: %+v ok=%v", n, ok)
	}
	n, ok = ParseNotification(region, Notification(region, "m1"))
	if !ok || n.Member != "m1" || !n.All {
		t.Fatalf("all notice: %+v ok=%v", n, ok)
	}

	for _, f := range []Fqn{
		ForKey(region, "k"),
		region.Child(InternalNode),
		region.Child(InternalNode, "m", "k", "extra"),
		FromString("other/internal/local"),
		region,
	} {
		if _, ok := ParseNotification(region, f); ok {
			t.Fatalf("%q must not parse as a notification", f)
		}
	}
}

func TestIsInternal(t *testing.T) {
	region := FromString("r")
	if !IsInternal(region, region.Child(InternalNode)) || !IsInternal(region, Notification(region, "", "x")) {
		t.Fatalf("internal subtree not recognized")
	}
	if IsInternal(region, ForKey(region, "x")) {
		t.Fatalf("key node reported as internal")
	}
}
