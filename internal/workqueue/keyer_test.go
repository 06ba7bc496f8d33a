package workqueue

import (
	"strings"
	"testing"

	"github.com/zeebo/xxh3"
)

// caseFold groups keys case-insensitively.
var caseFold = FuncKeyer[string, string]{
	KeyFn:   func(s string) string { return s[:strings.IndexByte(s, '/')] },
	HashFn:  func(k string) uint64 { return xxh3.HashString(strings.ToLower(k)) },
	EqualFn: strings.EqualFold,
}

// TestFuncKeyerCustomEquality verifies buckets follow the caller's equality.
func TestFuncKeyerCustomEquality(t *testing.T) {
	q := New[string, string](caseFold)
	q.Add("Music/a.ogg")
	q.Add("MUSIC/b.ogg")
	q.Add("video/c.mkv")

	if q.buckets != 2 {
		t.Fatalf("buckets = %d, want 2 (Music and MUSIC share one)", q.buckets)
	}

	q.Prioritize("music")
	for i := 0; i < 2; i++ {
		got, _ := q.Pop()
		if !strings.EqualFold(got[:5], "music") {
			t.Fatalf("pop %d = %q, want a music item", i, got)
		}
	}
	if !q.Contains("video/c.mkv") {
		t.Error("Contains(video/c.mkv) = false")
	}
	checkInvariants(t, q)
}

// collideKeyer hashes every key to the same value to exercise bucket chains.
var collideKeyer = FuncKeyer[string, string]{
	KeyFn:   func(s string) string { return s },
	HashFn:  func(string) uint64 { return 1 },
	EqualFn: func(a, b string) bool { return a == b },
}

// TestHashCollisionsShareChain verifies colliding keys keep separate buckets.
func TestHashCollisionsShareChain(t *testing.T) {
	q := New[string, string](collideKeyer)
	for _, s := range []string{"a", "b", "c", "b"} {
		q.Add(s)
	}
	if len(q.index) != 1 || len(q.index[1]) != 3 {
		t.Fatalf("index = %d chains, chain length %d; want 1 chain of 3", len(q.index), len(q.index[1]))
	}

	q.Prioritize("b")
	for i := 0; i < 2; i++ {
		if got, _ := q.Pop(); got != "b" {
			t.Fatalf("pop %d = %q, want b", i, got)
		}
	}
	if len(q.index[1]) != 2 {
		t.Errorf("chain length = %d after draining b, want 2", len(q.index[1]))
	}
	checkInvariants(t, q)

	drain(t, q)
	if len(q.index) != 0 {
		t.Errorf("index holds %d chains after drain", len(q.index))
	}
}

// TestFuncKeyerRequiresAllFunctions verifies New rejects incomplete keyers.
func TestFuncKeyerRequiresAllFunctions(t *testing.T) {
	hash := func(string) uint64 { return 1 }
	tests := []struct {
		name  string
		keyer FuncKeyer[string, string]
	}{
		{"no equality", FuncKeyer[string, string]{KeyFn: strings.ToLower, HashFn: hash}},
		{"no hash", FuncKeyer[string, string]{KeyFn: strings.ToLower, EqualFn: strings.EqualFold}},
		{"no key", FuncKeyer[string, string]{HashFn: hash, EqualFn: strings.EqualFold}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("New() accepted an incomplete FuncKeyer")
				}
			}()
			New[string, string](tt.keyer)
		})
	}
}

// TestIdentityKeyer verifies strings are their own keys.
func TestIdentityKeyer(t *testing.T) {
	k := Identity()
	if k.KeyOf("/a/b") != "/a/b" {
		t.Error("Identity().KeyOf changed the item")
	}
	if k.Hash("x") != xxh3.HashString("x") {
		t.Error("Identity().Hash is not xxh3")
	}
	if !k.Equal("x", "x") || k.Equal("x", "X") {
		t.Error("Identity().Equal is not string equality")
	}
}
