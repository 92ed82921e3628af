package digest

import (
	"testing"
)

func TestLinkHash_Deterministic(t *testing.T) {
	a := LinkHash("did:key:a", "2026-01-01T00:00:00.000Z", "s", "p", "o")
	b := LinkHash("did:key:a", "2026-01-01T00:00:00.000Z", "s", "p", "o")
	if a != b {
		t.Fatalf("same link produced different hashes: %x vs %x", a, b)
	}
}

func TestLinkHash_FieldBoundaries(t *testing.T) {
	a := LinkHash("did:key:a", "t", "ab", "c", "o")
	b := LinkHash("did:key:a", "t", "a", "bc", "o")
	if a == b {
		t.Fatal("shifting bytes between fields must change the hash")
	}
}

func TestParseHash_RoundTrip(t *testing.T) {
	h := LinkHash("x", "y", "s", "p", "o")
	got, err := ParseHash(HexHash(h))
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: %x vs %x", got, h)
	}

	if _, err := ParseHash("zz"); err == nil {
		t.Fatal("expected error for non-hex digest")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Fatal("expected error for short digest")
	}
}

func TestTree_EmptyRoot(t *testing.T) {
	if root := NewTree().Root(); root != (Hash{}) {
		t.Fatalf("empty tree should have zero root, got %x", root)
	}
}

func TestTree_DeterministicRoot(t *testing.T) {
	a := NewTree()
	b := NewTree()

	h1 := LinkHash("alice", "t1", "s", "p", "1")
	h2 := LinkHash("alice", "t2", "s", "p", "2")
	h3 := LinkHash("bob", "t3", "s", "p", "3")

	a.Insert("alice", h1)
	a.Insert("alice", h2)
	a.Insert("bob", h3)

	b.Insert("bob", h3)
	b.Insert("alice", h2)
	b.Insert("alice", h1)

	if a.Root() != b.Root() {
		t.Fatalf("trees with same leaves should have same root: %x vs %x", a.Root(), b.Root())
	}
}

func TestTree_InsertIsIdempotent(t *testing.T) {
	tree := NewTree()
	h := LinkHash("alice", "t", "s", "p", "o")
	tree.Insert("alice", h)
	root := tree.Root()
	tree.Insert("alice", h)
	if tree.Root() != root {
		t.Fatal("duplicate insert must not change the tree")
	}
}

func TestTree_AuthorInGroupHash(t *testing.T) {
	h := LinkHash("x", "t", "s", "p", "o")
	a := NewTree()
	a.Insert("alice", h)
	b := NewTree()
	b.Insert("bob", h)
	if a.Root() == b.Root() {
		t.Fatal("same leaf under different authors should differ")
	}
}
