package digest

import (
	"crypto/sha256"
	"sort"
	"sync"
)

// Tree is an in-memory Merkle tree over link hashes.
//
//	Root
//	└── Group (author)
//	    └── Leaf (link hash)
//
// Insert is O(1); the root is recomputed lazily.
type Tree struct {
	mu     sync.Mutex
	groups map[string]*group
	dirty  bool
	root   Hash
}

type group struct {
	author string
	leaves map[Hash]struct{}
	dirty  bool
	hash   Hash
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{groups: make(map[string]*group)}
}

// Insert adds a link hash under author.
func (t *Tree) Insert(author string, leaf Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.groups[author]
	if !ok {
		g = &group{author: author, leaves: make(map[Hash]struct{})}
		t.groups[author] = g
	}
	if _, exists := g.leaves[leaf]; exists {
		return
	}
	g.leaves[leaf] = struct{}{}
	g.dirty = true
	t.dirty = true
}

// Root returns the Merkle root. An empty tree has a zero root.
func (t *Tree) Root() Hash {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return t.root
	}
	t.recompute()
	return t.root
}

// Caller must hold t.mu.
func (t *Tree) recompute() {
	if len(t.groups) == 0 {
		t.root = Hash{}
		t.dirty = false
		return
	}

	hashes := make([]Hash, 0, len(t.groups))
	for _, g := range t.groups {
		if g.dirty {
			g.recomputeHash()
		}
		hashes = append(hashes, g.hash)
	}
	sortHashes(hashes)

	h := sha256.New()
	h.Write([]byte("root:"))
	for _, gh := range hashes {
		h.Write(gh[:])
	}
	h.Sum(t.root[:0])
	t.dirty = false
}

func (g *group) recomputeHash() {
	hashes := make([]Hash, 0, len(g.leaves))
	for h := range g.leaves {
		hashes = append(hashes, h)
	}
	sortHashes(hashes)

	hasher := sha256.New()
	hasher.Write([]byte("grp:"))
	// the author is part of the group hash so equal leaf sets under
	// different authors differ
	hasher.Write([]byte(g.author))
	hasher.Write([]byte("\x00"))
	for _, h := range hashes {
		hasher.Write(h[:])
	}
	hasher.Sum(g.hash[:0])
	g.dirty = false
}

func sortHashes(hashes []Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		for k := 0; k < len(hashes[i]); k++ {
			if hashes[i][k] != hashes[j][k] {
				return hashes[i][k] < hashes[j][k]
			}
		}
		return false
	})
}
