// Package tree implements the fork tree: a DAG of block hashes to their
// previous hash, a set of tips, and the main-chain selection rule. Per
// spec.md §9, it is kept as a flat hash map plus a small tip vector —
// children are never enumerated, only parent-ward walks are needed, and
// those are bounded by the stability threshold or the genesis sentinel.
package tree

import (
	"sort"

	"driftchain/params"
	"driftchain/xcrypto"
)

// Branch is a tip of the fork tree.
type Branch struct {
	Hash      xcrypto.Hash
	Height    uint64
	Timestamp uint32
}

// Tree is the DAG of known block hashes.
type Tree struct {
	previous map[xcrypto.Hash]xcrypto.Hash
	heights  map[xcrypto.Hash]uint64
	branches []Branch
}

// New returns an empty fork tree.
func New() *Tree {
	return &Tree{
		previous: make(map[xcrypto.Hash]xcrypto.Hash),
		heights:  make(map[xcrypto.Hash]uint64),
	}
}

// Contains reports whether hash is already known to the tree.
func (t *Tree) Contains(hash xcrypto.Hash) bool {
	_, ok := t.previous[hash]
	return ok || hash == params.ZeroHash
}

// Height returns the height of hash (genesis previous_hash is height 0), as
// recorded when hash was inserted. It panics if hash is not in the tree,
// which would indicate a block whose ancestry the caller never validated.
func (t *Tree) Height(hash xcrypto.Hash) uint64 {
	if hash == params.ZeroHash {
		return 0
	}
	if h, ok := t.heights[hash]; ok {
		return h
	}
	panic("tree: walk did not terminate at genesis — unvalidated ancestry")
}

// Insert records a new block hash under previousHash. It returns nil if
// hash is already known, a pointer to true if this creates a new tip
// (previousHash was not an existing tip), or a pointer to false if it
// extends an existing tip.
func (t *Tree) Insert(hash, previousHash xcrypto.Hash, timestamp uint32) *bool {
	if t.Contains(hash) {
		return nil
	}
	height := t.Height(previousHash) + 1
	t.previous[hash] = previousHash
	t.heights[hash] = height

	isFork := true
	for i, b := range t.branches {
		if b.Hash == previousHash {
			t.branches[i] = Branch{Hash: hash, Height: height, Timestamp: timestamp}
			isFork = false
			break
		}
	}
	if isFork {
		t.branches = append(t.branches, Branch{Hash: hash, Height: height, Timestamp: timestamp})
	}
	fork := isFork
	return &fork
}

// SortBranches orders tips descending by height, breaking ties by the
// oldest timestamp first.
func (t *Tree) SortBranches() {
	sort.Slice(t.branches, func(i, j int) bool {
		a, b := t.branches[i], t.branches[j]
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Timestamp < b.Timestamp
	})
}

// Main returns the current main-chain tip: the first branch after sorting.
// The zero value and false are returned if the tree is empty.
func (t *Tree) Main() (Branch, bool) {
	if len(t.branches) == 0 {
		return Branch{}, false
	}
	return t.branches[0], true
}

// Branches returns the current tip list, in the last-sorted order.
func (t *Tree) Branches() []Branch {
	out := make([]Branch, len(t.branches))
	copy(out, t.branches)
	return out
}

// Previous returns the recorded previous hash for hash.
func (t *Tree) Previous(hash xcrypto.Hash) (xcrypto.Hash, bool) {
	if hash == params.ZeroHash {
		return xcrypto.Hash{}, false
	}
	p, ok := t.previous[hash]
	return p, ok
}

// walkBack returns up to n hashes walking backward from start (inclusive),
// oldest first, stopping early at genesis.
func (t *Tree) walkBack(start xcrypto.Hash, n int) []xcrypto.Hash {
	hashes := make([]xcrypto.Hash, 0, n)
	cur := start
	for i := 0; i < n && cur != params.ZeroHash; i++ {
		hashes = append(hashes, cur)
		prev, ok := t.previous[cur]
		if !ok {
			break
		}
		cur = prev
	}
	for i, j := 0, len(hashes)-1; i < j; i, j = i+1, j-1 {
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}
	return hashes
}

// UnstableHashes walks from Main() backward up to trustForkAfterBlocks
// steps, oldest first, dropping the trailing genesis sentinel if reached.
func (t *Tree) UnstableHashes(trustForkAfterBlocks uint64) []xcrypto.Hash {
	main, ok := t.Main()
	if !ok {
		return nil
	}
	return t.walkBack(main.Hash, int(trustForkAfterBlocks))
}

// StableAndUnstableHashes walks the entire main chain backward to genesis;
// the last trustForkAfterBlocks hashes are unstable, the rest are stable
// (oldest first in each slice).
func (t *Tree) StableAndUnstableHashes(trustForkAfterBlocks uint64) (stable, unstable []xcrypto.Hash) {
	main, ok := t.Main()
	if !ok {
		return nil, nil
	}
	full := t.walkBack(main.Hash, int(t.Height(main.Hash)))
	if uint64(len(full)) <= trustForkAfterBlocks {
		return nil, full
	}
	cut := uint64(len(full)) - trustForkAfterBlocks
	return full[:cut], full[cut:]
}

// Clear resets the tree, used when reloading from the store.
func (t *Tree) Clear() {
	t.previous = make(map[xcrypto.Hash]xcrypto.Hash)
	t.heights = make(map[xcrypto.Hash]uint64)
	t.branches = nil
}
