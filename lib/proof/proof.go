// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package proof builds Merkle trees over shard block hashes and
// produces membership proofs for them. A proof lets an auditor verify
// that one block belongs to a stored object version while holding only
// the object's Merkle root — possession of the root plus the sibling
// path is enough, no other block required.
//
// Trees are binary and built bottom-up. An odd node at any level is
// promoted to the next level unhashed; promotion consumes no sibling,
// so proof paths for leaves under a promoted node are shorter than the
// full tree height. Leaf and interior hashes live in different hash
// domains ([canonical.LeafHash] vs [canonical.NodeHash]), so a crafted
// interior value can never masquerade as a leaf.
package proof

import (
	"fmt"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
)

// Tree is a Merkle tree over an ordered list of leaf hashes. The
// whole tree is retained level by level so proofs for any leaf are
// served without rehashing.
type Tree struct {
	// levels[0] is the leaf level; each following level halves
	// (rounding up, via promotion); the last level is the root alone.
	levels [][]canonical.Hash
}

// Proof is a membership proof for one leaf. Path holds the sibling
// hashes from the leaf level upward; levels where the leaf's ancestor
// was promoted contribute no element.
type Proof struct {
	// LeafIndex is the position of the proven leaf in the original
	// leaf list.
	LeafIndex int

	// LeafCount is the total number of leaves in the tree. Verify
	// needs it to recompute level widths, which determine where
	// promotions happened.
	LeafCount int

	// Path holds the sibling hashes, leaf level first.
	Path []canonical.Hash
}

// Build constructs the Merkle tree over the given leaf hashes. The
// engine always has at least one block per object version, so an
// empty leaf list is a caller bug and panics.
func Build(leaves []canonical.Hash) *Tree {
	if len(leaves) == 0 {
		panic("proof.Build: empty leaf list")
	}

	// Copy the leaf level so later appends by the caller cannot
	// corrupt the tree.
	level := make([]canonical.Hash, len(leaves))
	copy(level, leaves)

	levels := [][]canonical.Hash{level}
	for len(level) > 1 {
		nextLength := (len(level) + 1) / 2
		next := make([]canonical.Hash, nextLength)

		for i := 0; i+1 < len(level); i += 2 {
			next[i/2] = canonical.NodeHash(level[i], level[i+1])
		}

		// Odd node: promote without hashing.
		if len(level)%2 == 1 {
			next[nextLength-1] = level[len(level)-1]
		}

		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}
}

// Root returns the Merkle root.
func (t *Tree) Root() canonical.Hash {
	return t.levels[len(t.levels)-1][0]
}

// LeafCount returns the number of leaves the tree was built over.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Leaf returns the leaf hash at the given index.
func (t *Tree) Leaf(index int) (canonical.Hash, error) {
	if index < 0 || index >= t.LeafCount() {
		return canonical.Hash{}, fmt.Errorf("leaf index %d out of range [0, %d)", index, t.LeafCount())
	}
	return t.levels[0][index], nil
}

// Proof returns the membership proof for the leaf at the given index.
func (t *Tree) Proof(index int) (Proof, error) {
	if index < 0 || index >= t.LeafCount() {
		return Proof{}, fmt.Errorf("leaf index %d out of range [0, %d)", index, t.LeafCount())
	}

	membershipProof := Proof{
		LeafIndex: index,
		LeafCount: t.LeafCount(),
	}

	position := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if position == len(level)-1 && len(level)%2 == 1 {
			// Promoted at this level: no sibling.
			position /= 2
			continue
		}

		sibling := position ^ 1
		membershipProof.Path = append(membershipProof.Path, level[sibling])
		position /= 2
	}

	return membershipProof, nil
}

// Verify recomputes the root from a leaf hash and its proof, and
// reports whether it matches the expected root. The level widths are
// recomputed from LeafCount, so Verify applies exactly the promotions
// Build did; a proof with leftover or missing path elements fails.
func Verify(root canonical.Hash, membershipProof Proof, leaf canonical.Hash) bool {
	if membershipProof.LeafCount < 1 {
		return false
	}
	if membershipProof.LeafIndex < 0 || membershipProof.LeafIndex >= membershipProof.LeafCount {
		return false
	}

	current := leaf
	position := membershipProof.LeafIndex
	width := membershipProof.LeafCount
	consumed := 0

	for width > 1 {
		if position == width-1 && width%2 == 1 {
			// Promoted: ancestor carries upward unhashed.
			position /= 2
			width = (width + 1) / 2
			continue
		}

		if consumed >= len(membershipProof.Path) {
			return false
		}
		sibling := membershipProof.Path[consumed]
		consumed++

		if position%2 == 0 {
			current = canonical.NodeHash(current, sibling)
		} else {
			current = canonical.NodeHash(sibling, current)
		}
		position /= 2
		width = (width + 1) / 2
	}

	return consumed == len(membershipProof.Path) && current == root
}
