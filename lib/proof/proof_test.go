// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package proof

import (
	"fmt"
	"testing"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
)

// makeLeaves produces n distinct leaf hashes.
func makeLeaves(n int) []canonical.Hash {
	leaves := make([]canonical.Hash, n)
	for i := range leaves {
		leaves[i] = canonical.LeafHash([]byte(fmt.Sprintf("block %d", i)))
	}
	return leaves
}

func TestSingleLeafRootIsLeaf(t *testing.T) {
	leaves := makeLeaves(1)
	tree := Build(leaves)

	if tree.Root() != leaves[0] {
		t.Error("single-leaf root is not the leaf itself")
	}
	if tree.LeafCount() != 1 {
		t.Errorf("LeafCount = %d, want 1", tree.LeafCount())
	}
}

func TestTwoLeafRoot(t *testing.T) {
	leaves := makeLeaves(2)
	tree := Build(leaves)

	want := canonical.NodeHash(leaves[0], leaves[1])
	if tree.Root() != want {
		t.Error("two-leaf root is not NodeHash(leaf0, leaf1)")
	}
}

func TestThreeLeafPromotion(t *testing.T) {
	// With 3 leaves, the last is promoted: root = NodeHash(NodeHash(l0, l1), l2).
	leaves := makeLeaves(3)
	tree := Build(leaves)

	want := canonical.NodeHash(canonical.NodeHash(leaves[0], leaves[1]), leaves[2])
	if tree.Root() != want {
		t.Error("three-leaf root does not promote the odd leaf")
	}
}

func TestFourLeafRoot(t *testing.T) {
	leaves := makeLeaves(4)
	tree := Build(leaves)

	left := canonical.NodeHash(leaves[0], leaves[1])
	right := canonical.NodeHash(leaves[2], leaves[3])
	want := canonical.NodeHash(left, right)
	if tree.Root() != want {
		t.Error("four-leaf root is not the full binary combination")
	}
}

func TestAllProofsVerify(t *testing.T) {
	// Every leaf of every tree size must produce a proof that
	// verifies against the root. Sizes cover power-of-two, odd, and
	// repeated-promotion shapes.
	for count := 1; count <= 9; count++ {
		t.Run(fmt.Sprintf("%d leaves", count), func(t *testing.T) {
			leaves := makeLeaves(count)
			tree := Build(leaves)
			root := tree.Root()

			for index := range count {
				membershipProof, err := tree.Proof(index)
				if err != nil {
					t.Fatalf("Proof(%d): %v", index, err)
				}
				if !Verify(root, membershipProof, leaves[index]) {
					t.Errorf("proof for leaf %d of %d does not verify", index, count)
				}
			}
		})
	}
}

func TestProofRejectsWrongLeaf(t *testing.T) {
	leaves := makeLeaves(5)
	tree := Build(leaves)
	root := tree.Root()

	membershipProof, err := tree.Proof(2)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	wrongLeaf := canonical.LeafHash([]byte("not the stored block"))
	if Verify(root, membershipProof, wrongLeaf) {
		t.Error("proof verified a leaf that is not in the tree")
	}
}

func TestProofRejectsWrongRoot(t *testing.T) {
	leaves := makeLeaves(5)
	tree := Build(leaves)

	membershipProof, err := tree.Proof(2)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	otherRoot := Build(makeLeaves(6)).Root()
	if Verify(otherRoot, membershipProof, leaves[2]) {
		t.Error("proof verified against a different tree's root")
	}
}

func TestProofRejectsWrongIndex(t *testing.T) {
	// A proof presented for a different leaf position must fail even
	// with the correct leaf at the claimed position.
	leaves := makeLeaves(8)
	tree := Build(leaves)
	root := tree.Root()

	membershipProof, err := tree.Proof(3)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	membershipProof.LeafIndex = 4
	if Verify(root, membershipProof, leaves[4]) {
		t.Error("proof for leaf 3 verified at position 4")
	}
}

func TestProofRejectsTamperedPath(t *testing.T) {
	leaves := makeLeaves(6)
	tree := Build(leaves)
	root := tree.Root()

	membershipProof, err := tree.Proof(1)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	membershipProof.Path[0][0] ^= 0x01
	if Verify(root, membershipProof, leaves[1]) {
		t.Error("proof with a flipped path bit still verified")
	}
}

func TestProofRejectsTruncatedAndPaddedPath(t *testing.T) {
	leaves := makeLeaves(6)
	tree := Build(leaves)
	root := tree.Root()

	membershipProof, err := tree.Proof(1)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}

	truncated := membershipProof
	truncated.Path = truncated.Path[:len(truncated.Path)-1]
	if Verify(root, truncated, leaves[1]) {
		t.Error("truncated proof verified")
	}

	padded := membershipProof
	padded.Path = append(append([]canonical.Hash{}, padded.Path...), canonical.Hash{})
	if Verify(root, padded, leaves[1]) {
		t.Error("padded proof verified")
	}
}

func TestVerifyRejectsBadCounts(t *testing.T) {
	leaf := canonical.LeafHash([]byte("block"))

	if Verify(leaf, Proof{LeafIndex: 0, LeafCount: 0}, leaf) {
		t.Error("zero LeafCount verified")
	}
	if Verify(leaf, Proof{LeafIndex: 2, LeafCount: 2}, leaf) {
		t.Error("out-of-range LeafIndex verified")
	}
	if Verify(leaf, Proof{LeafIndex: -1, LeafCount: 2}, leaf) {
		t.Error("negative LeafIndex verified")
	}
}

func TestPromotedLeafHasShorterPath(t *testing.T) {
	// With 5 leaves, leaf 4 is promoted twice: its path has a single
	// element while leaf 0's has three.
	tree := Build(makeLeaves(5))

	promoted, err := tree.Proof(4)
	if err != nil {
		t.Fatalf("Proof(4): %v", err)
	}
	full, err := tree.Proof(0)
	if err != nil {
		t.Fatalf("Proof(0): %v", err)
	}

	if len(promoted.Path) != 1 {
		t.Errorf("promoted leaf path length = %d, want 1", len(promoted.Path))
	}
	if len(full.Path) != 3 {
		t.Errorf("paired leaf path length = %d, want 3", len(full.Path))
	}
}

func TestProofIndexOutOfRange(t *testing.T) {
	tree := Build(makeLeaves(4))

	if _, err := tree.Proof(-1); err == nil {
		t.Error("Proof(-1) succeeded")
	}
	if _, err := tree.Proof(4); err == nil {
		t.Error("Proof(4) succeeded on a 4-leaf tree")
	}
}

func TestLeaf(t *testing.T) {
	leaves := makeLeaves(3)
	tree := Build(leaves)

	got, err := tree.Leaf(2)
	if err != nil {
		t.Fatalf("Leaf(2): %v", err)
	}
	if got != leaves[2] {
		t.Error("Leaf(2) returned a different hash")
	}
	if _, err := tree.Leaf(3); err == nil {
		t.Error("Leaf(3) succeeded on a 3-leaf tree")
	}
}

func TestBuildPanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Build did not panic on empty leaf list")
		}
	}()
	Build(nil)
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	leaves := makeLeaves(4)
	tree := Build(leaves)
	rootBefore := tree.Root()

	leaves[0] = canonical.LeafHash([]byte("mutated after build"))

	if tree.Root() != rootBefore {
		t.Error("mutating the input slice changed the tree")
	}
}

func BenchmarkBuild(b *testing.B) {
	leaves := makeLeaves(64)

	b.ReportAllocs()
	for b.Loop() {
		Build(leaves)
	}
}

func BenchmarkVerify(b *testing.B) {
	leaves := makeLeaves(64)
	tree := Build(leaves)
	root := tree.Root()
	membershipProof, err := tree.Proof(17)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for b.Loop() {
		if !Verify(root, membershipProof, leaves[17]) {
			b.Fatal("proof did not verify")
		}
	}
}
