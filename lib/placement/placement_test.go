// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"errors"
	"fmt"
	"testing"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
)

// nineNodes is a strictly sorted eligible list matching a typical
// deployment: more nodes than the replication factor.
var nineNodes = []string{
	"node-1", "node-2", "node-3", "node-4", "node-5",
	"node-6", "node-7", "node-8", "node-9",
}

func TestAssignDeterministic(t *testing.T) {
	shard := canonical.ShardID("doc-1", 1, 0)

	first, err := Assign(shard, nineNodes, 3)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	second, err := Assign(shard, nineNodes, 3)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("replica set size = %d, want 3", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("replica %d differs between runs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestAssignIsConsecutiveWindow(t *testing.T) {
	// The replica set is exactly the replicationFactor consecutive
	// ring positions from Start, wrapping.
	for index := uint32(0); index < 8; index++ {
		shard := canonical.ShardID("doc-1", 1, index)

		replicas, err := Assign(shard, nineNodes, 3)
		if err != nil {
			t.Fatalf("Assign(index %d): %v", index, err)
		}

		start := Start(shard, len(nineNodes))
		for i, replica := range replicas {
			want := nineNodes[(start+i)%len(nineNodes)]
			if replica != want {
				t.Errorf("shard %d replica %d = %q, want %q", index, i, replica, want)
			}
		}
	}
}

func TestAssignReplicasDistinct(t *testing.T) {
	for version := uint64(1); version <= 4; version++ {
		for index := uint32(0); index < 4; index++ {
			shard := canonical.ShardID("doc-1", version, index)

			replicas, err := Assign(shard, nineNodes, 3)
			if err != nil {
				t.Fatalf("Assign(v%d s%d): %v", version, index, err)
			}

			seen := make(map[string]bool, len(replicas))
			for _, replica := range replicas {
				if seen[replica] {
					t.Errorf("v%d s%d: node %q assigned twice in one replica set", version, index, replica)
				}
				seen[replica] = true
			}
		}
	}
}

func TestAssignWrapsAroundRing(t *testing.T) {
	// With replicationFactor equal to the node count, every node is
	// selected exactly once regardless of where the window starts.
	shard := canonical.ShardID("doc-wrap", 1, 0)

	replicas, err := Assign(shard, nineNodes, len(nineNodes))
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	seen := make(map[string]bool, len(replicas))
	for _, replica := range replicas {
		seen[replica] = true
	}
	if len(seen) != len(nineNodes) {
		t.Errorf("full-ring window selected %d distinct nodes, want %d", len(seen), len(nineNodes))
	}
}

func TestAssignSpreadsAcrossRing(t *testing.T) {
	// Different shards must not all anchor at the same ring position;
	// otherwise the first nodes in sort order absorb every replica.
	starts := make(map[int]bool)
	for i := range 64 {
		shard := canonical.ShardID(fmt.Sprintf("doc-%d", i), 1, 0)
		starts[Start(shard, len(nineNodes))] = true
	}
	if len(starts) < 2 {
		t.Errorf("64 shards anchored at %d distinct positions, want several", len(starts))
	}
}

func TestAssignEmptyEligible(t *testing.T) {
	shard := canonical.ShardID("doc-1", 1, 0)

	_, err := Assign(shard, nil, 3)
	if !errors.Is(err, ErrNoEligibleNodes) {
		t.Errorf("Assign with empty eligible: err = %v, want ErrNoEligibleNodes", err)
	}
}

func TestAssignInsufficientEligible(t *testing.T) {
	shard := canonical.ShardID("doc-1", 1, 0)

	_, err := Assign(shard, []string{"node-1", "node-2"}, 3)
	if !errors.Is(err, ErrNoEligibleNodes) {
		t.Errorf("Assign with 2 nodes for RF 3: err = %v, want ErrNoEligibleNodes", err)
	}
}

func TestAssignRejectsBadInput(t *testing.T) {
	shard := canonical.ShardID("doc-1", 1, 0)

	cases := []struct {
		name              string
		eligible          []string
		replicationFactor int
	}{
		{"unsorted", []string{"node-2", "node-1", "node-3"}, 2},
		{"duplicate", []string{"node-1", "node-1", "node-2"}, 2},
		{"zero replication factor", nineNodes, 0},
		{"negative replication factor", nineNodes, -1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Assign(shard, c.eligible, c.replicationFactor); err == nil {
				t.Error("Assign succeeded, want error")
			}
		})
	}
}

func TestAssignSingleNodeSingleReplica(t *testing.T) {
	shard := canonical.ShardID("doc-1", 1, 0)

	replicas, err := Assign(shard, []string{"only-node"}, 1)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(replicas) != 1 || replicas[0] != "only-node" {
		t.Errorf("replicas = %v, want [only-node]", replicas)
	}
}

func BenchmarkAssign(b *testing.B) {
	shard := canonical.ShardID("doc-1", 1, 0)

	b.ReportAllocs()
	for b.Loop() {
		if _, err := Assign(shard, nineNodes, 3); err != nil {
			b.Fatal(err)
		}
	}
}
