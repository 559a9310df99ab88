// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package placement computes deterministic replica assignments for
// shards. Assignment is a pure function of the shard identifier and
// the epoch's frozen eligible-node list: every node that replays the
// event log computes byte-identical replica sets. No load, latency,
// or capacity heuristic is permitted here — anything non-deterministic
// would fork the replay.
package placement

import (
	"errors"
	"fmt"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
)

// ErrNoEligibleNodes is returned when the eligible set cannot satisfy
// the replication factor: either no nodes are eligible in the current
// epoch, or fewer than replicationFactor distinct nodes are.
var ErrNoEligibleNodes = errors.New("no eligible nodes")

// Assign computes the ordered replica set for one shard: the
// replicationFactor consecutive nodes starting at
// Start(shard, len(eligible)), wrapping around the end of the list.
// Consecutive positions in a strictly sorted list are distinct nodes,
// so the result always holds replicationFactor distinct node IDs.
//
// The eligible list must be strictly sorted by node ID — the frozen
// per-epoch snapshot the registry maintains. An unsorted or duplicated
// list is a caller bug and fails loudly rather than producing replica
// sets that differ from every other replayer's.
func Assign(shard canonical.Hash, eligible []string, replicationFactor int) ([]string, error) {
	if replicationFactor <= 0 {
		return nil, fmt.Errorf("replication factor %d is not positive", replicationFactor)
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleNodes
	}
	for i := 1; i < len(eligible); i++ {
		if eligible[i] <= eligible[i-1] {
			return nil, fmt.Errorf("eligible node list is not strictly sorted at index %d (%q, %q)",
				i, eligible[i-1], eligible[i])
		}
	}
	if len(eligible) < replicationFactor {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNoEligibleNodes, len(eligible), replicationFactor)
	}

	start := Start(shard, len(eligible))
	replicas := make([]string, replicationFactor)
	for i := range replicas {
		replicas[i] = eligible[(start+i)%len(eligible)]
	}
	return replicas, nil
}

// Start computes the ring position anchoring a shard's replica set:
// the shard's placement digest reduced modulo the eligible node count.
// Exposed so operator tooling can explain why a shard landed where it
// did.
func Start(shard canonical.Hash, nodeCount int) int {
	return int(canonical.PlacementDigest(shard) % uint64(nodeCount))
}
