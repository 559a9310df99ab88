// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"
	"slices"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/codec"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
)

// snapshot is the canonical serialization of a State. Every
// collection is emitted in sorted order so that two states with equal
// contents encode to equal bytes regardless of map iteration order or
// event interleaving history.
type snapshot struct {
	Constants       schema.Constants    `cbor:"constants"`
	Epoch           uint64              `cbor:"epoch"`
	Eligible        []string            `cbor:"eligible"`
	EligibleByEpoch map[uint64][]string `cbor:"eligible_by_epoch,omitempty"`
	Nodes           []nodeSnapshot      `cbor:"nodes,omitempty"`
	Objects         []objectSnapshot    `cbor:"objects,omitempty"`
	Metrics         metricsSnapshot     `cbor:"metrics"`
	LastTick        uint64              `cbor:"last_tick"`
	EventCount      uint64              `cbor:"event_count"`
}

type nodeSnapshot struct {
	NodeID string `cbor:"node_id"`
	Host   string `cbor:"host,omitempty"`
	Port   uint16 `cbor:"port,omitempty"`
	Status uint8  `cbor:"status"`
}

type objectSnapshot struct {
	ObjectID      string            `cbor:"object_id"`
	Version       uint64            `cbor:"version"`
	SchemaVersion uint32            `cbor:"schema_version"`
	HashCommit    []byte            `cbor:"hash_commit"`
	ContentSize   uint64            `cbor:"content_size"`
	Metadata      map[string]string `cbor:"metadata,omitempty"`
	ShardIDs      [][]byte          `cbor:"shard_ids"`
	BlockHashes   [][]byte          `cbor:"block_hashes"`
	MerkleRoot    []byte            `cbor:"merkle_root"`
	Replicas      [][]string        `cbor:"replicas"`
	ATRCost       uint64            `cbor:"atr_cost"`
	StoredAtTick  uint64            `cbor:"stored_at_tick"`
	StoredAtEpoch uint64            `cbor:"stored_at_epoch"`
}

type metricsSnapshot struct {
	ObjectsStored          uint64            `cbor:"objects_stored"`
	ReadsServed            uint64            `cbor:"reads_served"`
	ListsServed            uint64            `cbor:"lists_served"`
	ProofCalls             uint64            `cbor:"proof_calls"`
	TotalATRCost           uint64            `cbor:"total_atr_cost"`
	BytesStoredPerNode     map[string]uint64 `cbor:"bytes_stored_per_node,omitempty"`
	ProofsGeneratedPerNode map[string]uint64 `cbor:"proofs_generated_per_node,omitempty"`
	ProofsFailedPerNode    map[string]uint64 `cbor:"proofs_failed_per_node,omitempty"`
	ErrorsByCode           map[string]uint64 `cbor:"errors_by_code,omitempty"`
}

// Hash returns the canonical digest of the state. A live engine and
// a replay of its log must produce the same digest; anything else is
// evidence of divergence.
func (s *State) Hash() (canonical.Hash, error) {
	snap := snapshot{
		Constants:  s.Constants,
		Epoch:      s.Registry.Epoch(),
		Eligible:   s.Registry.Eligible(),
		Metrics:    s.metricsSnapshot(),
		LastTick:   s.lastTick,
		EventCount: s.eventCount,
	}

	if len(s.eligibleByEpoch) > 0 {
		snap.EligibleByEpoch = s.eligibleByEpoch
	}

	for _, node := range s.Registry.Nodes() {
		snap.Nodes = append(snap.Nodes, nodeSnapshot{
			NodeID: node.ID,
			Host:   node.Host,
			Port:   node.Port,
			Status: uint8(node.Status),
		})
	}

	objectIDs := make([]string, 0, len(s.objects))
	for objectID := range s.objects {
		objectIDs = append(objectIDs, objectID)
	}
	slices.Sort(objectIDs)
	for _, objectID := range objectIDs {
		for _, version := range s.Versions(objectID) {
			object := s.objects[objectID][version]
			snap.Objects = append(snap.Objects, objectSnapshotOf(object))
		}
	}

	encoded, err := codec.Marshal(snap)
	if err != nil {
		return canonical.Hash{}, fmt.Errorf("encoding state snapshot: %w", err)
	}
	return canonical.StateDigest(encoded), nil
}

func objectSnapshotOf(object *ObjectVersion) objectSnapshot {
	snap := objectSnapshot{
		ObjectID:      object.ObjectID,
		Version:       object.Version,
		SchemaVersion: object.SchemaVersion,
		HashCommit:    object.HashCommit[:],
		ContentSize:   object.ContentSize,
		Metadata:      object.Metadata,
		MerkleRoot:    object.MerkleRoot[:],
		Replicas:      object.Replicas,
		ATRCost:       object.ATRCost,
		StoredAtTick:  object.StoredAtTick,
		StoredAtEpoch: object.StoredAtEpoch,
	}
	snap.ShardIDs = make([][]byte, len(object.ShardIDs))
	for i, shardID := range object.ShardIDs {
		snap.ShardIDs[i] = shardID[:]
	}
	snap.BlockHashes = make([][]byte, len(object.BlockHashes))
	for i, blockHash := range object.BlockHashes {
		snap.BlockHashes[i] = blockHash[:]
	}
	return snap
}

func (s *State) metricsSnapshot() metricsSnapshot {
	snap := metricsSnapshot{
		ObjectsStored: s.Metrics.ObjectsStored,
		ReadsServed:   s.Metrics.ReadsServed,
		ListsServed:   s.Metrics.ListsServed,
		ProofCalls:    s.Metrics.ProofCalls,
		TotalATRCost:  s.Metrics.TotalATRCost,
	}
	if len(s.Metrics.BytesStoredPerNode) > 0 {
		snap.BytesStoredPerNode = s.Metrics.BytesStoredPerNode
	}
	if len(s.Metrics.ProofsGeneratedPerNode) > 0 {
		snap.ProofsGeneratedPerNode = s.Metrics.ProofsGeneratedPerNode
	}
	if len(s.Metrics.ProofsFailedPerNode) > 0 {
		snap.ProofsFailedPerNode = s.Metrics.ProofsFailedPerNode
	}
	if len(s.Metrics.ErrorsByCode) > 0 {
		snap.ErrorsByCode = s.Metrics.ErrorsByCode
	}
	return snap
}
