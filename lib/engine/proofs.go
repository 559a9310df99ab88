// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/placement"
	"github.com/RealDaniG/QFS-sub002/lib/proof"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
	"github.com/RealDaniG/QFS-sub002/lib/shardstore"
)

// ProofResult is the outcome of a successful possession proof.
type ProofResult struct {
	ObjectID string
	Version  uint64
	ShardID  canonical.Hash

	// ShardIndex is the shard's position in the object, which is also
	// the Merkle leaf index the proof covers.
	ShardIndex uint32

	// MerkleRoot is the root the proof verifies against; BlockHash is
	// the proven leaf.
	MerkleRoot canonical.Hash
	BlockHash  canonical.Hash
	Proof      proof.Proof

	// AssignedNodes is the shard's replica set recomputed under the
	// current epoch — the nodes credited with possession.
	AssignedNodes []string

	// EventID identifies the GET_PROOF boundary event; ProofEventID
	// the paired PROOF_GENERATED component event; Tick is the
	// boundary's tick.
	EventID      canonical.Hash
	ProofEventID canonical.Hash
	Tick         uint64
}

// GetProof generates a Merkle possession proof for one shard of a
// stored object version, verifying on the way that the shard's payload
// block is actually held and intact. Every call appends a component
// event (PROOF_GENERATED or PROOF_FAILED) followed by the GET_PROOF
// boundary event, so per-node proof outcomes are reconstructable from
// the log alone.
func (e *Engine) GetProof(ctx context.Context, objectID string, version uint64, shardID canonical.Hash) (ProofResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "get_proof"
	result, assigned, boundaryErr := e.proofLocked(ctx, objectID, version, shardID)
	if boundaryErr != nil {
		epoch := e.epochLocked()
		e.emitFailureLocked(ctx,
			eventSpec{
				Type:  schema.EventTypeProofFailed,
				Epoch: epoch,
				Payload: schema.ProofFailedPayload{
					ObjectID:      safeObjectID(objectID),
					Version:       version,
					ShardID:       shardID[:],
					AssignedNodes: assigned,
					Error:         *boundaryErr.Info(),
				},
			},
			eventSpec{
				Type:  schema.EventTypeGetProof,
				Epoch: epoch,
				Payload: schema.GetProofPayload{
					ObjectID: safeObjectID(objectID),
					Version:  version,
					ShardID:  shardID[:],
					Error:    boundaryErr.Info(),
				},
			},
		)
		e.logFailure(op, boundaryErr)
		return ProofResult{}, boundaryErr
	}
	return result, nil
}

// proofLocked returns the assigned replica set alongside the error so
// a post-placement failure can still be attributed to its nodes in the
// PROOF_FAILED event.
func (e *Engine) proofLocked(ctx context.Context, objectID string, version uint64, shardID canonical.Hash) (ProofResult, []string, *Error) {
	const op = "get_proof"

	if err := validateObjectID(objectID); err != nil {
		return ProofResult{}, nil, fail(op, CodeInvalidInput, "%v", err)
	}

	object, found, err := e.log.getObject(ctx, objectID, version)
	if err != nil {
		return ProofResult{}, nil, internal(op, err)
	}
	if !found {
		return ProofResult{}, nil, fail(op, CodeNotFound,
			"object %q version %d does not exist", objectID, version)
	}

	shard, found, err := e.log.findShard(ctx, objectID, version, shardID)
	if err != nil {
		return ProofResult{}, nil, internal(op, err)
	}
	if !found {
		return ProofResult{}, nil, fail(op, CodeNotFound,
			"object %q version %d has no shard %s", objectID, version, shardID.Short())
	}

	shards, err := e.log.getShards(ctx, objectID, version)
	if err != nil {
		return ProofResult{}, nil, internal(op, err)
	}
	if len(shards) != int(e.constants.NumShardsPerObject) {
		return ProofResult{}, nil, fail(op, CodeIntegrityMismatch,
			"catalog has %d shards, expected %d", len(shards), e.constants.NumShardsPerObject)
	}

	// Assignment is recomputed under the current epoch, not the store
	// epoch: possession accountability follows the live eligible set.
	assigned, err := placement.Assign(shardID, e.state.Registry.Eligible(), int(e.constants.ReplicationFactor))
	if err != nil {
		if errors.Is(err, placement.ErrNoEligibleNodes) {
			return ProofResult{}, nil, fail(op, CodeNoEligibleNodes, "%v", err)
		}
		return ProofResult{}, nil, internal(op, fmt.Errorf("assigning shard: %w", err))
	}

	// A proof asserts possession, so the payload block must be read
	// back and re-verified, not just stat'd.
	if _, err := e.blocks.Get(shard.blockHash); err != nil {
		if errors.Is(err, shardstore.ErrBlockMissing) || errors.Is(err, shardstore.ErrBlockCorrupt) {
			return ProofResult{}, assigned, fail(op, CodeProofUnavailable,
				"shard %d payload: %v", shard.shardIndex, err)
		}
		return ProofResult{}, assigned, internal(op, fmt.Errorf("reading shard %d: %w", shard.shardIndex, err))
	}

	leaves := make([]canonical.Hash, len(shards))
	for i, row := range shards {
		leaves[i] = row.blockHash
	}
	tree := proof.Build(leaves)
	if tree.Root() != object.merkleRoot {
		return ProofResult{}, assigned, fail(op, CodeProofUnavailable,
			"shard hashes do not match merkle root %s", object.merkleRoot.Short())
	}
	membershipProof, err := tree.Proof(int(shard.shardIndex))
	if err != nil {
		return ProofResult{}, assigned, internal(op, fmt.Errorf("extracting proof: %w", err))
	}

	epoch := e.epochLocked()
	events, err := e.commitLocked(ctx, 0, []eventSpec{
		{
			Type:  schema.EventTypeProofGenerated,
			Epoch: epoch,
			Payload: schema.ProofGeneratedPayload{
				ObjectID:      objectID,
				Version:       version,
				ShardID:       shardID[:],
				ShardIndex:    shard.shardIndex,
				MerkleRoot:    object.merkleRoot[:],
				LeafCount:     uint32(tree.LeafCount()),
				AssignedNodes: assigned,
			},
		},
		{
			Type:  schema.EventTypeGetProof,
			Epoch: epoch,
			Payload: schema.GetProofPayload{
				ObjectID: objectID,
				Version:  version,
				ShardID:  shardID[:],
			},
		},
	}, nil)
	if err != nil {
		return ProofResult{}, assigned, internal(op, err)
	}

	e.logger.Debug("proof generated",
		"object_id", objectID,
		"version", version,
		"shard_id", shardID.Short(),
		"shard_index", shard.shardIndex,
		"assigned", assigned,
		"tick", events[1].Tick,
	)

	return ProofResult{
		ObjectID:      objectID,
		Version:       version,
		ShardID:       shardID,
		ShardIndex:    shard.shardIndex,
		MerkleRoot:    object.merkleRoot,
		BlockHash:     shard.blockHash,
		Proof:         membershipProof,
		AssignedNodes: assigned,
		EventID:       events[1].ID,
		ProofEventID:  events[0].ID,
		Tick:          events[1].Tick,
	}, assigned, nil
}
