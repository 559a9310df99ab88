// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/codec"
)

// EventType identifies what a storage event records.
type EventType string

// Storage event type constants. Exactly one boundary event is
// appended per public engine call (success or failure); component
// events (NODE_STATUS, PROOF_GENERATED, PROOF_FAILED) are appended by
// the operations that produce them, in deterministic order before
// their boundary event.
const (
	// EventTypeStore records a store call: the full commitment,
	// shard, and placement picture needed to rebuild the object
	// catalog entry without re-reading any content.
	EventTypeStore EventType = "STORE"

	// EventTypeRead records a read call. Reads mutate nothing; the
	// event exists so access patterns and failures are
	// reconstructable from the log alone.
	EventTypeRead EventType = "READ"

	// EventTypeGetProof records a get_proof call at the boundary.
	// The outcome detail lives in the paired PROOF_GENERATED or
	// PROOF_FAILED component event.
	EventTypeGetProof EventType = "GET_PROOF"

	// EventTypeListObjects records a list_objects call: the filter,
	// the result count, and a digest of the result sequence.
	EventTypeListObjects EventType = "LIST_OBJECTS"

	// EventTypeNodeRegistration records a register_node call. A
	// registered node is not yet eligible; eligibility arrives only
	// with an epoch advancement.
	EventTypeNodeRegistration EventType = "NODE_REGISTRATION"

	// EventTypeNodeStatus records one node's eligibility changing at
	// an epoch boundary. Emitted per changed node, in node ID order,
	// by advance_epoch.
	EventTypeNodeStatus EventType = "NODE_STATUS"

	// EventTypeEpochAdvancement records an epoch advance: the new
	// epoch, the resulting frozen eligible set, the digests of the
	// snapshots that justified it, and the governed constants in
	// force.
	EventTypeEpochAdvancement EventType = "EPOCH_ADVANCEMENT"

	// EventTypeProofGenerated records a successful Merkle proof
	// generation, attributed to the shard's assigned nodes for
	// downstream incentive accounting.
	EventTypeProofGenerated EventType = "PROOF_GENERATED"

	// EventTypeProofFailed records a failed proof generation with
	// its error, attributed the same way.
	EventTypeProofFailed EventType = "PROOF_FAILED"
)

// Valid reports whether t is a known event type. Replay rejects
// events with unknown types rather than skipping them — an unknown
// type means the log was written by a newer engine.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeStore, EventTypeRead, EventTypeGetProof,
		EventTypeListObjects, EventTypeNodeRegistration,
		EventTypeNodeStatus, EventTypeEpochAdvancement,
		EventTypeProofGenerated, EventTypeProofFailed:
		return true
	}
	return false
}

// Event is one record of the append-only storage event log.
type Event struct {
	// ID is the keyed hash of the canonical envelope encoding
	// (type, epoch, tick, payload). Deterministic: every replayer
	// recomputes the same ID for the same record.
	ID canonical.Hash

	// Type identifies the payload structure.
	Type EventType

	// Epoch is the storage epoch current when the event was
	// appended.
	Epoch uint64

	// Tick is the logical timestamp. Strictly increasing across the
	// whole log; wall-clock time never appears in an event.
	Tick uint64

	// Payload is the canonical CBOR encoding of the type-specific
	// payload struct.
	Payload codec.RawMessage
}

// envelope is the canonical structure hashed to produce an event ID.
// The ID itself is excluded, since it is derived from this encoding.
type envelope struct {
	Type    string           `cbor:"type"`
	Epoch   uint64           `cbor:"epoch"`
	Tick    uint64           `cbor:"tick"`
	Payload codec.RawMessage `cbor:"payload"`
}

// ComputeEventID computes the deterministic identifier for an event
// record from its envelope fields.
func ComputeEventID(eventType EventType, epoch, tick uint64, payload codec.RawMessage) (canonical.Hash, error) {
	encoded, err := codec.Marshal(envelope{
		Type:    string(eventType),
		Epoch:   epoch,
		Tick:    tick,
		Payload: payload,
	})
	if err != nil {
		return canonical.Hash{}, fmt.Errorf("encoding event envelope: %w", err)
	}
	return canonical.EventID(encoded), nil
}

// NewEvent marshals a payload struct and assembles the complete event
// record, ID included.
func NewEvent(eventType EventType, epoch, tick uint64, payload any) (Event, error) {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	id, err := ComputeEventID(eventType, epoch, tick, encoded)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:      id,
		Type:    eventType,
		Epoch:   epoch,
		Tick:    tick,
		Payload: encoded,
	}, nil
}

// VerifyID recomputes the event's identifier from its envelope fields
// and reports whether it matches the recorded one. Replay verifies
// every record; a mismatch means the log was altered after the fact.
func (e Event) VerifyID() (bool, error) {
	id, err := ComputeEventID(e.Type, e.Epoch, e.Tick, e.Payload)
	if err != nil {
		return false, err
	}
	return id == e.ID, nil
}

// ErrorInfo carries the mapped error of a failed call inside its
// event payload. Details are sanitized at the boundary: no stack
// traces, no content bytes.
type ErrorInfo struct {
	// Code is the enumerated storage error code (e.g.
	// "SE_ERR_NOT_FOUND").
	Code string `cbor:"code"`

	// Detail is a short human-readable description.
	Detail string `cbor:"detail"`
}

// Constants records the governed protocol constants in force at an
// epoch advancement. Replay checks them against its own configuration
// so a log is never silently interpreted under different constants
// than it was written under.
type Constants struct {
	BlockSizeBytes     uint64 `cbor:"block_size_bytes"`
	NumShardsPerObject uint32 `cbor:"num_shards_per_object"`
	ReplicationFactor  uint32 `cbor:"replication_factor"`
}

// StorePayload is the payload of a STORE event. On success every
// field is populated; on failure only the identifying fields and
// Error are.
type StorePayload struct {
	ObjectID string `cbor:"object_id"`
	Version  uint64 `cbor:"version"`

	// SchemaVersion is the caller-declared schema version folded
	// into the commitment.
	SchemaVersion uint32 `cbor:"schema_version"`

	// HashCommit is the content commitment (32 bytes).
	HashCommit []byte `cbor:"hash_commit,omitempty"`

	// ContentSize is the unpadded content length in bytes.
	ContentSize uint64 `cbor:"content_size,omitempty"`

	// Metadata is the caller-supplied metadata folded into the
	// commitment.
	Metadata map[string]string `cbor:"metadata,omitempty"`

	// ShardIDs lists the shard identifiers in shard_index order
	// (32 bytes each).
	ShardIDs [][]byte `cbor:"shard_ids,omitempty"`

	// BlockHashes lists the padded block hashes in shard_index
	// order (32 bytes each). These are the Merkle leaves.
	BlockHashes [][]byte `cbor:"block_hashes,omitempty"`

	// MerkleRoot is the root over BlockHashes (32 bytes).
	MerkleRoot []byte `cbor:"merkle_root,omitempty"`

	// Replicas is index-aligned with ShardIDs: Replicas[i] is the
	// ordered replica set assigned to ShardIDs[i].
	Replicas [][]string `cbor:"replicas,omitempty"`

	// ATRCost is the at-rest storage cost charged for the version:
	// replicated padded bytes.
	ATRCost uint64 `cbor:"atr_cost,omitempty"`

	Error *ErrorInfo `cbor:"error,omitempty"`
}

// ReadPayload is the payload of a READ event.
type ReadPayload struct {
	ObjectID string `cbor:"object_id"`
	Version  uint64 `cbor:"version"`

	// HashCommit is the commitment the reconstructed content was
	// verified against. Empty on failure.
	HashCommit []byte `cbor:"hash_commit,omitempty"`

	// ContentSize is the returned content length. Zero on failure.
	ContentSize uint64 `cbor:"content_size,omitempty"`

	Error *ErrorInfo `cbor:"error,omitempty"`
}

// GetProofPayload is the payload of a GET_PROOF boundary event. The
// paired PROOF_GENERATED or PROOF_FAILED component event carries the
// outcome detail.
type GetProofPayload struct {
	ObjectID string `cbor:"object_id"`
	Version  uint64 `cbor:"version"`

	// ShardID is the requested shard (32 bytes).
	ShardID []byte `cbor:"shard_id"`

	Error *ErrorInfo `cbor:"error,omitempty"`
}

// ProofGeneratedPayload is the payload of a PROOF_GENERATED event.
type ProofGeneratedPayload struct {
	ObjectID string `cbor:"object_id"`
	Version  uint64 `cbor:"version"`

	// ShardID is the proven shard (32 bytes).
	ShardID []byte `cbor:"shard_id"`

	// ShardIndex is the shard's position, which is also the Merkle
	// leaf index the proof covers.
	ShardIndex uint32 `cbor:"shard_index"`

	// MerkleRoot is the object version's proof root (32 bytes).
	MerkleRoot []byte `cbor:"merkle_root"`

	// LeafCount is the number of leaves under the root.
	LeafCount uint32 `cbor:"leaf_count"`

	// AssignedNodes is the shard's replica set under the current
	// epoch — the nodes credited for possession.
	AssignedNodes []string `cbor:"assigned_nodes"`
}

// ProofFailedPayload is the payload of a PROOF_FAILED event.
type ProofFailedPayload struct {
	ObjectID string `cbor:"object_id"`
	Version  uint64 `cbor:"version"`

	// ShardID is the requested shard (32 bytes). May identify a
	// shard that does not exist.
	ShardID []byte `cbor:"shard_id"`

	// AssignedNodes is the replica set under the current epoch when
	// the shard is known; empty when the failure is that the shard
	// is unknown.
	AssignedNodes []string `cbor:"assigned_nodes,omitempty"`

	Error ErrorInfo `cbor:"error"`
}

// ListObjectsPayload is the payload of a LIST_OBJECTS event.
type ListObjectsPayload struct {
	// FilterObjectID restricts the listing to one object ID. Empty
	// means no restriction.
	FilterObjectID string `cbor:"filter_object_id,omitempty"`

	// FilterPrefix restricts the listing to object IDs with this
	// prefix. Empty means no restriction.
	FilterPrefix string `cbor:"filter_prefix,omitempty"`

	// FilterMinVersion and FilterMaxVersion bound the listed
	// versions inclusively. Zero means unbounded.
	FilterMinVersion uint64 `cbor:"filter_min_version,omitempty"`
	FilterMaxVersion uint64 `cbor:"filter_max_version,omitempty"`

	// FilterLimit caps the number of entries, applied after
	// sorting. Zero means unlimited.
	FilterLimit uint64 `cbor:"filter_limit,omitempty"`

	// Count is the number of entries returned.
	Count uint64 `cbor:"count"`

	// ResultDigest is the state-domain digest of the canonical
	// encoding of the returned (object_id, version, hash_commit)
	// sequence. Lets auditors prove two nodes listed identically
	// without logging the whole listing.
	ResultDigest []byte `cbor:"result_digest,omitempty"`

	Error *ErrorInfo `cbor:"error,omitempty"`
}

// NodeRegistrationPayload is the payload of a NODE_REGISTRATION
// event.
type NodeRegistrationPayload struct {
	NodeID string `cbor:"node_id"`

	// Host and Port locate the node's storage endpoint. Recorded
	// for operators; placement uses only NodeID.
	Host string `cbor:"host,omitempty"`
	Port uint16 `cbor:"port,omitempty"`

	Error *ErrorInfo `cbor:"error,omitempty"`
}

// NodeStatusPayload is the payload of a NODE_STATUS event: one
// node's eligibility transition at an epoch boundary.
type NodeStatusPayload struct {
	NodeID string `cbor:"node_id"`

	// Eligible is the node's status from Epoch onward.
	Eligible bool `cbor:"eligible"`

	// Epoch is the epoch whose advancement changed the status.
	Epoch uint64 `cbor:"epoch"`
}

// EpochAdvancementPayload is the payload of an EPOCH_ADVANCEMENT
// event.
type EpochAdvancementPayload struct {
	// Epoch is the new epoch number.
	Epoch uint64 `cbor:"epoch"`

	// EligibleNodes is the resulting frozen eligible set, sorted by
	// node ID. Empty on failure.
	EligibleNodes []string `cbor:"eligible_nodes,omitempty"`

	// VerificationDigest is the attestation digest of the
	// verification snapshot that determined eligibility (32 bytes).
	// The raw snapshot stays with its producer.
	VerificationDigest []byte `cbor:"verification_digest,omitempty"`

	// TelemetryDigest is the attestation digest of the telemetry
	// snapshot supplied alongside (32 bytes).
	TelemetryDigest []byte `cbor:"telemetry_digest,omitempty"`

	// Constants are the governed constants in force for the epoch.
	Constants Constants `cbor:"constants"`

	Error *ErrorInfo `cbor:"error,omitempty"`
}
