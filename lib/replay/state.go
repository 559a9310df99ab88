// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/codec"
	"github.com/RealDaniG/QFS-sub002/lib/registry"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
)

// ObjectVersion is one immutable catalog entry: everything the STORE
// event recorded about a stored object version.
type ObjectVersion struct {
	ObjectID      string
	Version       uint64
	SchemaVersion uint32
	HashCommit    canonical.Hash
	ContentSize   uint64
	Metadata      map[string]string
	ShardIDs      []canonical.Hash
	BlockHashes   []canonical.Hash
	MerkleRoot    canonical.Hash
	Replicas      [][]string
	ATRCost       uint64
	StoredAtTick  uint64
	StoredAtEpoch uint64
}

// Metrics are the derived counters rebuilt from the log. Per-node
// maps are keyed by node ID.
type Metrics struct {
	ObjectsStored uint64
	ReadsServed   uint64
	ListsServed   uint64
	ProofCalls    uint64
	TotalATRCost  uint64

	// BytesStoredPerNode credits each node with the padded replica
	// bytes placed on it by STORE operations.
	BytesStoredPerNode map[string]uint64

	// ProofsGeneratedPerNode and ProofsFailedPerNode credit each
	// assigned node with proof outcomes, the inputs to incentive
	// accounting.
	ProofsGeneratedPerNode map[string]uint64
	ProofsFailedPerNode    map[string]uint64

	// ErrorsByCode counts failed calls by storage error code.
	ErrorsByCode map[string]uint64
}

// Filter restricts a listing. Zero value means no restriction.
type Filter struct {
	// ObjectID limits the listing to exactly one object ID.
	ObjectID string

	// Prefix limits the listing to object IDs with this prefix.
	Prefix string

	// MinVersion and MaxVersion bound the listed versions
	// inclusively. Zero means unbounded.
	MinVersion uint64
	MaxVersion uint64

	// Limit caps the number of entries, applied after sorting.
	// Zero means unlimited.
	Limit uint64
}

// Entry is one listing row.
type Entry struct {
	ObjectID     string
	Version      uint64
	HashCommit   canonical.Hash
	ContentSize  uint64
	MerkleRoot   canonical.Hash
	ATRCost      uint64
	StoredAtTick uint64
}

// State is the full engine state derivable from the event log.
type State struct {
	// Registry holds nodes, eligibility, and the current epoch.
	Registry *registry.Registry

	// Constants are the governed constants this state was built
	// under. Epoch advancements in the log must match them.
	Constants schema.Constants

	// Metrics are the derived counters.
	Metrics Metrics

	objects map[string]map[uint64]*ObjectVersion
	latest  map[string]uint64

	// eligibleByEpoch freezes each epoch's attested set.
	eligibleByEpoch map[uint64][]string

	lastTick   uint64
	eventCount uint64

	// pendingStatus buffers NODE_STATUS events until their paired
	// EPOCH_ADVANCEMENT arrives and is checked against the actual
	// registry transitions.
	pendingStatus []schema.NodeStatusPayload
}

// NewState returns an empty state under the given constants.
func NewState(constants schema.Constants) *State {
	return &State{
		Registry:  registry.New(),
		Constants: constants,
		Metrics: Metrics{
			BytesStoredPerNode:     make(map[string]uint64),
			ProofsGeneratedPerNode: make(map[string]uint64),
			ProofsFailedPerNode:    make(map[string]uint64),
			ErrorsByCode:           make(map[string]uint64),
		},
		objects:         make(map[string]map[uint64]*ObjectVersion),
		latest:          make(map[string]uint64),
		eligibleByEpoch: make(map[uint64][]string),
	}
}

// Source streams the event log in tick order.
type Source interface {
	// Events calls fn for every event, oldest first. A non-nil
	// error from fn aborts the stream and is returned.
	Events(ctx context.Context, fn func(schema.Event) error) error
}

// Rebuild folds an entire event stream into a fresh state.
func Rebuild(ctx context.Context, constants schema.Constants, source Source) (*State, error) {
	state := NewState(constants)
	if err := source.Events(ctx, state.Apply); err != nil {
		return nil, fmt.Errorf("replaying event log: %w", err)
	}
	if len(state.pendingStatus) != 0 {
		return nil, fmt.Errorf("log ends with %d NODE_STATUS events without their epoch advancement", len(state.pendingStatus))
	}
	return state, nil
}

// Apply folds one event into the state. Events must arrive in log
// order.
func (s *State) Apply(event schema.Event) error {
	if err := s.applyChecked(event); err != nil {
		return fmt.Errorf("event %s (%s, tick %d): %w", event.ID.Short(), event.Type, event.Tick, err)
	}
	return nil
}

func (s *State) applyChecked(event schema.Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("unknown event type")
	}
	if event.Tick <= s.lastTick {
		return fmt.Errorf("tick not increasing (last %d)", s.lastTick)
	}
	ok, err := event.VerifyID()
	if err != nil {
		return fmt.Errorf("verifying event ID: %w", err)
	}
	if !ok {
		return fmt.Errorf("event ID does not match envelope")
	}

	switch event.Type {
	case schema.EventTypeStore:
		err = s.applyStore(event)
	case schema.EventTypeRead:
		err = s.applyRead(event)
	case schema.EventTypeGetProof:
		err = s.applyGetProof(event)
	case schema.EventTypeListObjects:
		err = s.applyListObjects(event)
	case schema.EventTypeNodeRegistration:
		err = s.applyNodeRegistration(event)
	case schema.EventTypeNodeStatus:
		err = s.applyNodeStatus(event)
	case schema.EventTypeEpochAdvancement:
		err = s.applyEpochAdvancement(event)
	case schema.EventTypeProofGenerated:
		err = s.applyProofGenerated(event)
	case schema.EventTypeProofFailed:
		err = s.applyProofFailed(event)
	}
	if err != nil {
		return err
	}

	s.lastTick = event.Tick
	s.eventCount++
	return nil
}

// requireCurrentEpoch checks the envelope epoch against the epoch in
// force. Every event except NODE_STATUS and a successful epoch
// advancement (which both carry the new epoch) must match.
func (s *State) requireCurrentEpoch(event schema.Event) error {
	if event.Epoch != s.Registry.Epoch() {
		return fmt.Errorf("envelope epoch %d, registry epoch %d", event.Epoch, s.Registry.Epoch())
	}
	return nil
}

// requireNoPendingStatus rejects a boundary event arriving while
// NODE_STATUS events await their epoch advancement.
func (s *State) requireNoPendingStatus() error {
	if len(s.pendingStatus) != 0 {
		return fmt.Errorf("%d NODE_STATUS events without their epoch advancement", len(s.pendingStatus))
	}
	return nil
}

func (s *State) recordError(errorInfo *schema.ErrorInfo) {
	s.Metrics.ErrorsByCode[errorInfo.Code]++
}

func (s *State) applyStore(event schema.Event) error {
	if err := s.requireNoPendingStatus(); err != nil {
		return err
	}
	if err := s.requireCurrentEpoch(event); err != nil {
		return err
	}

	var payload schema.StorePayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if payload.Error != nil {
		s.recordError(payload.Error)
		return nil
	}

	if latest, exists := s.latest[payload.ObjectID]; exists && payload.Version <= latest {
		return fmt.Errorf("version %d not greater than stored %d", payload.Version, latest)
	}

	shardCount := int(s.Constants.NumShardsPerObject)
	if len(payload.ShardIDs) != shardCount || len(payload.BlockHashes) != shardCount || len(payload.Replicas) != shardCount {
		return fmt.Errorf("shard arrays sized %d/%d/%d, constants say %d",
			len(payload.ShardIDs), len(payload.BlockHashes), len(payload.Replicas), shardCount)
	}

	wantCost := s.Constants.BlockSizeBytes * uint64(s.Constants.NumShardsPerObject) * uint64(s.Constants.ReplicationFactor)
	if payload.ATRCost != wantCost {
		return fmt.Errorf("atr_cost %d, constants imply %d", payload.ATRCost, wantCost)
	}

	object := &ObjectVersion{
		ObjectID:      payload.ObjectID,
		Version:       payload.Version,
		SchemaVersion: payload.SchemaVersion,
		ContentSize:   payload.ContentSize,
		Metadata:      payload.Metadata,
		Replicas:      payload.Replicas,
		ATRCost:       payload.ATRCost,
		StoredAtTick:  event.Tick,
		StoredAtEpoch: event.Epoch,
	}

	var err error
	if object.HashCommit, err = canonical.FromBytes(payload.HashCommit); err != nil {
		return fmt.Errorf("hash_commit: %w", err)
	}
	if object.MerkleRoot, err = canonical.FromBytes(payload.MerkleRoot); err != nil {
		return fmt.Errorf("merkle_root: %w", err)
	}
	object.ShardIDs = make([]canonical.Hash, shardCount)
	object.BlockHashes = make([]canonical.Hash, shardCount)
	for i := range shardCount {
		if object.ShardIDs[i], err = canonical.FromBytes(payload.ShardIDs[i]); err != nil {
			return fmt.Errorf("shard_ids[%d]: %w", i, err)
		}
		if object.BlockHashes[i], err = canonical.FromBytes(payload.BlockHashes[i]); err != nil {
			return fmt.Errorf("block_hashes[%d]: %w", i, err)
		}
		if len(payload.Replicas[i]) != int(s.Constants.ReplicationFactor) {
			return fmt.Errorf("replicas[%d] has %d nodes, constants say %d",
				i, len(payload.Replicas[i]), s.Constants.ReplicationFactor)
		}
	}

	versions, exists := s.objects[payload.ObjectID]
	if !exists {
		versions = make(map[uint64]*ObjectVersion)
		s.objects[payload.ObjectID] = versions
	}
	versions[payload.Version] = object
	s.latest[payload.ObjectID] = payload.Version

	s.Metrics.ObjectsStored++
	s.Metrics.TotalATRCost += payload.ATRCost
	for i := range shardCount {
		for _, nodeID := range payload.Replicas[i] {
			s.Metrics.BytesStoredPerNode[nodeID] += s.Constants.BlockSizeBytes
		}
	}
	return nil
}

func (s *State) applyRead(event schema.Event) error {
	if err := s.requireNoPendingStatus(); err != nil {
		return err
	}
	if err := s.requireCurrentEpoch(event); err != nil {
		return err
	}

	var payload schema.ReadPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if payload.Error != nil {
		s.recordError(payload.Error)
		return nil
	}
	s.Metrics.ReadsServed++
	return nil
}

func (s *State) applyGetProof(event schema.Event) error {
	if err := s.requireNoPendingStatus(); err != nil {
		return err
	}
	if err := s.requireCurrentEpoch(event); err != nil {
		return err
	}

	var payload schema.GetProofPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	s.Metrics.ProofCalls++
	if payload.Error != nil {
		s.recordError(payload.Error)
	}
	return nil
}

func (s *State) applyListObjects(event schema.Event) error {
	if err := s.requireNoPendingStatus(); err != nil {
		return err
	}
	if err := s.requireCurrentEpoch(event); err != nil {
		return err
	}

	var payload schema.ListObjectsPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if payload.Error != nil {
		s.recordError(payload.Error)
		return nil
	}

	// Re-derive the listing from rebuilt state. Matching count and
	// digest proves the live engine listed exactly what the log
	// implies it held — the sorted-output invariant, checked.
	entries := s.List(Filter{
		ObjectID:   payload.FilterObjectID,
		Prefix:     payload.FilterPrefix,
		MinVersion: payload.FilterMinVersion,
		MaxVersion: payload.FilterMaxVersion,
		Limit:      payload.FilterLimit,
	})
	if uint64(len(entries)) != payload.Count {
		return fmt.Errorf("listing count %d, state implies %d", payload.Count, len(entries))
	}
	digest, err := ListingDigest(entries)
	if err != nil {
		return fmt.Errorf("listing digest: %w", err)
	}
	if !slices.Equal(payload.ResultDigest, digest[:]) {
		return fmt.Errorf("listing digest does not match state")
	}

	s.Metrics.ListsServed++
	return nil
}

func (s *State) applyNodeRegistration(event schema.Event) error {
	if err := s.requireNoPendingStatus(); err != nil {
		return err
	}
	if err := s.requireCurrentEpoch(event); err != nil {
		return err
	}

	var payload schema.NodeRegistrationPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if payload.Error != nil {
		s.recordError(payload.Error)
		return nil
	}
	if err := s.Registry.Register(payload.NodeID, payload.Host, payload.Port); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}

func (s *State) applyNodeStatus(event schema.Event) error {
	var payload schema.NodeStatusPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if payload.Epoch != event.Epoch {
		return fmt.Errorf("payload epoch %d, envelope epoch %d", payload.Epoch, event.Epoch)
	}
	s.pendingStatus = append(s.pendingStatus, payload)
	return nil
}

func (s *State) applyEpochAdvancement(event schema.Event) error {
	var payload schema.EpochAdvancementPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}

	if payload.Error != nil {
		// A failed advancement leaves the epoch unchanged and must
		// not follow NODE_STATUS events.
		if err := s.requireNoPendingStatus(); err != nil {
			return err
		}
		if err := s.requireCurrentEpoch(event); err != nil {
			return err
		}
		s.recordError(payload.Error)
		return nil
	}

	if event.Epoch != payload.Epoch {
		return fmt.Errorf("envelope epoch %d, advancement epoch %d", event.Epoch, payload.Epoch)
	}
	if payload.Constants != s.Constants {
		return fmt.Errorf("log constants %+v, state constants %+v", payload.Constants, s.Constants)
	}

	changes, err := s.Registry.AdvanceEpoch(payload.Epoch, payload.EligibleNodes)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	// The preceding NODE_STATUS events must be exactly the
	// transitions this advancement causes, in node ID order.
	if len(s.pendingStatus) != len(changes) {
		return fmt.Errorf("%d NODE_STATUS events, advancement causes %d transitions", len(s.pendingStatus), len(changes))
	}
	for i, change := range changes {
		recorded := s.pendingStatus[i]
		if recorded.NodeID != change.NodeID || recorded.Eligible != change.Eligible || recorded.Epoch != payload.Epoch {
			return fmt.Errorf("NODE_STATUS[%d] = {%s %v %d}, advancement implies {%s %v %d}",
				i, recorded.NodeID, recorded.Eligible, recorded.Epoch,
				change.NodeID, change.Eligible, payload.Epoch)
		}
	}
	s.pendingStatus = nil

	s.eligibleByEpoch[payload.Epoch] = slices.Clone(payload.EligibleNodes)
	return nil
}

func (s *State) applyProofGenerated(event schema.Event) error {
	if err := s.requireNoPendingStatus(); err != nil {
		return err
	}
	if err := s.requireCurrentEpoch(event); err != nil {
		return err
	}

	var payload schema.ProofGeneratedPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	for _, nodeID := range payload.AssignedNodes {
		s.Metrics.ProofsGeneratedPerNode[nodeID]++
	}
	return nil
}

func (s *State) applyProofFailed(event schema.Event) error {
	if err := s.requireNoPendingStatus(); err != nil {
		return err
	}
	if err := s.requireCurrentEpoch(event); err != nil {
		return err
	}

	var payload schema.ProofFailedPayload
	if err := codec.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if len(payload.AssignedNodes) == 0 {
		// Failure before placement was known (unknown shard):
		// nothing to attribute per node.
		return nil
	}
	for _, nodeID := range payload.AssignedNodes {
		s.Metrics.ProofsFailedPerNode[nodeID]++
	}
	return nil
}

// Object returns a copy of the catalog entry for (objectID, version).
func (s *State) Object(objectID string, version uint64) (ObjectVersion, bool) {
	versions, exists := s.objects[objectID]
	if !exists {
		return ObjectVersion{}, false
	}
	object, exists := versions[version]
	if !exists {
		return ObjectVersion{}, false
	}
	return *object, true
}

// LatestVersion returns the highest stored version of an object.
func (s *State) LatestVersion(objectID string) (uint64, bool) {
	version, exists := s.latest[objectID]
	return version, exists
}

// Versions returns all stored versions of an object, ascending.
func (s *State) Versions(objectID string) []uint64 {
	versions := s.objects[objectID]
	result := make([]uint64, 0, len(versions))
	for version := range versions {
		result = append(result, version)
	}
	slices.Sort(result)
	return result
}

// List returns the catalog entries matching the filter, sorted by
// (object_id, version). The sort is load-bearing: every node must
// list identically.
func (s *State) List(filter Filter) []Entry {
	var entries []Entry
	for objectID, versions := range s.objects {
		if filter.ObjectID != "" && objectID != filter.ObjectID {
			continue
		}
		if filter.Prefix != "" && !strings.HasPrefix(objectID, filter.Prefix) {
			continue
		}
		for version, object := range versions {
			if filter.MinVersion != 0 && version < filter.MinVersion {
				continue
			}
			if filter.MaxVersion != 0 && version > filter.MaxVersion {
				continue
			}
			entries = append(entries, Entry{
				ObjectID:     object.ObjectID,
				Version:      object.Version,
				HashCommit:   object.HashCommit,
				ContentSize:  object.ContentSize,
				MerkleRoot:   object.MerkleRoot,
				ATRCost:      object.ATRCost,
				StoredAtTick: object.StoredAtTick,
			})
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if a.ObjectID != b.ObjectID {
			if a.ObjectID < b.ObjectID {
				return -1
			}
			return 1
		}
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		default:
			return 0
		}
	})
	if filter.Limit != 0 && uint64(len(entries)) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries
}

// EligibleAt returns the frozen eligible set of an epoch.
func (s *State) EligibleAt(epoch uint64) ([]string, bool) {
	eligible, exists := s.eligibleByEpoch[epoch]
	if !exists {
		return nil, false
	}
	return slices.Clone(eligible), true
}

// Epochs returns all advanced epochs, ascending.
func (s *State) Epochs() []uint64 {
	epochs := make([]uint64, 0, len(s.eligibleByEpoch))
	for epoch := range s.eligibleByEpoch {
		epochs = append(epochs, epoch)
	}
	slices.Sort(epochs)
	return epochs
}

// LastTick returns the tick of the most recently applied event.
func (s *State) LastTick() uint64 {
	return s.lastTick
}

// EventCount returns how many events have been applied.
func (s *State) EventCount() uint64 {
	return s.eventCount
}

// ListingDigest computes the deterministic digest of a listing: the
// state-domain hash of the canonical encoding of the (object_id,
// version, hash_commit) sequence. The engine records it in
// LIST_OBJECTS events; replay recomputes it.
func ListingDigest(entries []Entry) (canonical.Hash, error) {
	type row struct {
		ObjectID   string `cbor:"object_id"`
		Version    uint64 `cbor:"version"`
		HashCommit []byte `cbor:"hash_commit"`
	}
	rows := make([]row, len(entries))
	for i, entry := range entries {
		rows[i] = row{
			ObjectID:   entry.ObjectID,
			Version:    entry.Version,
			HashCommit: entry.HashCommit[:],
		}
	}
	encoded, err := codec.Marshal(rows)
	if err != nil {
		return canonical.Hash{}, fmt.Errorf("encoding listing: %w", err)
	}
	return canonical.StateDigest(encoded), nil
}
