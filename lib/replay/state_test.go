// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"strings"
	"testing"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/registry"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
)

var testConstants = schema.Constants{
	BlockSizeBytes:     262144,
	NumShardsPerObject: 4,
	ReplicationFactor:  3,
}

// logBuilder assembles a well-formed event log: increasing ticks,
// envelope epochs tracking advancements, real event IDs.
type logBuilder struct {
	t      *testing.T
	events []schema.Event
	tick   uint64
	epoch  uint64
}

func newLogBuilder(t *testing.T) *logBuilder {
	t.Helper()
	return &logBuilder{t: t}
}

func (b *logBuilder) append(eventType schema.EventType, epoch uint64, payload any) schema.Event {
	b.t.Helper()
	b.tick++
	event, err := schema.NewEvent(eventType, epoch, b.tick, payload)
	if err != nil {
		b.t.Fatalf("NewEvent(%s): %v", eventType, err)
	}
	b.events = append(b.events, event)
	return event
}

func (b *logBuilder) register(nodeID string) {
	b.t.Helper()
	b.append(schema.EventTypeNodeRegistration, b.epoch, schema.NodeRegistrationPayload{
		NodeID: nodeID,
		Host:   "10.0.0.1",
		Port:   7420,
	})
}

// advance emits the NODE_STATUS events for the given flips followed
// by the EPOCH_ADVANCEMENT boundary event, as the engine does.
func (b *logBuilder) advance(epoch uint64, eligible []string, flips []registry.StatusChange) {
	b.t.Helper()
	for _, flip := range flips {
		b.append(schema.EventTypeNodeStatus, epoch, schema.NodeStatusPayload{
			NodeID:   flip.NodeID,
			Eligible: flip.Eligible,
			Epoch:    epoch,
		})
	}
	b.append(schema.EventTypeEpochAdvancement, epoch, schema.EpochAdvancementPayload{
		Epoch:         epoch,
		EligibleNodes: eligible,
		Constants:     testConstants,
	})
	b.epoch = epoch
}

func (b *logBuilder) store(objectID string, version uint64, replicas [][]string) schema.StorePayload {
	b.t.Helper()
	payload := makeStorePayload(objectID, version, replicas)
	b.append(schema.EventTypeStore, b.epoch, payload)
	return payload
}

// makeStorePayload derives hashes from the object identity so two
// calls with the same arguments agree.
func makeStorePayload(objectID string, version uint64, replicas [][]string) schema.StorePayload {
	commit := canonical.LeafHash([]byte(objectID))
	root := canonical.LeafHash([]byte(objectID + "-root"))
	payload := schema.StorePayload{
		ObjectID:      objectID,
		Version:       version,
		SchemaVersion: 1,
		HashCommit:    commit[:],
		ContentSize:   1000,
		MerkleRoot:    root[:],
		Replicas:      replicas,
		ATRCost:       testConstants.BlockSizeBytes * uint64(testConstants.NumShardsPerObject) * uint64(testConstants.ReplicationFactor),
	}
	for index := range testConstants.NumShardsPerObject {
		shardID := canonical.ShardID(objectID, version, index)
		blockHash := canonical.LeafHash([]byte{byte(index)})
		payload.ShardIDs = append(payload.ShardIDs, shardID[:])
		payload.BlockHashes = append(payload.BlockHashes, blockHash[:])
	}
	return payload
}

// sliceSource streams a fixed event slice.
type sliceSource []schema.Event

func (s sliceSource) Events(_ context.Context, fn func(schema.Event) error) error {
	for _, event := range s {
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

func applyAll(t *testing.T, state *State, events []schema.Event) {
	t.Helper()
	for _, event := range events {
		if err := state.Apply(event); err != nil {
			t.Fatalf("Apply(%s tick %d): %v", event.Type, event.Tick, err)
		}
	}
}

// threeNodeLog registers node-1..node-3 and advances to epoch 1 with
// all three eligible.
func threeNodeLog(t *testing.T) *logBuilder {
	t.Helper()
	b := newLogBuilder(t)
	nodes := []string{"node-1", "node-2", "node-3"}
	for _, nodeID := range nodes {
		b.register(nodeID)
	}
	flips := make([]registry.StatusChange, len(nodes))
	for i, nodeID := range nodes {
		flips[i] = registry.StatusChange{NodeID: nodeID, Eligible: true}
	}
	b.advance(1, nodes, flips)
	return b
}

func TestRebuildEmptyLog(t *testing.T) {
	state, err := Rebuild(context.Background(), testConstants, sliceSource(nil))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if state.Registry.HasContext() {
		t.Error("empty log should leave no eligibility context")
	}
	if state.EventCount() != 0 || state.LastTick() != 0 {
		t.Errorf("EventCount = %d, LastTick = %d, want 0, 0", state.EventCount(), state.LastTick())
	}
	if _, err := state.Hash(); err != nil {
		t.Errorf("Hash on empty state: %v", err)
	}
}

func TestRebuildFullSequence(t *testing.T) {
	b := threeNodeLog(t)
	allNodes := [][]string{
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
	}
	stored := b.store("doc-1", 1, allNodes)

	b.append(schema.EventTypeRead, b.epoch, schema.ReadPayload{
		ObjectID:    "doc-1",
		Version:     1,
		HashCommit:  stored.HashCommit,
		ContentSize: stored.ContentSize,
	})

	state, err := Rebuild(context.Background(), testConstants, sliceSource(b.events))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if got := state.Registry.Epoch(); got != 1 {
		t.Errorf("epoch = %d, want 1", got)
	}
	if got := state.Registry.Eligible(); len(got) != 3 {
		t.Errorf("eligible = %v, want 3 nodes", got)
	}

	object, exists := state.Object("doc-1", 1)
	if !exists {
		t.Fatal("doc-1 v1 missing from rebuilt catalog")
	}
	if object.ContentSize != 1000 || object.SchemaVersion != 1 {
		t.Errorf("object = %+v", object)
	}
	if len(object.ShardIDs) != 4 || len(object.Replicas) != 4 {
		t.Errorf("shard arrays: %d IDs, %d replica sets, want 4 each", len(object.ShardIDs), len(object.Replicas))
	}
	if latest, _ := state.LatestVersion("doc-1"); latest != 1 {
		t.Errorf("latest version = %d, want 1", latest)
	}

	if state.Metrics.ObjectsStored != 1 {
		t.Errorf("ObjectsStored = %d, want 1", state.Metrics.ObjectsStored)
	}
	if state.Metrics.ReadsServed != 1 {
		t.Errorf("ReadsServed = %d, want 1", state.Metrics.ReadsServed)
	}
	wantCost := uint64(4 * 3 * 262144)
	if state.Metrics.TotalATRCost != wantCost {
		t.Errorf("TotalATRCost = %d, want %d", state.Metrics.TotalATRCost, wantCost)
	}
	// Every shard lands on all three nodes, so each node holds four
	// padded blocks.
	for _, nodeID := range []string{"node-1", "node-2", "node-3"} {
		if got := state.Metrics.BytesStoredPerNode[nodeID]; got != 4*262144 {
			t.Errorf("BytesStoredPerNode[%s] = %d, want %d", nodeID, got, 4*262144)
		}
	}
}

func TestRebuildMatchesIncrementalFold(t *testing.T) {
	b := threeNodeLog(t)
	replicas := [][]string{
		{"node-1", "node-2", "node-3"},
		{"node-2", "node-3", "node-1"},
		{"node-3", "node-1", "node-2"},
		{"node-1", "node-2", "node-3"},
	}
	b.store("doc-1", 1, replicas)
	b.store("doc-2", 7, replicas)

	live := NewState(testConstants)
	applyAll(t, live, b.events)
	liveHash, err := live.Hash()
	if err != nil {
		t.Fatalf("live Hash: %v", err)
	}

	rebuilt, err := Rebuild(context.Background(), testConstants, sliceSource(b.events))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	rebuiltHash, err := rebuilt.Hash()
	if err != nil {
		t.Fatalf("rebuilt Hash: %v", err)
	}

	if liveHash != rebuiltHash {
		t.Errorf("rebuilt digest %s, live digest %s", rebuiltHash, liveHash)
	}

	// Hashing twice must be stable despite map-backed collections.
	again, err := rebuilt.Hash()
	if err != nil {
		t.Fatalf("second Hash: %v", err)
	}
	if again != rebuiltHash {
		t.Error("Hash is not stable across calls")
	}
}

func TestHashReflectsHistory(t *testing.T) {
	replicas := [][]string{
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
	}

	first := threeNodeLog(t)
	first.store("doc-a", 1, replicas)
	first.store("doc-b", 1, replicas)

	second := threeNodeLog(t)
	second.store("doc-b", 1, replicas)
	second.store("doc-a", 1, replicas)

	one, err := Rebuild(context.Background(), testConstants, sliceSource(first.events))
	if err != nil {
		t.Fatalf("Rebuild first: %v", err)
	}
	two, err := Rebuild(context.Background(), testConstants, sliceSource(second.events))
	if err != nil {
		t.Fatalf("Rebuild second: %v", err)
	}

	oneHash, _ := one.Hash()
	twoHash, _ := two.Hash()
	if oneHash == twoHash {
		t.Error("different store order must yield different stored_at_tick values and digests")
	}
}

func TestApplyRejectsNonIncreasingTick(t *testing.T) {
	b := newLogBuilder(t)
	b.register("node-1")

	state := NewState(testConstants)
	applyAll(t, state, b.events)

	stale, err := schema.NewEvent(schema.EventTypeNodeRegistration, 0, b.tick, schema.NodeRegistrationPayload{
		NodeID: "node-2",
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := state.Apply(stale); err == nil {
		t.Error("Apply accepted a repeated tick")
	}
}

func TestApplyRejectsTamperedEvent(t *testing.T) {
	b := newLogBuilder(t)
	event := b.append(schema.EventTypeNodeRegistration, 0, schema.NodeRegistrationPayload{
		NodeID: "node-1",
	})
	event.Epoch = 3

	state := NewState(testConstants)
	err := state.Apply(event)
	if err == nil {
		t.Fatal("Apply accepted an event whose envelope was altered after hashing")
	}
	if !strings.Contains(err.Error(), "does not match") {
		t.Errorf("error = %v, want ID mismatch", err)
	}
}

func TestApplyRejectsWrongEnvelopeEpoch(t *testing.T) {
	b := threeNodeLog(t)
	state := NewState(testConstants)
	applyAll(t, state, b.events)

	event, err := schema.NewEvent(schema.EventTypeRead, 9, b.tick+1, schema.ReadPayload{
		ObjectID: "doc-1",
		Version:  1,
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := state.Apply(event); err == nil {
		t.Error("Apply accepted an envelope epoch the registry never reached")
	}
}

func TestApplyRejectsVersionRegression(t *testing.T) {
	replicas := [][]string{
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
	}
	b := threeNodeLog(t)
	b.store("doc-1", 5, replicas)

	state := NewState(testConstants)
	applyAll(t, state, b.events)

	for _, version := range []uint64{5, 4} {
		event, err := schema.NewEvent(schema.EventTypeStore, 1, state.LastTick()+1, makeStorePayload("doc-1", version, replicas))
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(event); err == nil {
			t.Errorf("Apply accepted version %d after 5", version)
		}
	}
}

func TestFailedCallCountsErrorOnly(t *testing.T) {
	b := threeNodeLog(t)
	b.append(schema.EventTypeStore, b.epoch, schema.StorePayload{
		ObjectID: "doc-1",
		Version:  1,
		Error:    &schema.ErrorInfo{Code: "SE_ERR_INVALID_VERSION", Detail: "version 1 not greater than 3"},
	})

	state, err := Rebuild(context.Background(), testConstants, sliceSource(b.events))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if _, exists := state.Object("doc-1", 1); exists {
		t.Error("failed store must not create a catalog entry")
	}
	if got := state.Metrics.ErrorsByCode["SE_ERR_INVALID_VERSION"]; got != 1 {
		t.Errorf("ErrorsByCode[SE_ERR_INVALID_VERSION] = %d, want 1", got)
	}
	if state.Metrics.ObjectsStored != 0 {
		t.Errorf("ObjectsStored = %d, want 0", state.Metrics.ObjectsStored)
	}
}

func TestNodeStatusMustMatchAdvancement(t *testing.T) {
	base := func() (*State, *logBuilder) {
		b := newLogBuilder(t)
		b.register("node-1")
		b.register("node-2")
		state := NewState(testConstants)
		applyAll(t, state, b.events)
		return state, b
	}

	t.Run("missing status events", func(t *testing.T) {
		state, b := base()
		event, err := schema.NewEvent(schema.EventTypeEpochAdvancement, 1, b.tick+1, schema.EpochAdvancementPayload{
			Epoch:         1,
			EligibleNodes: []string{"node-1"},
			Constants:     testConstants,
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(event); err == nil {
			t.Error("advancement with an unannounced eligibility flip was accepted")
		}
	})

	t.Run("status for wrong node", func(t *testing.T) {
		state, b := base()
		status, err := schema.NewEvent(schema.EventTypeNodeStatus, 1, b.tick+1, schema.NodeStatusPayload{
			NodeID:   "node-2",
			Eligible: true,
			Epoch:    1,
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(status); err != nil {
			t.Fatalf("Apply status: %v", err)
		}
		advancement, err := schema.NewEvent(schema.EventTypeEpochAdvancement, 1, b.tick+2, schema.EpochAdvancementPayload{
			Epoch:         1,
			EligibleNodes: []string{"node-1"},
			Constants:     testConstants,
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(advancement); err == nil {
			t.Error("advancement whose flips disagree with NODE_STATUS was accepted")
		}
	})

	t.Run("dangling status before boundary", func(t *testing.T) {
		state, b := base()
		status, err := schema.NewEvent(schema.EventTypeNodeStatus, 1, b.tick+1, schema.NodeStatusPayload{
			NodeID:   "node-1",
			Eligible: true,
			Epoch:    1,
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(status); err != nil {
			t.Fatalf("Apply status: %v", err)
		}
		read, err := schema.NewEvent(schema.EventTypeRead, 0, b.tick+2, schema.ReadPayload{
			ObjectID: "doc-1",
			Version:  1,
			Error:    &schema.ErrorInfo{Code: "SE_ERR_NOT_FOUND"},
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(read); err == nil {
			t.Error("boundary event accepted while NODE_STATUS awaited its advancement")
		}
	})
}

func TestAdvancementRejectsForeignConstants(t *testing.T) {
	b := newLogBuilder(t)
	b.register("node-1")
	b.append(schema.EventTypeNodeStatus, 1, schema.NodeStatusPayload{
		NodeID:   "node-1",
		Eligible: true,
		Epoch:    1,
	})
	other := testConstants
	other.BlockSizeBytes = 131072
	b.append(schema.EventTypeEpochAdvancement, 1, schema.EpochAdvancementPayload{
		Epoch:         1,
		EligibleNodes: []string{"node-1"},
		Constants:     other,
	})

	_, err := Rebuild(context.Background(), testConstants, sliceSource(b.events))
	if err == nil {
		t.Fatal("Rebuild accepted a log written under different constants")
	}
	if !strings.Contains(err.Error(), "constants") {
		t.Errorf("error = %v, want constants mismatch", err)
	}
}

func TestListingVerifiedAgainstState(t *testing.T) {
	replicas := [][]string{
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
	}

	buildLog := func(t *testing.T) (*State, *logBuilder, []Entry) {
		t.Helper()
		b := threeNodeLog(t)
		b.store("doc-1", 1, replicas)
		b.store("doc-2", 1, replicas)
		state := NewState(testConstants)
		applyAll(t, state, b.events)
		return state, b, state.List(Filter{})
	}

	t.Run("matching digest accepted", func(t *testing.T) {
		state, b, entries := buildLog(t)
		digest, err := ListingDigest(entries)
		if err != nil {
			t.Fatalf("ListingDigest: %v", err)
		}
		event, err := schema.NewEvent(schema.EventTypeListObjects, 1, b.tick+1, schema.ListObjectsPayload{
			Count:        uint64(len(entries)),
			ResultDigest: digest[:],
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(event); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if state.Metrics.ListsServed != 1 {
			t.Errorf("ListsServed = %d, want 1", state.Metrics.ListsServed)
		}
	})

	t.Run("wrong count rejected", func(t *testing.T) {
		state, b, entries := buildLog(t)
		digest, _ := ListingDigest(entries)
		event, err := schema.NewEvent(schema.EventTypeListObjects, 1, b.tick+1, schema.ListObjectsPayload{
			Count:        uint64(len(entries)) + 1,
			ResultDigest: digest[:],
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(event); err == nil {
			t.Error("listing with a count the state contradicts was accepted")
		}
	})

	t.Run("wrong digest rejected", func(t *testing.T) {
		state, b, entries := buildLog(t)
		digest, _ := ListingDigest(entries)
		digest[0] ^= 0x01
		event, err := schema.NewEvent(schema.EventTypeListObjects, 1, b.tick+1, schema.ListObjectsPayload{
			Count:        uint64(len(entries)),
			ResultDigest: digest[:],
		})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := state.Apply(event); err == nil {
			t.Error("listing with a tampered digest was accepted")
		}
	})
}

func TestRebuildRejectsDanglingStatusAtEnd(t *testing.T) {
	b := newLogBuilder(t)
	b.register("node-1")
	b.append(schema.EventTypeNodeStatus, 1, schema.NodeStatusPayload{
		NodeID:   "node-1",
		Eligible: true,
		Epoch:    1,
	})

	if _, err := Rebuild(context.Background(), testConstants, sliceSource(b.events)); err == nil {
		t.Error("Rebuild accepted a log ending before the paired advancement")
	}
}

func TestProofEventsCreditAssignedNodes(t *testing.T) {
	b := threeNodeLog(t)
	shardID := canonical.ShardID("doc-1", 1, 0)
	root := canonical.LeafHash([]byte("root"))
	assigned := []string{"node-1", "node-2", "node-3"}

	b.append(schema.EventTypeProofGenerated, b.epoch, schema.ProofGeneratedPayload{
		ObjectID:      "doc-1",
		Version:       1,
		ShardID:       shardID[:],
		ShardIndex:    0,
		MerkleRoot:    root[:],
		LeafCount:     1,
		AssignedNodes: assigned,
	})
	b.append(schema.EventTypeGetProof, b.epoch, schema.GetProofPayload{
		ObjectID: "doc-1",
		Version:  1,
		ShardID:  shardID[:],
	})
	b.append(schema.EventTypeProofFailed, b.epoch, schema.ProofFailedPayload{
		ObjectID:      "doc-1",
		Version:       1,
		ShardID:       shardID[:],
		AssignedNodes: assigned,
		Error:         schema.ErrorInfo{Code: "SE_ERR_PROOF_UNAVAILABLE"},
	})
	b.append(schema.EventTypeGetProof, b.epoch, schema.GetProofPayload{
		ObjectID: "doc-1",
		Version:  1,
		ShardID:  shardID[:],
		Error:    &schema.ErrorInfo{Code: "SE_ERR_PROOF_UNAVAILABLE"},
	})

	state, err := Rebuild(context.Background(), testConstants, sliceSource(b.events))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	for _, nodeID := range assigned {
		if got := state.Metrics.ProofsGeneratedPerNode[nodeID]; got != 1 {
			t.Errorf("ProofsGeneratedPerNode[%s] = %d, want 1", nodeID, got)
		}
		if got := state.Metrics.ProofsFailedPerNode[nodeID]; got != 1 {
			t.Errorf("ProofsFailedPerNode[%s] = %d, want 1", nodeID, got)
		}
	}
	if state.Metrics.ProofCalls != 2 {
		t.Errorf("ProofCalls = %d, want 2", state.Metrics.ProofCalls)
	}
	if got := state.Metrics.ErrorsByCode["SE_ERR_PROOF_UNAVAILABLE"]; got != 1 {
		t.Errorf("ErrorsByCode[SE_ERR_PROOF_UNAVAILABLE] = %d, want 1", got)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	replicas := [][]string{
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
		{"node-1", "node-2", "node-3"},
	}
	b := threeNodeLog(t)
	b.store("reports/q3", 2, replicas)
	b.store("archive/old", 1, replicas)
	b.store("reports/q1", 1, replicas)
	b.store("reports/q3", 5, replicas)

	state, err := Rebuild(context.Background(), testConstants, sliceSource(b.events))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	all := state.List(Filter{})
	want := []struct {
		objectID string
		version  uint64
	}{
		{"archive/old", 1},
		{"reports/q1", 1},
		{"reports/q3", 2},
		{"reports/q3", 5},
	}
	if len(all) != len(want) {
		t.Fatalf("List returned %d entries, want %d", len(all), len(want))
	}
	for i, entry := range all {
		if entry.ObjectID != want[i].objectID || entry.Version != want[i].version {
			t.Errorf("List[%d] = (%s, %d), want (%s, %d)",
				i, entry.ObjectID, entry.Version, want[i].objectID, want[i].version)
		}
	}

	byPrefix := state.List(Filter{Prefix: "reports/"})
	if len(byPrefix) != 3 {
		t.Errorf("prefix filter returned %d entries, want 3", len(byPrefix))
	}
	byID := state.List(Filter{ObjectID: "reports/q3"})
	if len(byID) != 2 {
		t.Errorf("object filter returned %d entries, want 2", len(byID))
	}
	byVersion := state.List(Filter{MinVersion: 2, MaxVersion: 4})
	if len(byVersion) != 1 || byVersion[0].Version != 2 {
		t.Errorf("version bound filter = %v, want the single version-2 entry", byVersion)
	}
	limited := state.List(Filter{Limit: 2})
	if len(limited) != 2 || limited[0].ObjectID != "archive/old" || limited[1].ObjectID != "reports/q1" {
		t.Errorf("limit filter = %v, want first two sorted entries", limited)
	}
	if got := state.Versions("reports/q3"); len(got) != 2 || got[0] != 2 || got[1] != 5 {
		t.Errorf("Versions = %v, want [2 5]", got)
	}
}

func TestEligibleAtFreezesEpochs(t *testing.T) {
	b := newLogBuilder(t)
	b.register("node-1")
	b.register("node-2")
	b.advance(1, []string{"node-1", "node-2"}, []registry.StatusChange{
		{NodeID: "node-1", Eligible: true},
		{NodeID: "node-2", Eligible: true},
	})
	b.advance(2, []string{"node-1"}, []registry.StatusChange{
		{NodeID: "node-2", Eligible: false},
	})

	state, err := Rebuild(context.Background(), testConstants, sliceSource(b.events))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	first, exists := state.EligibleAt(1)
	if !exists || len(first) != 2 {
		t.Errorf("EligibleAt(1) = %v, %v", first, exists)
	}
	second, exists := state.EligibleAt(2)
	if !exists || len(second) != 1 || second[0] != "node-1" {
		t.Errorf("EligibleAt(2) = %v, %v", second, exists)
	}
	if _, exists := state.EligibleAt(7); exists {
		t.Error("EligibleAt(7) reported an epoch that never advanced")
	}
	if got := state.Epochs(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Epochs = %v, want [1 2]", got)
	}
}
