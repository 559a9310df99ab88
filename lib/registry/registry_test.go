// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"slices"
	"testing"
)

// registerNodes registers the given IDs with synthetic endpoints.
func registerNodes(t *testing.T, r *Registry, nodeIDs ...string) {
	t.Helper()
	for i, nodeID := range nodeIDs {
		if err := r.Register(nodeID, "10.0.0.1", uint16(7000+i)); err != nil {
			t.Fatalf("Register(%s): %v", nodeID, err)
		}
	}
}

func TestRegisterStartsUnattested(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1")

	node, exists := r.Node("node-1")
	if !exists {
		t.Fatal("registered node not found")
	}
	if node.Status != StatusRegistered {
		t.Errorf("status = %s, want registered", node.Status)
	}
	if node.Host != "10.0.0.1" || node.Port != 7000 {
		t.Errorf("endpoint = %s:%d, want 10.0.0.1:7000", node.Host, node.Port)
	}
	if r.HasContext() {
		t.Error("registry reports eligibility context before any advancement")
	}
	if len(r.Eligible()) != 0 {
		t.Error("eligible set non-empty before any advancement")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1")

	err := r.Register("node-1", "10.0.0.2", 8000)
	if !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("duplicate Register: err = %v, want ErrDuplicateNode", err)
	}
}

func TestAdvanceEpochTransitionsAllNodes(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1", "node-2", "node-3")

	changes, err := r.AdvanceEpoch(1, []string{"node-1", "node-3"})
	if err != nil {
		t.Fatalf("AdvanceEpoch: %v", err)
	}

	// node-1 and node-3 flipped to eligible; node-2 went
	// registered→ineligible, which is not an eligibility flip.
	want := []StatusChange{
		{NodeID: "node-1", Eligible: true},
		{NodeID: "node-3", Eligible: true},
	}
	if !slices.Equal(changes, want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}

	for nodeID, wantStatus := range map[string]Status{
		"node-1": StatusEligible,
		"node-2": StatusIneligible,
		"node-3": StatusEligible,
	} {
		node, _ := r.Node(nodeID)
		if node.Status != wantStatus {
			t.Errorf("%s status = %s, want %s", nodeID, node.Status, wantStatus)
		}
	}

	if r.Epoch() != 1 {
		t.Errorf("Epoch = %d, want 1", r.Epoch())
	}
	if !r.HasContext() {
		t.Error("registry reports no context after advancement")
	}
}

func TestAdvanceEpochRevocation(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1", "node-2")

	if _, err := r.AdvanceEpoch(1, []string{"node-1", "node-2"}); err != nil {
		t.Fatalf("AdvanceEpoch(1): %v", err)
	}

	// node-2 drops out at epoch 2: an explicit revocation flip.
	changes, err := r.AdvanceEpoch(2, []string{"node-1"})
	if err != nil {
		t.Fatalf("AdvanceEpoch(2): %v", err)
	}
	want := []StatusChange{{NodeID: "node-2", Eligible: false}}
	if !slices.Equal(changes, want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}

	node, _ := r.Node("node-2")
	if node.Status != StatusIneligible {
		t.Errorf("node-2 status = %s, want ineligible", node.Status)
	}
}

func TestAdvanceEpochNoChanges(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1")

	if _, err := r.AdvanceEpoch(1, []string{"node-1"}); err != nil {
		t.Fatalf("AdvanceEpoch(1): %v", err)
	}

	changes, err := r.AdvanceEpoch(2, []string{"node-1"})
	if err != nil {
		t.Fatalf("AdvanceEpoch(2): %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("unchanged eligibility produced %d changes", len(changes))
	}
	if r.Epoch() != 2 {
		t.Errorf("Epoch = %d, want 2", r.Epoch())
	}
}

func TestAdvanceEpochOscillation(t *testing.T) {
	// Eligibility oscillates across epochs and each flip is reported.
	r := New()
	registerNodes(t, r, "node-1")

	for epoch := uint64(1); epoch <= 4; epoch++ {
		attested := epoch%2 == 1
		var eligibleIDs []string
		if attested {
			eligibleIDs = []string{"node-1"}
		}

		changes, err := r.AdvanceEpoch(epoch, eligibleIDs)
		if err != nil {
			t.Fatalf("AdvanceEpoch(%d): %v", epoch, err)
		}
		if len(changes) != 1 || changes[0].Eligible != attested {
			t.Errorf("epoch %d changes = %v, want one flip to %v", epoch, changes, attested)
		}
	}
}

func TestAdvanceEpochEligibleSorted(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-b", "node-a", "node-c")

	// Attestation order must not leak into the frozen set.
	if _, err := r.AdvanceEpoch(1, []string{"node-c", "node-a", "node-b"}); err != nil {
		t.Fatalf("AdvanceEpoch: %v", err)
	}

	want := []string{"node-a", "node-b", "node-c"}
	if !slices.Equal(r.Eligible(), want) {
		t.Errorf("Eligible = %v, want %v", r.Eligible(), want)
	}
}

func TestAdvanceEpochRejectsStale(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1")

	if _, err := r.AdvanceEpoch(5, []string{"node-1"}); err != nil {
		t.Fatalf("AdvanceEpoch(5): %v", err)
	}

	for _, stale := range []uint64{0, 4, 5} {
		if _, err := r.AdvanceEpoch(stale, []string{"node-1"}); !errors.Is(err, ErrStaleEpoch) {
			t.Errorf("AdvanceEpoch(%d): err = %v, want ErrStaleEpoch", stale, err)
		}
	}

	// Failed advancements must not move the epoch.
	if r.Epoch() != 5 {
		t.Errorf("Epoch = %d after rejected advancements, want 5", r.Epoch())
	}
}

func TestAdvanceEpochRejectsUnknownNode(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1")

	_, err := r.AdvanceEpoch(1, []string{"node-1", "ghost"})
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("err = %v, want ErrUnknownNode", err)
	}

	// The failed advancement must not have touched any state.
	if r.Epoch() != 0 || r.HasContext() {
		t.Error("rejected advancement mutated epoch state")
	}
	node, _ := r.Node("node-1")
	if node.Status != StatusRegistered {
		t.Errorf("node-1 status = %s after rejected advancement, want registered", node.Status)
	}
}

func TestAdvanceEpochRejectsDuplicateAttestation(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1", "node-2")

	if _, err := r.AdvanceEpoch(1, []string{"node-1", "node-1"}); err == nil {
		t.Error("duplicate attested ID accepted")
	}
}

func TestAdvanceEpochEmptyEligibleSet(t *testing.T) {
	// An advancement that attests nobody is valid: it freezes an
	// empty eligible set and placement fails until the next epoch.
	r := New()
	registerNodes(t, r, "node-1")

	if _, err := r.AdvanceEpoch(1, []string{"node-1"}); err != nil {
		t.Fatalf("AdvanceEpoch(1): %v", err)
	}
	changes, err := r.AdvanceEpoch(2, nil)
	if err != nil {
		t.Fatalf("AdvanceEpoch(2): %v", err)
	}
	if len(changes) != 1 || changes[0].Eligible {
		t.Errorf("changes = %v, want one flip to ineligible", changes)
	}
	if len(r.Eligible()) != 0 {
		t.Error("eligible set not empty")
	}
	if !r.HasContext() {
		t.Error("context lost after empty attestation")
	}
}

func TestNodesSorted(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-c", "node-a", "node-b")

	nodes := r.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("Nodes returned %d entries, want 3", len(nodes))
	}
	for i, wantID := range []string{"node-a", "node-b", "node-c"} {
		if nodes[i].ID != wantID {
			t.Errorf("nodes[%d].ID = %s, want %s", i, nodes[i].ID, wantID)
		}
	}
}

func TestEligibleReturnsCopy(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1", "node-2")
	if _, err := r.AdvanceEpoch(1, []string{"node-1", "node-2"}); err != nil {
		t.Fatalf("AdvanceEpoch: %v", err)
	}

	eligible := r.Eligible()
	eligible[0] = "mutated"

	if r.Eligible()[0] != "node-1" {
		t.Error("mutating the returned slice changed the frozen set")
	}
}

func TestPreviewAdvanceDoesNotMutate(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1", "node-2")

	eligible, changes, err := r.PreviewAdvance(1, []string{"node-2", "node-1"})
	if err != nil {
		t.Fatalf("PreviewAdvance: %v", err)
	}
	if len(eligible) != 2 || eligible[0] != "node-1" || eligible[1] != "node-2" {
		t.Errorf("eligible = %v, want sorted [node-1 node-2]", eligible)
	}
	if len(changes) != 2 {
		t.Errorf("changes = %v, want 2 flips", changes)
	}

	if r.Epoch() != 0 {
		t.Errorf("preview advanced the epoch to %d", r.Epoch())
	}
	if node, _ := r.Node("node-1"); node.Status != StatusRegistered {
		t.Errorf("preview transitioned node-1 to %s", node.Status)
	}

	// Applying the previewed advancement must yield the same flips.
	applied, err := r.AdvanceEpoch(1, []string{"node-2", "node-1"})
	if err != nil {
		t.Fatalf("AdvanceEpoch after preview: %v", err)
	}
	if len(applied) != len(changes) {
		t.Fatalf("applied %d flips, previewed %d", len(applied), len(changes))
	}
	for i := range applied {
		if applied[i] != changes[i] {
			t.Errorf("flip[%d]: applied %+v, previewed %+v", i, applied[i], changes[i])
		}
	}
}

func TestPreviewAdvanceValidates(t *testing.T) {
	r := New()
	registerNodes(t, r, "node-1")
	if _, err := r.AdvanceEpoch(3, []string{"node-1"}); err != nil {
		t.Fatalf("AdvanceEpoch: %v", err)
	}

	if _, _, err := r.PreviewAdvance(3, []string{"node-1"}); !errors.Is(err, ErrStaleEpoch) {
		t.Errorf("stale epoch error = %v, want ErrStaleEpoch", err)
	}
	if _, _, err := r.PreviewAdvance(4, []string{"node-9"}); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("unknown node error = %v, want ErrUnknownNode", err)
	}
}
