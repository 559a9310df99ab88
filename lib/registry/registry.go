// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry tracks storage nodes and their per-epoch
// eligibility. It is a pure in-memory state machine with no locking
// and no I/O: the live engine drives it under its own serialization,
// and the replay engine drives a second instance from the event log.
// Both paths run identical transitions, which is what makes replayed
// registry state bit-comparable to live state.
//
// Node lifecycle: registration creates a node in [StatusRegistered];
// each epoch advancement moves every node to [StatusEligible] or
// [StatusIneligible] according to the externally verified eligible
// set. Nodes are never deleted — revocation is the explicit, logged
// transition to ineligible.
package registry

import (
	"errors"
	"fmt"
	"slices"
)

// Status is a node's position in the registration state machine.
type Status uint8

const (
	// StatusRegistered means the node has registered but no epoch
	// advancement has attested it yet. Not eligible for placement.
	StatusRegistered Status = iota

	// StatusEligible means the latest epoch's verification snapshot
	// attested the node. Eligible for placement until the next
	// advancement says otherwise.
	StatusEligible

	// StatusIneligible means the latest epoch's verification
	// snapshot did not attest the node.
	StatusIneligible
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusEligible:
		return "eligible"
	case StatusIneligible:
		return "ineligible"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Node is one registered storage node.
type Node struct {
	// ID is the node's placement identity. Immutable.
	ID string

	// Host and Port locate the node's storage endpoint. Recorded at
	// registration; placement never reads them.
	Host string
	Port uint16

	// Status is the node's current eligibility state.
	Status Status
}

// StatusChange records one node's effective eligibility flipping at
// an epoch advancement.
type StatusChange struct {
	NodeID   string
	Eligible bool
}

// Sentinel errors. The engine boundary maps all three to invalid
// input.
var (
	// ErrDuplicateNode is returned by Register for an already
	// registered node ID.
	ErrDuplicateNode = errors.New("node already registered")

	// ErrUnknownNode is returned by AdvanceEpoch when the eligible
	// set names a node that never registered.
	ErrUnknownNode = errors.New("node not registered")

	// ErrStaleEpoch is returned by AdvanceEpoch for an epoch that
	// does not advance (epoch <= current, or zero).
	ErrStaleEpoch = errors.New("epoch does not advance")
)

// Registry is the node and epoch state. The zero epoch means no
// advancement has happened yet: no eligibility context exists and
// placement is impossible.
type Registry struct {
	nodes    map[string]*Node
	epoch    uint64
	eligible []string
}

// New returns an empty registry at epoch zero.
func New() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Register adds a node in [StatusRegistered]. The node ID must be
// new; host and port are recorded as given.
func (r *Registry) Register(nodeID, host string, port uint16) error {
	if _, exists := r.nodes[nodeID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, nodeID)
	}
	r.nodes[nodeID] = &Node{
		ID:     nodeID,
		Host:   host,
		Port:   port,
		Status: StatusRegistered,
	}
	return nil
}

// advancePlan is a validated epoch advancement that has not been
// applied yet.
type advancePlan struct {
	epoch    uint64
	attested map[string]bool
	eligible []string
	changes  []StatusChange
}

// planAdvance validates an advancement and computes its outcome
// without mutating the registry.
func (r *Registry) planAdvance(epoch uint64, eligibleIDs []string) (advancePlan, error) {
	if epoch == 0 || epoch <= r.epoch {
		return advancePlan{}, fmt.Errorf("%w: epoch %d, current %d", ErrStaleEpoch, epoch, r.epoch)
	}

	attested := make(map[string]bool, len(eligibleIDs))
	for _, nodeID := range eligibleIDs {
		if _, exists := r.nodes[nodeID]; !exists {
			return advancePlan{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
		}
		if attested[nodeID] {
			return advancePlan{}, fmt.Errorf("node %s appears twice in eligible set", nodeID)
		}
		attested[nodeID] = true
	}

	// Collect flips of effective eligibility. A registered-but-
	// never-attested node becoming ineligible is not a flip: it was
	// never eligible.
	var changes []StatusChange
	for nodeID, node := range r.nodes {
		wasEligible := node.Status == StatusEligible
		isEligible := attested[nodeID]
		if wasEligible != isEligible {
			changes = append(changes, StatusChange{NodeID: nodeID, Eligible: isEligible})
		}
	}
	slices.SortFunc(changes, func(a, b StatusChange) int {
		if a.NodeID < b.NodeID {
			return -1
		}
		if a.NodeID > b.NodeID {
			return 1
		}
		return 0
	})

	frozen := make([]string, 0, len(attested))
	for nodeID := range attested {
		frozen = append(frozen, nodeID)
	}
	slices.Sort(frozen)

	return advancePlan{
		epoch:    epoch,
		attested: attested,
		eligible: frozen,
		changes:  changes,
	}, nil
}

// PreviewAdvance validates an advancement and returns the sorted
// eligible set and the eligibility flips it would cause, without
// changing any state. Callers that must log the flips before applying
// them (the engine builds NODE_STATUS events ahead of the commit) use
// this; an AdvanceEpoch with the same arguments afterwards cannot
// fail.
func (r *Registry) PreviewAdvance(epoch uint64, eligibleIDs []string) ([]string, []StatusChange, error) {
	plan, err := r.planAdvance(epoch, eligibleIDs)
	if err != nil {
		return nil, nil, err
	}
	return plan.eligible, plan.changes, nil
}

// AdvanceEpoch moves the registry to a new epoch with the given
// attested eligible set, transitioning every registered node to
// eligible or ineligible. Returns the effective eligibility flips in
// node ID order — the NODE_STATUS records the caller must log.
//
// The epoch must be strictly greater than the current one and
// non-zero. Every attested ID must be registered; duplicates are
// rejected. The eligible set is normalized to sorted order
// internally, so attestation file ordering never leaks into state.
func (r *Registry) AdvanceEpoch(epoch uint64, eligibleIDs []string) ([]StatusChange, error) {
	plan, err := r.planAdvance(epoch, eligibleIDs)
	if err != nil {
		return nil, err
	}

	for nodeID, node := range r.nodes {
		if plan.attested[nodeID] {
			node.Status = StatusEligible
		} else {
			node.Status = StatusIneligible
		}
	}

	r.epoch = plan.epoch
	r.eligible = plan.eligible
	return plan.changes, nil
}

// Epoch returns the current epoch. Zero means no advancement yet.
func (r *Registry) Epoch() uint64 {
	return r.epoch
}

// HasContext reports whether an eligibility context exists, i.e. at
// least one epoch advancement has happened. Placement before that
// has no frozen eligible set to draw from.
func (r *Registry) HasContext() bool {
	return r.epoch > 0
}

// Eligible returns a copy of the frozen sorted eligible node IDs for
// the current epoch. Empty before the first advancement and when the
// latest attestation was empty.
func (r *Registry) Eligible() []string {
	return slices.Clone(r.eligible)
}

// Node returns a copy of the node with the given ID.
func (r *Registry) Node(nodeID string) (Node, bool) {
	node, exists := r.nodes[nodeID]
	if !exists {
		return Node{}, false
	}
	return *node, true
}

// Nodes returns copies of all registered nodes, sorted by node ID.
func (r *Registry) Nodes() []Node {
	all := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		all = append(all, *node)
	}
	slices.SortFunc(all, func(a, b Node) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return all
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}
