// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/registry"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
)

// maxNodeIDBytes bounds node identifiers. Like object IDs they are
// external deterministic identifiers, not content.
const maxNodeIDBytes = 256

// RegisterResult is the outcome of a successful node registration.
type RegisterResult struct {
	EventID canonical.Hash
	Tick    uint64
	Epoch   uint64
}

// RegisterNode records a new storage node. The node starts
// unattested: it becomes eligible for placement only when a later
// epoch advancement lists it. Node identity is immutable — a second
// registration under the same ID is rejected, never merged.
func (e *Engine) RegisterNode(ctx context.Context, nodeID, host string, port uint16) (RegisterResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "register_node"
	result, boundaryErr := e.registerLocked(ctx, nodeID, host, port)
	if boundaryErr != nil {
		payload := schema.NodeRegistrationPayload{
			NodeID: safeNodeID(nodeID),
			Error:  boundaryErr.Info(),
		}
		e.emitFailureLocked(ctx, eventSpec{
			Type:    schema.EventTypeNodeRegistration,
			Epoch:   e.epochLocked(),
			Payload: payload,
		})
		e.logFailure(op, boundaryErr)
		return RegisterResult{}, boundaryErr
	}
	return result, nil
}

func (e *Engine) registerLocked(ctx context.Context, nodeID, host string, port uint16) (RegisterResult, *Error) {
	const op = "register_node"

	if err := validateNodeID(nodeID); err != nil {
		return RegisterResult{}, fail(op, CodeInvalidInput, "%v", err)
	}
	if host == "" {
		return RegisterResult{}, fail(op, CodeInvalidInput, "host is empty")
	}
	if _, exists := e.state.Registry.Node(nodeID); exists {
		return RegisterResult{}, fail(op, CodeInvalidInput, "node %q is already registered", nodeID)
	}

	epoch := e.epochLocked()
	payload := schema.NodeRegistrationPayload{
		NodeID: nodeID,
		Host:   host,
		Port:   port,
	}
	events, err := e.commitLocked(ctx, 0,
		[]eventSpec{{Type: schema.EventTypeNodeRegistration, Epoch: epoch, Payload: payload}}, nil)
	if err != nil {
		return RegisterResult{}, internal(op, err)
	}

	e.logger.Info("node registered",
		"node_id", nodeID,
		"host", host,
		"port", port,
		"tick", events[0].Tick,
	)

	return RegisterResult{
		EventID: events[0].ID,
		Tick:    events[0].Tick,
		Epoch:   epoch,
	}, nil
}

// AdvanceRequest asks the engine to move to a new epoch with a fresh
// eligibility verdict.
type AdvanceRequest struct {
	// Epoch is the new epoch number. Must be strictly greater than
	// the current epoch.
	Epoch uint64

	// Eligible is the attested eligible node ID set — the verdict of
	// the verification snapshot, extracted by the externally verified
	// AEGIS service. Order does not matter; the registry freezes the
	// sorted set. Every ID must be registered.
	Eligible []string

	// Verification is the raw verification snapshot the verdict came
	// from. The event log records only its digest; the raw snapshot
	// stays with its producer.
	Verification []byte

	// Telemetry is the raw telemetry snapshot captured alongside the
	// verification. Recorded by digest the same way. The engine never
	// reads its content — telemetry-driven placement is exactly what
	// this engine refuses to do.
	Telemetry []byte
}

// AdvanceResult is the outcome of a successful epoch advancement.
type AdvanceResult struct {
	Epoch uint64

	// Eligible is the frozen sorted eligible set now in force.
	Eligible []string

	// Changes lists the per-node eligibility flips this advancement
	// caused, in node ID order. Each flip was logged as a NODE_STATUS
	// event ahead of the advancement event.
	Changes []registry.StatusChange

	VerificationDigest canonical.Hash
	TelemetryDigest    canonical.Hash

	// EventID identifies the EPOCH_ADVANCEMENT boundary event; Tick
	// is its tick (the last of the advancement's event group).
	EventID canonical.Hash
	Tick    uint64
}

// AdvanceEpoch moves the engine to a new epoch. This is the only
// operation that changes node eligibility: the verdict in the request
// replaces the frozen eligible set atomically, one NODE_STATUS event
// is appended per node whose eligibility flipped (sorted by node ID),
// and the EPOCH_ADVANCEMENT event closes the group — all in one
// transaction, so replay never observes a half-advanced epoch.
func (e *Engine) AdvanceEpoch(ctx context.Context, request AdvanceRequest) (AdvanceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "advance_epoch"
	result, boundaryErr := e.advanceLocked(ctx, request)
	if boundaryErr != nil {
		// The failure event records the requested epoch in its
		// payload but is enveloped under the epoch still in force.
		payload := schema.EpochAdvancementPayload{
			Epoch:     request.Epoch,
			Constants: e.constants,
			Error:     boundaryErr.Info(),
		}
		e.emitFailureLocked(ctx, eventSpec{
			Type:    schema.EventTypeEpochAdvancement,
			Epoch:   e.epochLocked(),
			Payload: payload,
		})
		e.logFailure(op, boundaryErr)
		return AdvanceResult{}, boundaryErr
	}
	return result, nil
}

func (e *Engine) advanceLocked(ctx context.Context, request AdvanceRequest) (AdvanceResult, *Error) {
	const op = "advance_epoch"

	// PreviewAdvance validates everything (stale epoch, unknown or
	// duplicate node IDs) without mutating the registry; the actual
	// transition happens when the committed events fold into state.
	eligible, changes, err := e.state.Registry.PreviewAdvance(request.Epoch, request.Eligible)
	if err != nil {
		return AdvanceResult{}, fail(op, CodeInvalidInput, "%v", err)
	}

	verificationDigest := canonical.AttestationDigest(request.Verification)
	telemetryDigest := canonical.AttestationDigest(request.Telemetry)

	specs := make([]eventSpec, 0, len(changes)+1)
	for _, change := range changes {
		specs = append(specs, eventSpec{
			Type:  schema.EventTypeNodeStatus,
			Epoch: request.Epoch,
			Payload: schema.NodeStatusPayload{
				NodeID:   change.NodeID,
				Eligible: change.Eligible,
				Epoch:    request.Epoch,
			},
		})
	}
	specs = append(specs, eventSpec{
		Type:  schema.EventTypeEpochAdvancement,
		Epoch: request.Epoch,
		Payload: schema.EpochAdvancementPayload{
			Epoch:              request.Epoch,
			EligibleNodes:      eligible,
			VerificationDigest: verificationDigest[:],
			TelemetryDigest:    telemetryDigest[:],
			Constants:          e.constants,
		},
	})

	events, err := e.commitLocked(ctx, 0, specs, nil)
	if err != nil {
		return AdvanceResult{}, internal(op, err)
	}
	boundary := events[len(events)-1]

	e.logger.Info("epoch advanced",
		"epoch", request.Epoch,
		"eligible", len(eligible),
		"flips", len(changes),
		"verification_digest", verificationDigest.Short(),
		"tick", boundary.Tick,
	)

	return AdvanceResult{
		Epoch:              request.Epoch,
		Eligible:           eligible,
		Changes:            changes,
		VerificationDigest: verificationDigest,
		TelemetryDigest:    telemetryDigest,
		EventID:            boundary.ID,
		Tick:               boundary.Tick,
	}, nil
}

func validateNodeID(nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("node ID is empty")
	}
	if len(nodeID) > maxNodeIDBytes {
		return fmt.Errorf("node ID is %d bytes, maximum is %d", len(nodeID), maxNodeIDBytes)
	}
	if !utf8.ValidString(nodeID) {
		return fmt.Errorf("node ID is not valid UTF-8")
	}
	if strings.ContainsRune(nodeID, 0) {
		return fmt.Errorf("node ID contains a NUL byte")
	}
	return nil
}

// safeNodeID mirrors safeObjectID for node identifiers in failure
// event payloads.
func safeNodeID(nodeID string) string {
	if nodeID == "" || validateNodeID(nodeID) == nil {
		return nodeID
	}
	return ""
}
