// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is the public boundary of the QFS storage engine:
// the object store, its operations, and the error mapper.
//
// # Event Model
//
// Every public call appends exactly one boundary event of its own
// type to the event log, success or failure. Some calls additionally
// append component events first (GET_PROOF pairs with PROOF_GENERATED
// or PROOF_FAILED, epoch advancement with one NODE_STATUS per
// eligibility flip); all events of one call commit in one SQLite
// transaction with consecutive ticks. The committed events are then
// folded into the engine's live replay.State — the same fold an
// auditor runs over the log, which is what makes replayed state
// hash-identical to live state.
//
// # Concurrency
//
// One mutex serializes every operation. Placement and proof
// computation never block on I/O or honor cancellation; the
// context gates only SQLite pool acquisition.
//
// # Errors
//
// Every failure leaving the engine is an *Error carrying one of the
// finite SE_ERR_* codes. Callers and downstream accounting switch on
// codes, never on error text; CodeOf extracts the code from a wrapped
// chain.
package engine
