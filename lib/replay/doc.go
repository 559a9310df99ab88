// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay rebuilds engine state from the storage event log.
//
// State is a pure fold over events: the live engine folds each event
// into its own State as it commits, and an auditor folds the same
// events from the log into a fresh State. Both run the identical
// State.Apply; equal state digests therefore mean the log and the
// live engine agree bit for bit, and a divergence pinpoints either a
// tampered log or a non-deterministic engine.
//
// Apply is also the log's integrity checker: it re-verifies every
// event ID, enforces strict tick ordering and epoch consistency,
// cross-checks NODE_STATUS events against the registry transitions
// the paired advancement actually causes, and re-derives listing
// digests. A log that replays without error is internally consistent,
// not merely parseable.
package replay
