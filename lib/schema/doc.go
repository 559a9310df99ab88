// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the storage event log's wire types: the
// event envelope, the event type constants, and the typed payload of
// each event. The ordered event sequence is the engine's sole source
// of truth — object catalog, node registry, and metrics are all
// caches rebuilt from these records — so every field here is part of
// the replay contract and changes are format changes.
//
// Payloads are encoded with canonical CBOR (codec.Marshal) and the
// event identifier is the keyed hash of the canonical envelope
// encoding. Hashes appear in payloads as raw 32-byte strings, not
// hex, so the encoding is the same bytes the hashes were computed
// over.
package schema
