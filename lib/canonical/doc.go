// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package canonical computes the content commitments, shard identifiers,
// and digests that the storage engine's determinism rests on. Every hash
// is a keyed BLAKE3 digest over a canonical byte encoding, so independent
// re-executions of the engine produce bit-identical identifiers.
//
// Variable-structure inputs (commit metadata, event envelopes, state
// snapshots) are canonicalized with CBOR Core Deterministic Encoding via
// lib/codec before hashing. Fixed-shape inputs (shard coordinates, block
// payloads, Merkle nodes) use explicit big-endian framing.
//
// # Domain Separation
//
// Each hash kind uses its own 32-byte BLAKE3 key: the ASCII domain name
// ("qfs.storage.commit", "qfs.storage.shard", ...) zero-padded to key
// length. The same input bytes therefore produce unrelated digests in
// different roles — a block hash can never collide with a Merkle
// interior node or an event identifier. The keys are protocol
// constants; changing any of them invalidates every existing hash in
// that domain, including the whole event log.
package canonical
