// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the canonical CBOR encoding used everywhere a
// byte sequence feeds a hash: commit metadata, event envelopes, state
// snapshots, attestation digests.
//
// Encoding uses CBOR Core Deterministic Encoding (RFC 8949 §4.2):
// bytewise-sorted map keys, shortest-form integers, no indefinite
// lengths. Two semantically equal values always encode to the same
// bytes — the property the engine's replay-equivalence and idempotency
// guarantees stand on. This is the engine's single declared
// canonicalization rule; no component hand-rolls its own key sorting
// or separators.
//
// For buffer-oriented operations (payloads, snapshots, catalog blobs):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// Types that participate in hashing or the event log carry `cbor`
// tags exclusively; their field names are part of the replay contract.
// Hash-valued fields are declared `[]byte` and hold the raw 32-byte
// digest, never hex — the encoding must be the same bytes the hashes
// were computed over. CLI report types live in the commands package,
// carry `json` tags, and render hashes as hex; the two families never
// share a struct.
package codec
