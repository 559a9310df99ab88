// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/RealDaniG/QFS-sub002/lib/codec"
)

// Hash is a 32-byte BLAKE3 digest. Commit hashes, shard identifiers,
// block hashes, Merkle roots, event identifiers, and state digests are
// all this size.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same input bytes produce different hashes in
// different contexts, so a block hash can never be confused with a
// Merkle interior node or an event identifier.
type domainKey [32]byte

// Domain separation keys. These are protocol constants — changing any
// of them invalidates every existing hash in that domain, including
// the whole event log. The byte values are the ASCII encoding of the
// domain name, zero-padded to 32 bytes, so the keys stay readable in
// hex dumps without losing any cryptographic property (BLAKE3 keyed
// mode treats the key as an opaque 32-byte value).
var (
	commitDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		'c', 'o', 'm', 'm', 'i', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	shardDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		's', 'h', 'a', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	blockDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		'b', 'l', 'o', 'c', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	merkleDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		'm', 'e', 'r', 'k', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	eventDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		'e', 'v', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	stateDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		's', 't', 'a', 't', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	attestDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		'a', 't', 't', 'e', 's', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	placeDomainKey = domainKey{
		'q', 'f', 's', '.', 's', 't', 'o', 'r', 'a', 'g', 'e', '.',
		'p', 'l', 'a', 'c', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// commitEncoding is the canonical structure hashed by CommitHash. The
// CBOR encoder sorts the field keys bytewise, so the byte encoding is
// identical regardless of how the caller built the metadata map.
type commitEncoding struct {
	Content       []byte            `cbor:"content"`
	SchemaVersion uint32            `cbor:"schema_version"`
	Metadata      map[string]string `cbor:"metadata"`
}

// CommitHash computes the content commitment for an object version:
// the commit-domain BLAKE3 keyed hash over the canonical CBOR encoding
// of (content_bytes, schema_version, metadata). The commitment is what
// read verifies after reconstruction and what the event log records.
//
// Metadata keys and values must be valid UTF-8; anything else cannot
// be canonically encoded and is rejected. A nil metadata map hashes
// identically to an empty one.
func CommitHash(content []byte, schemaVersion uint32, metadata map[string]string) (Hash, error) {
	for key, value := range metadata {
		if !utf8.ValidString(key) {
			return Hash{}, fmt.Errorf("metadata key %q is not valid UTF-8", key)
		}
		if !utf8.ValidString(value) {
			return Hash{}, fmt.Errorf("metadata value for key %q is not valid UTF-8", key)
		}
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	if content == nil {
		content = []byte{}
	}

	encoded, err := codec.Marshal(commitEncoding{
		Content:       content,
		SchemaVersion: schemaVersion,
		Metadata:      metadata,
	})
	if err != nil {
		return Hash{}, fmt.Errorf("encoding commit: %w", err)
	}
	return keyedHash(commitDomainKey, encoded), nil
}

// ShardID computes the identifier of one shard of an object version:
// the shard-domain BLAKE3 keyed hash over the framed coordinates
// uvarint(len(object_id)) || object_id || be64(version) || be32(index).
// The length prefix keeps the framing unambiguous for every object_id.
//
// The caller is responsible for validating object_id (the engine does
// this at the boundary); ShardID itself is total over its inputs.
func ShardID(objectID string, version uint64, shardIndex uint32) Hash {
	framed := make([]byte, 0, binary.MaxVarintLen64+len(objectID)+12)
	framed = binary.AppendUvarint(framed, uint64(len(objectID)))
	framed = append(framed, objectID...)
	framed = binary.BigEndian.AppendUint64(framed, version)
	framed = binary.BigEndian.AppendUint32(framed, shardIndex)
	return keyedHash(shardDomainKey, framed)
}

// LeafHash computes the block-domain hash of a shard payload block.
// Block hashes are always computed on the uncompressed, padded block
// bytes, so at-rest compression never affects identity or dedup, and
// they double as the Merkle tree leaves for possession proofs.
func LeafHash(block []byte) Hash {
	return keyedHash(blockDomainKey, block)
}

// NodeHash computes a Merkle interior node from two child hashes.
// The merkle domain is distinct from the block domain, so an interior
// node can never collide with a leaf.
func NodeHash(left, right Hash) Hash {
	var combined [64]byte
	copy(combined[:32], left[:])
	copy(combined[32:], right[:])
	return keyedHash(merkleDomainKey, combined[:])
}

// EventID computes the identifier of a storage event from its
// canonical CBOR envelope. Two events with the same type, epoch, tick,
// and payload have the same identifier on every node — the property
// that makes retries idempotent-keyed and replay verifiable.
func EventID(canonicalEnvelope []byte) Hash {
	return keyedHash(eventDomainKey, canonicalEnvelope)
}

// StateDigest computes the digest of a canonical state snapshot. Live
// execution and replay serialize their state the same way, so equal
// digests mean byte-identical state.
func StateDigest(canonicalSnapshot []byte) Hash {
	return keyedHash(stateDomainKey, canonicalSnapshot)
}

// AttestationDigest computes the digest recorded in an epoch
// advancement for an externally supplied snapshot (the AEGIS
// eligibility attestation or the telemetry snapshot). Only the digest
// enters the event log; the raw snapshot stays with its producer.
func AttestationDigest(raw []byte) Hash {
	return keyedHash(attestDomainKey, raw)
}

// PlacementDigest maps a shard identifier to the integer that anchors
// replica placement: the big-endian value of the first 8 bytes of the
// place-domain hash of the shard identifier. Re-hashing (rather than
// truncating the shard identifier directly) keeps placement
// independent of the shard identifier's internal structure.
func PlacementDigest(shard Hash) uint64 {
	digest := keyedHash(placeDomainKey, shard[:])
	return binary.BigEndian.Uint64(digest[:8])
}

// String returns the hex encoding of the hash. This is the canonical
// textual form used in CLI output, logs, and list results.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters of the hash, for log
// lines where the full 64 characters would drown the message.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// IsZero reports whether the hash is the all-zero value, which no
// real digest produces in practice and which the engine uses as
// "absent".
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// FromBytes converts a raw 32-byte slice into a Hash. Event payloads
// and catalog rows store hashes as raw bytes; this is the checked
// conversion back.
func FromBytes(raw []byte) (Hash, error) {
	var hash Hash
	if len(raw) != 32 {
		return hash, fmt.Errorf("hash is %d bytes, want 32", len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}

// keyedHash computes the BLAKE3 keyed hash of data under the given
// domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed only fails for a wrong key length, which the domainKey
	// type rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("canonical: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
