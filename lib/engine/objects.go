// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"zombiezen.com/go/sqlite"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/placement"
	"github.com/RealDaniG/QFS-sub002/lib/proof"
	"github.com/RealDaniG/QFS-sub002/lib/replay"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
	"github.com/RealDaniG/QFS-sub002/lib/shardstore"
)

// maxObjectIDBytes bounds object identifiers. IDs are external
// deterministic identifiers, not content; anything longer is a
// caller bug.
const maxObjectIDBytes = 512

// StoreRequest is a write of one object version.
type StoreRequest struct {
	ObjectID      string
	Version       uint64
	SchemaVersion uint32
	Content       []byte
	Metadata      map[string]string

	// Tick keys the write's event for idempotent retry: the same
	// tick yields the same event ID. Zero means assign the next
	// free tick. A non-zero tick must be greater than the last
	// committed tick.
	Tick uint64

	// Epoch asserts the epoch the caller placed against. Zero means
	// the current epoch; a non-zero value that is not current fails,
	// protecting the caller from racing an epoch advancement.
	Epoch uint64
}

// StoreResult is the outcome of a successful store.
type StoreResult struct {
	HashCommit canonical.Hash

	// ShardIDs, BlockHashes, and Replicas are index-aligned per
	// shard.
	ShardIDs    []canonical.Hash
	BlockHashes []canonical.Hash
	Replicas    [][]string

	// MerkleRoot commits to the padded blocks; possession proofs
	// verify against it.
	MerkleRoot canonical.Hash

	// ATRCost is the deterministic replicated-bytes charge.
	ATRCost uint64

	EventID canonical.Hash
	Tick    uint64
	Epoch   uint64
}

// Store writes one object version: commit hash, fixed-count padded
// sharding, deterministic placement, payload persistence, catalog
// rows, and the STORE event — all or nothing.
func (e *Engine) Store(ctx context.Context, request StoreRequest) (StoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "store"
	result, boundaryErr := e.storeLocked(ctx, request)
	if boundaryErr != nil {
		payload := schema.StorePayload{
			ObjectID: safeObjectID(request.ObjectID),
			Version:  request.Version,
			Error:    boundaryErr.Info(),
		}
		e.emitFailureLocked(ctx, eventSpec{
			Type:    schema.EventTypeStore,
			Epoch:   e.epochLocked(),
			Payload: payload,
		})
		e.logFailure(op, boundaryErr)
		return StoreResult{}, boundaryErr
	}
	return result, nil
}

func (e *Engine) storeLocked(ctx context.Context, request StoreRequest) (StoreResult, *Error) {
	const op = "store"

	if err := validateObjectID(request.ObjectID); err != nil {
		return StoreResult{}, fail(op, CodeInvalidInput, "%v", err)
	}
	if request.Version == 0 {
		return StoreResult{}, fail(op, CodeInvalidInput, "version must be at least 1")
	}

	blockSize := e.constants.BlockSizeBytes
	shardCount := uint64(e.constants.NumShardsPerObject)
	maxContent := blockSize * shardCount
	if len(request.Content) == 0 {
		return StoreResult{}, fail(op, CodeInvalidInput, "content is empty")
	}
	if uint64(len(request.Content)) > maxContent {
		return StoreResult{}, fail(op, CodeInvalidInput,
			"content is %d bytes, maximum is %d", len(request.Content), maxContent)
	}

	if latest, exists := e.state.LatestVersion(request.ObjectID); exists && request.Version <= latest {
		return StoreResult{}, fail(op, CodeInvalidVersion,
			"version %d is not greater than stored version %d", request.Version, latest)
	}

	if !e.state.Registry.HasContext() {
		return StoreResult{}, fail(op, CodeContextMissing,
			"no eligibility snapshot has been supplied yet")
	}
	epoch := e.epochLocked()
	if request.Epoch != 0 && request.Epoch != epoch {
		return StoreResult{}, fail(op, CodeInvalidInput,
			"request epoch %d, current epoch %d", request.Epoch, epoch)
	}

	tick := request.Tick
	if tick != 0 && tick <= e.state.LastTick() {
		return StoreResult{}, fail(op, CodeInvalidInput,
			"tick %d is not greater than last tick %d", tick, e.state.LastTick())
	}

	hashCommit, err := canonical.CommitHash(request.Content, request.SchemaVersion, request.Metadata)
	if err != nil {
		return StoreResult{}, fail(op, CodeInvalidInput, "%v", err)
	}

	blocks := splitBlocks(request.Content, blockSize, shardCount)
	leaves := make([]canonical.Hash, len(blocks))
	shardIDs := make([]canonical.Hash, len(blocks))
	for i, block := range blocks {
		leaves[i] = canonical.LeafHash(block)
		shardIDs[i] = canonical.ShardID(request.ObjectID, request.Version, uint32(i))
	}
	tree := proof.Build(leaves)
	merkleRoot := tree.Root()

	eligible := e.state.Registry.Eligible()
	replicas := make([][]string, len(shardIDs))
	for i, shardID := range shardIDs {
		assigned, err := placement.Assign(shardID, eligible, int(e.constants.ReplicationFactor))
		if err != nil {
			if errors.Is(err, placement.ErrNoEligibleNodes) {
				return StoreResult{}, fail(op, CodeNoEligibleNodes, "%v", err)
			}
			return StoreResult{}, internal(op, fmt.Errorf("assigning shard %d: %w", i, err))
		}
		replicas[i] = assigned
	}

	// Payload blocks land in the CAS before the transaction. Blocks
	// are content-addressed, so a commit failure leaves at worst
	// deduplicable orphans, never a dangling catalog row.
	for i, block := range blocks {
		if _, err := e.blocks.Put(block); err != nil {
			return StoreResult{}, internal(op, fmt.Errorf("writing block %d: %w", i, err))
		}
	}

	atrCost := blockSize * shardCount * uint64(e.constants.ReplicationFactor)

	payload := schema.StorePayload{
		ObjectID:      request.ObjectID,
		Version:       request.Version,
		SchemaVersion: request.SchemaVersion,
		HashCommit:    hashCommit[:],
		ContentSize:   uint64(len(request.Content)),
		Metadata:      request.Metadata,
		MerkleRoot:    merkleRoot[:],
		Replicas:      replicas,
		ATRCost:       atrCost,
	}
	payload.ShardIDs = make([][]byte, len(shardIDs))
	payload.BlockHashes = make([][]byte, len(leaves))
	for i := range shardIDs {
		payload.ShardIDs[i] = shardIDs[i][:]
		payload.BlockHashes[i] = leaves[i][:]
	}

	if tick == 0 {
		tick = e.state.LastTick() + 1
	}

	object := objectRow{
		objectID:      request.ObjectID,
		version:       request.Version,
		schemaVersion: request.SchemaVersion,
		hashCommit:    hashCommit,
		contentSize:   uint64(len(request.Content)),
		metadata:      request.Metadata,
		merkleRoot:    merkleRoot,
		atrCost:       atrCost,
		storedEpoch:   epoch,
		storedTick:    tick,
	}
	shards := make([]shardRow, len(shardIDs))
	for i := range shardIDs {
		shards[i] = shardRow{
			shardIndex: uint32(i),
			shardID:    shardIDs[i],
			blockHash:  leaves[i],
			replicas:   replicas[i],
		}
	}

	events, err := e.commitLocked(ctx, tick,
		[]eventSpec{{Type: schema.EventTypeStore, Epoch: epoch, Payload: payload}},
		func(conn *sqlite.Conn) error {
			return insertObject(conn, object, shards)
		})
	if err != nil {
		return StoreResult{}, internal(op, err)
	}

	e.logger.Info("object stored",
		"object_id", request.ObjectID,
		"version", request.Version,
		"hash_commit", hashCommit.Short(),
		"content_size", len(request.Content),
		"atr_cost", atrCost,
		"tick", tick,
	)

	return StoreResult{
		HashCommit:  hashCommit,
		ShardIDs:    shardIDs,
		BlockHashes: leaves,
		Replicas:    replicas,
		MerkleRoot:  merkleRoot,
		ATRCost:     atrCost,
		EventID:     events[0].ID,
		Tick:        tick,
		Epoch:       epoch,
	}, nil
}

// ReadResult is the outcome of a successful read.
type ReadResult struct {
	Content    []byte
	HashCommit canonical.Hash
	Metadata   map[string]string

	// MerkleRoot and Proofs let the caller hand each shard's
	// possession proof to a verifier; Proofs is indexed by
	// shard_index.
	MerkleRoot canonical.Hash
	Proofs     []proof.Proof

	EventID canonical.Hash
	Tick    uint64
}

// Read reconstructs an object version from its shards in shard_index
// order, re-verifying every block hash and the commit hash.
func (e *Engine) Read(ctx context.Context, objectID string, version uint64) (ReadResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "read"
	result, boundaryErr := e.readLocked(ctx, objectID, version)
	if boundaryErr != nil {
		payload := schema.ReadPayload{
			ObjectID: safeObjectID(objectID),
			Version:  version,
			Error:    boundaryErr.Info(),
		}
		e.emitFailureLocked(ctx, eventSpec{
			Type:    schema.EventTypeRead,
			Epoch:   e.epochLocked(),
			Payload: payload,
		})
		e.logFailure(op, boundaryErr)
		return ReadResult{}, boundaryErr
	}
	return result, nil
}

func (e *Engine) readLocked(ctx context.Context, objectID string, version uint64) (ReadResult, *Error) {
	const op = "read"

	object, found, err := e.log.getObject(ctx, objectID, version)
	if err != nil {
		return ReadResult{}, internal(op, err)
	}
	if !found {
		return ReadResult{}, fail(op, CodeNotFound, "object %q version %d does not exist", objectID, version)
	}

	shards, err := e.log.getShards(ctx, objectID, version)
	if err != nil {
		return ReadResult{}, internal(op, err)
	}
	if len(shards) != int(e.constants.NumShardsPerObject) {
		return ReadResult{}, fail(op, CodeIntegrityMismatch,
			"catalog has %d shards, expected %d", len(shards), e.constants.NumShardsPerObject)
	}

	content := make([]byte, 0, uint64(len(shards))*e.constants.BlockSizeBytes)
	leaves := make([]canonical.Hash, len(shards))
	for i, shard := range shards {
		block, err := e.blocks.Get(shard.blockHash)
		if err != nil {
			if errors.Is(err, shardstore.ErrBlockMissing) || errors.Is(err, shardstore.ErrBlockCorrupt) {
				return ReadResult{}, fail(op, CodeIntegrityMismatch,
					"shard %d payload: %v", shard.shardIndex, err)
			}
			return ReadResult{}, internal(op, fmt.Errorf("reading shard %d: %w", i, err))
		}
		content = append(content, block...)
		leaves[i] = shard.blockHash
	}
	content = content[:object.contentSize]

	// The commit hash covers content plus schema version plus
	// metadata; recomputing it proves the reconstruction is the
	// exact committed write.
	recomputed, err := canonical.CommitHash(content, object.schemaVersion, object.metadata)
	if err != nil {
		return ReadResult{}, internal(op, fmt.Errorf("recomputing commit hash: %w", err))
	}
	if recomputed != object.hashCommit {
		return ReadResult{}, fail(op, CodeIntegrityMismatch,
			"reconstructed content does not match commit %s", object.hashCommit.Short())
	}

	tree := proof.Build(leaves)
	if tree.Root() != object.merkleRoot {
		return ReadResult{}, fail(op, CodeIntegrityMismatch,
			"shard hashes do not match merkle root %s", object.merkleRoot.Short())
	}
	proofs := make([]proof.Proof, len(leaves))
	for i := range leaves {
		membershipProof, err := tree.Proof(i)
		if err != nil {
			return ReadResult{}, internal(op, fmt.Errorf("extracting proof %d: %w", i, err))
		}
		proofs[i] = membershipProof
	}

	payload := schema.ReadPayload{
		ObjectID:    objectID,
		Version:     version,
		HashCommit:  object.hashCommit[:],
		ContentSize: object.contentSize,
	}
	events, err := e.commitLocked(ctx, 0,
		[]eventSpec{{Type: schema.EventTypeRead, Epoch: e.epochLocked(), Payload: payload}}, nil)
	if err != nil {
		return ReadResult{}, internal(op, err)
	}

	return ReadResult{
		Content:    content,
		HashCommit: object.hashCommit,
		Metadata:   object.metadata,
		MerkleRoot: object.merkleRoot,
		Proofs:     proofs,
		EventID:    events[0].ID,
		Tick:       events[0].Tick,
	}, nil
}

// Filter restricts a listing. Zero value lists everything.
type Filter struct {
	// ObjectID limits the listing to exactly one object ID.
	ObjectID string

	// Prefix limits the listing to object IDs with this prefix.
	Prefix string

	// MinVersion and MaxVersion bound versions inclusively; zero
	// means unbounded.
	MinVersion uint64
	MaxVersion uint64

	// Limit caps the result after sorting; zero means unlimited.
	Limit uint64
}

// ObjectInfo is one listing entry.
type ObjectInfo struct {
	ObjectID      string
	Version       uint64
	SchemaVersion uint32
	HashCommit    canonical.Hash
	ContentSize   uint64
	Metadata      map[string]string
	MerkleRoot    canonical.Hash
	ATRCost       uint64
	StoredAtTick  uint64
	StoredAtEpoch uint64
}

// ListResult is the outcome of a listing.
type ListResult struct {
	Objects []ObjectInfo

	// Digest commits to the (object_id, version, hash_commit)
	// sequence; two nodes listing identically produce the same
	// digest.
	Digest canonical.Hash

	EventID canonical.Hash
	Tick    uint64
}

// ListObjects lists stored object versions sorted by
// (object_id, version). The sort order is a hard invariant.
func (e *Engine) ListObjects(ctx context.Context, filter Filter) (ListResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	const op = "list_objects"
	result, boundaryErr := e.listLocked(ctx, filter)
	if boundaryErr != nil {
		payload := schema.ListObjectsPayload{
			FilterObjectID:   safeObjectID(filter.ObjectID),
			FilterPrefix:     safeObjectID(filter.Prefix),
			FilterMinVersion: filter.MinVersion,
			FilterMaxVersion: filter.MaxVersion,
			FilterLimit:      filter.Limit,
			Error:            boundaryErr.Info(),
		}
		e.emitFailureLocked(ctx, eventSpec{
			Type:    schema.EventTypeListObjects,
			Epoch:   e.epochLocked(),
			Payload: payload,
		})
		e.logFailure(op, boundaryErr)
		return ListResult{}, boundaryErr
	}
	return result, nil
}

func (e *Engine) listLocked(ctx context.Context, filter Filter) (ListResult, *Error) {
	const op = "list_objects"

	if filter.MinVersion != 0 && filter.MaxVersion != 0 && filter.MinVersion > filter.MaxVersion {
		return ListResult{}, fail(op, CodeInvalidInput,
			"min version %d exceeds max version %d", filter.MinVersion, filter.MaxVersion)
	}

	rows, err := e.log.listObjects(ctx, filter)
	if err != nil {
		return ListResult{}, internal(op, err)
	}

	objects := make([]ObjectInfo, len(rows))
	entries := make([]replay.Entry, len(rows))
	for i, row := range rows {
		objects[i] = ObjectInfo{
			ObjectID:      row.objectID,
			Version:       row.version,
			SchemaVersion: row.schemaVersion,
			HashCommit:    row.hashCommit,
			ContentSize:   row.contentSize,
			Metadata:      row.metadata,
			MerkleRoot:    row.merkleRoot,
			ATRCost:       row.atrCost,
			StoredAtTick:  row.storedTick,
			StoredAtEpoch: row.storedEpoch,
		}
		entries[i] = replay.Entry{
			ObjectID:     row.objectID,
			Version:      row.version,
			HashCommit:   row.hashCommit,
			ContentSize:  row.contentSize,
			MerkleRoot:   row.merkleRoot,
			ATRCost:      row.atrCost,
			StoredAtTick: row.storedTick,
		}
	}

	digest, err := replay.ListingDigest(entries)
	if err != nil {
		return ListResult{}, internal(op, err)
	}

	payload := schema.ListObjectsPayload{
		FilterObjectID:   filter.ObjectID,
		FilterPrefix:     filter.Prefix,
		FilterMinVersion: filter.MinVersion,
		FilterMaxVersion: filter.MaxVersion,
		FilterLimit:      filter.Limit,
		Count:            uint64(len(entries)),
		ResultDigest:     digest[:],
	}
	events, err := e.commitLocked(ctx, 0,
		[]eventSpec{{Type: schema.EventTypeListObjects, Epoch: e.epochLocked(), Payload: payload}}, nil)
	if err != nil {
		return ListResult{}, internal(op, err)
	}

	return ListResult{
		Objects: objects,
		Digest:  digest,
		EventID: events[0].ID,
		Tick:    events[0].Tick,
	}, nil
}

// splitBlocks cuts content into exactly shardCount blocks of
// blockSize bytes, zero-padding the tail. Every store produces the
// full shard count so placement and cost are content-independent.
func splitBlocks(content []byte, blockSize, shardCount uint64) [][]byte {
	blocks := make([][]byte, shardCount)
	for i := range blocks {
		block := make([]byte, blockSize)
		offset := uint64(i) * blockSize
		if offset < uint64(len(content)) {
			copy(block, content[offset:])
		}
		blocks[i] = block
	}
	return blocks
}

func validateObjectID(objectID string) error {
	if objectID == "" {
		return fmt.Errorf("object ID is empty")
	}
	if len(objectID) > maxObjectIDBytes {
		return fmt.Errorf("object ID is %d bytes, maximum is %d", len(objectID), maxObjectIDBytes)
	}
	if !utf8.ValidString(objectID) {
		return fmt.Errorf("object ID is not valid UTF-8")
	}
	if strings.ContainsRune(objectID, 0) {
		return fmt.Errorf("object ID contains a NUL byte")
	}
	return nil
}

// safeObjectID returns an object ID fit for a failure event payload:
// IDs that fail validation are recorded as empty rather than writing
// unbounded or malformed bytes into the canonical log.
func safeObjectID(objectID string) string {
	if objectID == "" || validateObjectID(objectID) == nil {
		return objectID
	}
	return ""
}

// logFailure reports a boundary failure at the appropriate level:
// integrity and internal faults are operator incidents, the rest are
// routine outcomes.
func (e *Engine) logFailure(op string, boundaryErr *Error) {
	switch boundaryErr.Code {
	case CodeIntegrityMismatch, CodeInternal:
		e.logger.Error("operation failed",
			"op", op,
			"code", string(boundaryErr.Code),
			"detail", boundaryErr.Detail,
			"error", boundaryErr.Err,
		)
	default:
		e.logger.Debug("operation rejected",
			"op", op,
			"code", string(boundaryErr.Code),
			"detail", boundaryErr.Detail,
		)
	}
}
