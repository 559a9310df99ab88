// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package shardstore persists shard payload blocks on disk,
// content-addressed by block hash. Files are immutable once written:
// a block is written atomically (temp file + rename), never modified,
// and identical blocks across objects deduplicate to a single file.
//
// Block identity is always the [canonical.LeafHash] of the
// uncompressed, padded block bytes. At-rest compression is a local
// storage detail recorded in the block file header; it never
// influences hashes, placement, or events.
package shardstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
)

// Block file format: a fixed header followed by the (possibly
// compressed) payload.
//
//	offset 0: magic "QFSB" (4 bytes)
//	offset 4: format version (1 byte)
//	offset 5: compression tag (1 byte)
//	offset 6: uncompressed size, little-endian uint64 (8 bytes)
//	offset 14: payload
const (
	blockMagic         = "QFSB"
	blockFormatVersion = 1
	blockHeaderSize    = 14
)

// ErrBlockMissing is returned by Get when no file exists for the
// requested block hash.
var ErrBlockMissing = errors.New("block missing")

// ErrBlockCorrupt is returned by Get when the block file exists but
// its content does not decode to bytes matching the requested hash.
var ErrBlockCorrupt = errors.New("block corrupt")

// Config holds the parameters for opening a store.
type Config struct {
	// Dir is the root directory for block files. Created if absent.
	Dir string

	// Compression selects the at-rest compression mode ("auto",
	// "none", "lz4", "zstd"). Empty means auto.
	Compression string

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Store is an on-disk content-addressed block store. Safe for
// concurrent use: writes serialize on a mutex, reads touch only
// immutable renamed files.
type Store struct {
	dir     string
	mode    Mode
	logger  *slog.Logger
	writeMu sync.Mutex
}

// PutResult describes the outcome of storing one block.
type PutResult struct {
	// Hash is the block's content address.
	Hash canonical.Hash

	// Tag records how the block was encoded on disk. For a
	// deduplicated block this is the tag of the existing file.
	Tag CompressionTag

	// StoredBytes is the on-disk size of the block file (header
	// included). Zero when Deduplicated.
	StoredBytes int64

	// Deduplicated reports that an identical block was already
	// stored and no new file was written.
	Deduplicated bool
}

// Open creates the store rooted at cfg.Dir.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("shardstore: Dir is required")
	}

	compression := cfg.Compression
	if compression == "" {
		compression = "auto"
	}
	mode, err := ParseMode(compression)
	if err != nil {
		return nil, fmt.Errorf("shardstore: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("shardstore: creating %s: %w", cfg.Dir, err)
	}

	return &Store{
		dir:    cfg.Dir,
		mode:   mode,
		logger: logger,
	}, nil
}

// Put stores a block, deduplicating against any identical block
// already on disk. The block bytes are hashed as given — the caller
// pads final shard blocks before Put, so identity covers the padding.
func (s *Store) Put(block []byte) (PutResult, error) {
	hash := canonical.LeafHash(block)
	finalPath := s.Path(hash)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := os.Stat(finalPath); err == nil {
		tag, err := s.readTag(finalPath)
		if err != nil {
			return PutResult{}, err
		}
		return PutResult{Hash: hash, Tag: tag, Deduplicated: true}, nil
	}

	payload, tag := compress(block, s.mode)

	header := make([]byte, 0, blockHeaderSize)
	header = append(header, blockMagic...)
	header = append(header, blockFormatVersion, byte(tag))
	header = binary.LittleEndian.AppendUint64(header, uint64(len(block)))

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return PutResult{}, fmt.Errorf("creating block directory: %w", err)
	}

	// Atomic write: temp file + rename.
	tmpFile, err := os.CreateTemp(s.dir, "block-*.tmp")
	if err != nil {
		return PutResult{}, fmt.Errorf("creating temp block file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(header); err != nil {
		tmpFile.Close()
		return PutResult{}, fmt.Errorf("writing block header: %w", err)
	}
	if _, err := tmpFile.Write(payload); err != nil {
		tmpFile.Close()
		return PutResult{}, fmt.Errorf("writing block payload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return PutResult{}, fmt.Errorf("closing temp block file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return PutResult{}, fmt.Errorf("renaming block file: %w", err)
	}
	success = true

	storedBytes := int64(blockHeaderSize + len(payload))
	s.logger.Debug("block stored",
		"hash", hash.Short(),
		"compression", tag.String(),
		"block_bytes", len(block),
		"stored_bytes", storedBytes,
	)

	return PutResult{Hash: hash, Tag: tag, StoredBytes: storedBytes}, nil
}

// Get reads a block back by hash, decompresses it, and re-verifies
// its content address before returning. A block that fails any stage
// of decoding or whose bytes no longer hash to the requested address
// is reported as [ErrBlockCorrupt].
func (s *Store) Get(hash canonical.Hash) ([]byte, error) {
	raw, err := os.ReadFile(s.Path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlockMissing, hash.Short())
		}
		return nil, fmt.Errorf("reading block %s: %w", hash.Short(), err)
	}

	tag, uncompressedSize, err := parseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBlockCorrupt, hash.Short(), err)
	}

	block, err := decompress(raw[blockHeaderSize:], tag, uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBlockCorrupt, hash.Short(), err)
	}

	if canonical.LeafHash(block) != hash {
		return nil, fmt.Errorf("%w: %s: content does not match address", ErrBlockCorrupt, hash.Short())
	}
	return block, nil
}

// Has reports whether a block file exists for the hash. It does not
// verify the file's content; Get does.
func (s *Store) Has(hash canonical.Hash) bool {
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Path returns the block file path for a hash: two levels of hex
// fan-out so no directory grows unbounded.
func (s *Store) Path(hash canonical.Hash) string {
	hexHash := hash.String()
	return filepath.Join(s.dir, hexHash[:2], hexHash[2:4], hexHash)
}

// readTag reads just the compression tag from an existing block
// file's header.
func (s *Store) readTag(path string) (CompressionTag, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening block file: %w", err)
	}
	defer file.Close()

	header := make([]byte, blockHeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return 0, fmt.Errorf("%w: short header", ErrBlockCorrupt)
	}
	tag, _, err := parseHeader(header)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBlockCorrupt, err)
	}
	return tag, nil
}

// parseHeader validates a block file header and returns the
// compression tag and uncompressed size.
func parseHeader(raw []byte) (CompressionTag, int, error) {
	if len(raw) < blockHeaderSize {
		return 0, 0, fmt.Errorf("file is %d bytes, shorter than the %d-byte header", len(raw), blockHeaderSize)
	}
	if string(raw[:4]) != blockMagic {
		return 0, 0, fmt.Errorf("bad magic %q", raw[:4])
	}
	if raw[4] != blockFormatVersion {
		return 0, 0, fmt.Errorf("unsupported format version %d", raw[4])
	}
	return CompressionTag(raw[5]), int(binary.LittleEndian.Uint64(raw[6:14])), nil
}
