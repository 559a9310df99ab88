// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package shardstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// stored block. Tags are stored in block file headers (1 byte each).
// These values are protocol constants — changing them breaks block
// file compatibility.
type CompressionTag uint8

const (
	// CompressionNone indicates uncompressed data. Used for
	// already-compressed content (media, archives, ciphertext) where
	// compression adds CPU cost without reducing size.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Fast default
	// for binary data (~1.5-2x ratio, ~4 GB/s decode).
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd compression at the default
	// level. Better ratios for text-like content and for the zero
	// padding that fills out final shard blocks (~3-5x ratio,
	// ~1.5 GB/s decode).
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// Mode selects how Put compresses blocks.
type Mode uint8

const (
	// ModeAuto probes each block and picks zstd, lz4, or none by
	// measured compressibility.
	ModeAuto Mode = iota

	// ModeNone stores every block uncompressed.
	ModeNone

	// ModeLZ4 forces LZ4 (falling back to none for incompressible
	// blocks).
	ModeLZ4

	// ModeZstd forces zstd (falling back to none for incompressible
	// blocks).
	ModeZstd
)

// ParseMode parses a compression mode from its configuration string.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "auto":
		return ModeAuto, nil
	case "none":
		return ModeNone, nil
	case "lz4":
		return ModeLZ4, nil
	case "zstd":
		return ModeZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression mode: %q", name)
	}
}

// String returns the configuration string for a mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeNone:
		return "none"
	case ModeLZ4:
		return "lz4"
	case ModeZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// errIncompressible is returned by compression functions when the
// compressed output is not smaller than the input. The caller falls
// back to CompressionNone.
var errIncompressible = fmt.Errorf("data is incompressible")

// compress applies the store's mode to a block and returns the bytes
// to persist plus the tag recording how they were encoded. Never
// fails: incompressible blocks degrade to CompressionNone.
func compress(block []byte, mode Mode) ([]byte, CompressionTag) {
	var (
		compressed []byte
		err        error
		tag        CompressionTag
	)

	switch mode {
	case ModeNone:
		return block, CompressionNone
	case ModeLZ4:
		compressed, err = compressLZ4(block)
		tag = CompressionLZ4
	case ModeZstd:
		compressed, err = compressZstd(block)
		tag = CompressionZstd
	default: // ModeAuto
		tag = selectCompression(block)
		if tag == CompressionNone {
			return block, CompressionNone
		}
		compressed, err = compressWith(block, tag)
	}

	if err != nil {
		// errIncompressible or a forced codec that did not shrink
		// the block: store raw.
		return block, CompressionNone
	}
	return compressed, tag
}

// compressWith compresses with a specific (non-none) tag.
func compressWith(block []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		return compressLZ4(block)
	case CompressionZstd:
		return compressZstd(block)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// decompress reverses a block file's encoding. The uncompressedSize
// must match the original block length exactly — this is verified and
// a mismatch returns an error.
func decompress(stored []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(stored) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed block: size %d does not match expected %d",
				len(stored), uncompressedSize)
		}
		return stored, nil

	case CompressionLZ4:
		return decompressLZ4(stored, uncompressedSize)

	case CompressionZstd:
		return decompressZstd(stored, uncompressedSize)

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// LZ4 compression: block-mode LZ4.

func compressLZ4(data []byte) ([]byte, error) {
	// CompressBlockBound returns the maximum compressed size.
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. Also reject output that is not actually
	// smaller than the input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// Zstd compression at the default level — good ratio without
// excessive CPU.

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. zstd.Encoder and zstd.Decoder
// are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("shardstore: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("shardstore: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}

// selectCompression probes a block with zstd and picks the codec by
// measured ratio: above 1.5x, zstd pays for itself; between 1.1x and
// 1.5x, LZ4 wins on speed; below 1.1x the block is effectively
// incompressible.
func selectCompression(data []byte) CompressionTag {
	if len(data) == 0 {
		return CompressionNone
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))

	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}
