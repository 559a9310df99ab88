// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package shardstore

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
)

// openTestStore creates a store in a temporary directory.
func openTestStore(t *testing.T, compression string) *Store {
	t.Helper()

	store, err := Open(Config{
		Dir:         filepath.Join(t.TempDir(), "blocks"),
		Compression: compression,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

// paddedBlock builds a 256 KiB block: content bytes followed by zero
// padding, the shape every stored block has.
func paddedBlock(content []byte) []byte {
	block := make([]byte, 262144)
	copy(block, content)
	return block
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, compression := range []string{"auto", "none", "lz4", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			store := openTestStore(t, compression)
			block := paddedBlock([]byte("shard content"))

			result, err := store.Put(block)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if result.Hash != canonical.LeafHash(block) {
				t.Error("PutResult.Hash is not the block's leaf hash")
			}
			if result.Deduplicated {
				t.Error("first Put reported Deduplicated")
			}
			if result.StoredBytes <= 0 {
				t.Errorf("StoredBytes = %d, want positive", result.StoredBytes)
			}

			got, err := store.Get(result.Hash)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, block) {
				t.Error("Get returned different bytes than Put stored")
			}
		})
	}
}

func TestPutDeduplicates(t *testing.T) {
	store := openTestStore(t, "auto")
	block := paddedBlock([]byte("identical content"))

	first, err := store.Put(block)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	second, err := store.Put(block)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}

	if !second.Deduplicated {
		t.Error("second Put of identical block not reported Deduplicated")
	}
	if second.Hash != first.Hash {
		t.Error("deduplicated Put returned a different hash")
	}
	if second.StoredBytes != 0 {
		t.Errorf("deduplicated Put StoredBytes = %d, want 0", second.StoredBytes)
	}
	if second.Tag != first.Tag {
		t.Errorf("deduplicated Put tag = %v, want %v", second.Tag, first.Tag)
	}
}

func TestPaddingCompressesWell(t *testing.T) {
	// A mostly-padding block (the final shard of a short object) must
	// shrink dramatically under auto compression.
	store := openTestStore(t, "auto")
	block := paddedBlock([]byte("tiny"))

	result, err := store.Put(block)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if result.Tag == CompressionNone {
		t.Error("auto mode stored a zero-padded block uncompressed")
	}
	if result.StoredBytes >= int64(len(block)) {
		t.Errorf("StoredBytes = %d, want far less than %d", result.StoredBytes, len(block))
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	// Random bytes do not compress; every mode must degrade to an
	// uncompressed file rather than failing or growing it.
	random := make([]byte, 262144)
	rng := rand.New(rand.NewSource(42))
	rng.Read(random)

	for _, compression := range []string{"auto", "lz4", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			store := openTestStore(t, compression)

			result, err := store.Put(random)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if result.Tag != CompressionNone {
				t.Errorf("tag = %v, want none for incompressible block", result.Tag)
			}

			got, err := store.Get(result.Hash)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, random) {
				t.Error("round trip of incompressible block mismatched")
			}
		})
	}
}

func TestGetMissingBlock(t *testing.T) {
	store := openTestStore(t, "auto")

	_, err := store.Get(canonical.LeafHash([]byte("never stored")))
	if !errors.Is(err, ErrBlockMissing) {
		t.Errorf("Get(missing): err = %v, want ErrBlockMissing", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	store := openTestStore(t, "none")
	block := paddedBlock([]byte("will be corrupted"))

	result, err := store.Put(block)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Flip one payload byte on disk.
	path := store.Path(result.Hash)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading block file: %v", err)
	}
	raw[blockHeaderSize] ^= 0x01
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing corrupted file: %v", err)
	}

	_, err = store.Get(result.Hash)
	if !errors.Is(err, ErrBlockCorrupt) {
		t.Errorf("Get(corrupted): err = %v, want ErrBlockCorrupt", err)
	}
}

func TestGetDetectsBadHeader(t *testing.T) {
	store := openTestStore(t, "auto")
	block := paddedBlock([]byte("header damage"))

	result, err := store.Put(block)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	cases := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"bad magic", func(raw []byte) []byte {
			raw[0] = 'X'
			return raw
		}},
		{"bad version", func(raw []byte) []byte {
			raw[4] = 0xee
			return raw
		}},
		{"truncated header", func(raw []byte) []byte {
			return raw[:blockHeaderSize-1]
		}},
		{"wrong size", func(raw []byte) []byte {
			raw[6] ^= 0xff
			return raw
		}},
	}

	path := store.Path(result.Hash)
	pristine, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading block file: %v", err)
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := append([]byte{}, pristine...)
			if err := os.WriteFile(path, c.mangle(raw), 0o644); err != nil {
				t.Fatalf("writing mangled file: %v", err)
			}

			_, err := store.Get(result.Hash)
			if !errors.Is(err, ErrBlockCorrupt) {
				t.Errorf("err = %v, want ErrBlockCorrupt", err)
			}
		})
	}
}

func TestHas(t *testing.T) {
	store := openTestStore(t, "auto")
	block := paddedBlock([]byte("present"))

	if store.Has(canonical.LeafHash(block)) {
		t.Error("Has reported a block that was never stored")
	}

	result, err := store.Put(block)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !store.Has(result.Hash) {
		t.Error("Has did not report a stored block")
	}
}

func TestPathFanOut(t *testing.T) {
	store := openTestStore(t, "auto")
	hash := canonical.LeafHash([]byte("layout"))

	path := store.Path(hash)
	hexHash := hash.String()

	wantSuffix := filepath.Join(hexHash[:2], hexHash[2:4], hexHash)
	if !strings.HasSuffix(path, wantSuffix) {
		t.Errorf("Path = %q, want suffix %q", path, wantSuffix)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open with empty Dir succeeded")
	}
	if _, err := Open(Config{Dir: t.TempDir(), Compression: "brotli"}); err == nil {
		t.Error("Open with unknown compression succeeded")
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	store := openTestStore(t, "auto")

	for i := range 8 {
		block := paddedBlock([]byte{byte(i)})
		if _, err := store.Put(block); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func BenchmarkPut(b *testing.B) {
	store, err := Open(Config{Dir: filepath.Join(b.TempDir(), "blocks")})
	if err != nil {
		b.Fatal(err)
	}
	block := paddedBlock(bytes.Repeat([]byte("benchmark content "), 1024))

	b.SetBytes(int64(len(block)))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := store.Put(block); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	store, err := Open(Config{Dir: filepath.Join(b.TempDir(), "blocks")})
	if err != nil {
		b.Fatal(err)
	}
	block := paddedBlock(bytes.Repeat([]byte("benchmark content "), 1024))
	result, err := store.Put(block)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(block)))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := store.Get(result.Hash); err != nil {
			b.Fatal(err)
		}
	}
}
