// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a fixed-size SQLite connection pool with
// the engine's standard pragmas.
//
// The event log and catalog tables live in one SQLite file. The pool
// is built on zombiezen's sqlitex.Pool: callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back. Connections are
// NOT safe for concurrent use — each goroutine must hold its own
// connection for the duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging gives concurrent readers
//     against the single serialized writer, which matches the engine's
//     one-writer concurrency model exactly.
//   - synchronous=NORMAL: safe under WAL — a process crash can lose
//     the last commit but never corrupt the file. The event log's
//     determinism derives from content, not commit timing, so a lost
//     tail is a shorter log, not a divergent one.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of failing immediately.
//   - foreign_keys=OFF: the schema declares no foreign keys; referential
//     consistency is the replay fold's job.
//   - cache_size / temp_store: keep hot pages and temporary structures
//     in memory.
package sqlitepool
