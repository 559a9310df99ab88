// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/clock"
	"github.com/RealDaniG/QFS-sub002/lib/codec"
	"github.com/RealDaniG/QFS-sub002/lib/replay"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
	"github.com/RealDaniG/QFS-sub002/lib/sqlitepool"
)

// eventLog is the SQLite persistence layer: the append-only events
// table (the source of truth) plus the objects/shards catalog tables,
// which are rebuildable caches over it. All events of one public call
// commit in a single IMMEDIATE transaction together with their
// catalog rows.
//
// The recorded_at column is informational wall-clock time for
// operators. It sits outside every canonical payload and never
// enters a hash.
type eventLog struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const logSchema = `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		tick        INTEGER PRIMARY KEY,
		event_id    BLOB NOT NULL UNIQUE,
		event_type  TEXT NOT NULL,
		epoch       INTEGER NOT NULL,
		payload     BLOB NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type, tick);

	CREATE TABLE IF NOT EXISTS objects (
		object_id      TEXT NOT NULL,
		version        INTEGER NOT NULL,
		schema_version INTEGER NOT NULL,
		hash_commit    BLOB NOT NULL,
		content_size   INTEGER NOT NULL,
		metadata       BLOB,
		merkle_root    BLOB NOT NULL,
		atr_cost       INTEGER NOT NULL,
		stored_epoch   INTEGER NOT NULL,
		stored_tick    INTEGER NOT NULL,
		PRIMARY KEY (object_id, version)
	);

	CREATE TABLE IF NOT EXISTS shards (
		object_id   TEXT NOT NULL,
		version     INTEGER NOT NULL,
		shard_index INTEGER NOT NULL,
		shard_id    BLOB NOT NULL,
		block_hash  BLOB NOT NULL,
		replicas    BLOB NOT NULL,
		PRIMARY KEY (object_id, version, shard_index)
	);
	CREATE INDEX IF NOT EXISTS idx_shards_shard_id ON shards(shard_id);
`

func newEventLog(pool *sqlitepool.Pool, clk clock.Clock, logger *slog.Logger) *eventLog {
	return &eventLog{pool: pool, clock: clk, logger: logger}
}

// init creates the schema if it does not exist.
func (l *eventLog) init(ctx context.Context) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("event log: init: %w", err)
	}
	defer l.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, logSchema, nil); err != nil {
		return fmt.Errorf("event log: creating schema: %w", err)
	}
	return nil
}

// ensureConstants pins the governed constants the database was
// created under. A reopened database must present identical
// constants: placement and padding decisions already in the log were
// made under them, and changing them would fork replay.
func (l *eventLog) ensureConstants(ctx context.Context, constants schema.Constants) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("event log: constants: %w", err)
	}
	defer l.pool.Put(conn)

	var stored []byte
	err = sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = 'constants'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stored = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, stored)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("event log: reading constants: %w", err)
	}

	if stored == nil {
		encoded, err := codec.Marshal(constants)
		if err != nil {
			return fmt.Errorf("event log: encoding constants: %w", err)
		}
		err = sqlitex.Execute(conn, "INSERT INTO meta (key, value) VALUES ('constants', ?)", &sqlitex.ExecOptions{
			Args: []any{encoded},
		})
		if err != nil {
			return fmt.Errorf("event log: writing constants: %w", err)
		}
		return nil
	}

	var existing schema.Constants
	if err := codec.Unmarshal(stored, &existing); err != nil {
		return fmt.Errorf("event log: decoding stored constants: %w", err)
	}
	if existing != constants {
		return fmt.Errorf("event log: database created under constants %+v, configured %+v", existing, constants)
	}
	return nil
}

// append commits a batch of events and the optional catalog mutation
// in one IMMEDIATE transaction. The events must already carry their
// final ticks and IDs.
func (l *eventLog) append(ctx context.Context, events []schema.Event, catalog func(conn *sqlite.Conn) error) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("event log: append: %w", err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("event log: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	recordedAt := l.clock.Now().UnixNano()
	for _, event := range events {
		err = sqlitex.Execute(conn,
			`INSERT INTO events (tick, event_id, event_type, epoch, payload, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					int64(event.Tick),
					event.ID[:],
					string(event.Type),
					int64(event.Epoch),
					[]byte(event.Payload),
					recordedAt,
				},
			})
		if err != nil {
			return fmt.Errorf("event log: inserting event %s: %w", event.ID.Short(), err)
		}
	}

	if catalog != nil {
		if err = catalog(conn); err != nil {
			return err
		}
	}
	return nil
}

// Events streams the full log in tick order. Implements
// [replay.Source].
func (l *eventLog) Events(ctx context.Context, fn func(schema.Event) error) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("event log: stream: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"SELECT tick, event_id, event_type, epoch, payload FROM events ORDER BY tick",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event, err := scanEvent(stmt)
				if err != nil {
					return err
				}
				return fn(event)
			},
		})
	if err != nil {
		return fmt.Errorf("event log: streaming events: %w", err)
	}
	return nil
}

func scanEvent(stmt *sqlite.Stmt) (schema.Event, error) {
	var event schema.Event

	// Columns: tick(0), event_id(1), event_type(2), epoch(3),
	// payload(4)
	event.Tick = uint64(stmt.ColumnInt64(0))

	idBytes := make([]byte, stmt.ColumnLen(1))
	stmt.ColumnBytes(1, idBytes)
	id, err := canonical.FromBytes(idBytes)
	if err != nil {
		return event, fmt.Errorf("event at tick %d: %w", event.Tick, err)
	}
	event.ID = id

	event.Type = schema.EventType(stmt.ColumnText(2))
	event.Epoch = uint64(stmt.ColumnInt64(3))

	payload := make([]byte, stmt.ColumnLen(4))
	stmt.ColumnBytes(4, payload)
	event.Payload = payload

	return event, nil
}

// lastTick returns the highest committed tick, zero for an empty log.
func (l *eventLog) lastTick(ctx context.Context) (uint64, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("event log: last tick: %w", err)
	}
	defer l.pool.Put(conn)

	var tick int64
	err = sqlitex.Execute(conn, "SELECT COALESCE(MAX(tick), 0) FROM events", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tick = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("event log: reading last tick: %w", err)
	}
	return uint64(tick), nil
}

// objectCount returns the number of catalog rows, for the startup
// cross-check against replayed state.
func (l *eventLog) objectCount(ctx context.Context) (int, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	defer l.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM objects", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("catalog: counting objects: %w", err)
	}
	return count, nil
}

// objectRow is one catalog entry for a stored object version.
type objectRow struct {
	objectID      string
	version       uint64
	schemaVersion uint32
	hashCommit    canonical.Hash
	contentSize   uint64
	metadata      map[string]string
	merkleRoot    canonical.Hash
	atrCost       uint64
	storedEpoch   uint64
	storedTick    uint64
}

// shardRow is one catalog entry for a shard of an object version.
type shardRow struct {
	shardIndex uint32
	shardID    canonical.Hash
	blockHash  canonical.Hash
	replicas   []string
}

// insertObject writes the catalog rows for a successful store. Runs
// inside the append transaction.
func insertObject(conn *sqlite.Conn, object objectRow, shards []shardRow) error {
	var metadataBlob any
	if len(object.metadata) > 0 {
		encoded, err := codec.Marshal(object.metadata)
		if err != nil {
			return fmt.Errorf("catalog: encoding metadata: %w", err)
		}
		metadataBlob = encoded
	}

	err := sqlitex.Execute(conn,
		`INSERT INTO objects (object_id, version, schema_version, hash_commit,
		 content_size, metadata, merkle_root, atr_cost, stored_epoch, stored_tick)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				object.objectID,
				int64(object.version),
				int64(object.schemaVersion),
				object.hashCommit[:],
				int64(object.contentSize),
				metadataBlob,
				object.merkleRoot[:],
				int64(object.atrCost),
				int64(object.storedEpoch),
				int64(object.storedTick),
			},
		})
	if err != nil {
		return fmt.Errorf("catalog: inserting object %s v%d: %w", object.objectID, object.version, err)
	}

	for _, shard := range shards {
		replicasBlob, err := codec.Marshal(shard.replicas)
		if err != nil {
			return fmt.Errorf("catalog: encoding replicas: %w", err)
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO shards (object_id, version, shard_index, shard_id, block_hash, replicas)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					object.objectID,
					int64(object.version),
					int64(shard.shardIndex),
					shard.shardID[:],
					shard.blockHash[:],
					replicasBlob,
				},
			})
		if err != nil {
			return fmt.Errorf("catalog: inserting shard %d of %s v%d: %w",
				shard.shardIndex, object.objectID, object.version, err)
		}
	}
	return nil
}

// getObject fetches one catalog row.
func (l *eventLog) getObject(ctx context.Context, objectID string, version uint64) (objectRow, bool, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return objectRow{}, false, fmt.Errorf("catalog: get object: %w", err)
	}
	defer l.pool.Put(conn)

	var object objectRow
	found := false
	err = sqlitex.Execute(conn,
		`SELECT object_id, version, schema_version, hash_commit, content_size,
		 metadata, merkle_root, atr_cost, stored_epoch, stored_tick
		 FROM objects WHERE object_id = ? AND version = ?`,
		&sqlitex.ExecOptions{
			Args: []any{objectID, int64(version)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row, err := scanObject(stmt)
				if err != nil {
					return err
				}
				object = row
				found = true
				return nil
			},
		})
	if err != nil {
		return objectRow{}, false, fmt.Errorf("catalog: querying object %s v%d: %w", objectID, version, err)
	}
	return object, found, nil
}

func scanObject(stmt *sqlite.Stmt) (objectRow, error) {
	var object objectRow

	// Columns: object_id(0), version(1), schema_version(2),
	// hash_commit(3), content_size(4), metadata(5), merkle_root(6),
	// atr_cost(7), stored_epoch(8), stored_tick(9)
	object.objectID = stmt.ColumnText(0)
	object.version = uint64(stmt.ColumnInt64(1))
	object.schemaVersion = uint32(stmt.ColumnInt64(2))
	stmt.ColumnBytes(3, object.hashCommit[:])
	object.contentSize = uint64(stmt.ColumnInt64(4))

	if !stmt.ColumnIsNull(5) {
		blob := make([]byte, stmt.ColumnLen(5))
		stmt.ColumnBytes(5, blob)
		if err := codec.Unmarshal(blob, &object.metadata); err != nil {
			return object, fmt.Errorf("catalog: decoding metadata of %s v%d: %w", object.objectID, object.version, err)
		}
	}

	stmt.ColumnBytes(6, object.merkleRoot[:])
	object.atrCost = uint64(stmt.ColumnInt64(7))
	object.storedEpoch = uint64(stmt.ColumnInt64(8))
	object.storedTick = uint64(stmt.ColumnInt64(9))
	return object, nil
}

// getShards fetches the shard rows of an object version in
// shard_index order.
func (l *eventLog) getShards(ctx context.Context, objectID string, version uint64) ([]shardRow, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: get shards: %w", err)
	}
	defer l.pool.Put(conn)

	var shards []shardRow
	err = sqlitex.Execute(conn,
		`SELECT shard_index, shard_id, block_hash, replicas FROM shards
		 WHERE object_id = ? AND version = ? ORDER BY shard_index`,
		&sqlitex.ExecOptions{
			Args: []any{objectID, int64(version)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				shard, err := scanShard(stmt)
				if err != nil {
					return err
				}
				shards = append(shards, shard)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: querying shards of %s v%d: %w", objectID, version, err)
	}
	return shards, nil
}

func scanShard(stmt *sqlite.Stmt) (shardRow, error) {
	var shard shardRow

	// Columns: shard_index(0), shard_id(1), block_hash(2),
	// replicas(3)
	shard.shardIndex = uint32(stmt.ColumnInt64(0))
	stmt.ColumnBytes(1, shard.shardID[:])
	stmt.ColumnBytes(2, shard.blockHash[:])

	blob := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, blob)
	if err := codec.Unmarshal(blob, &shard.replicas); err != nil {
		return shard, fmt.Errorf("catalog: decoding replicas of shard %d: %w", shard.shardIndex, err)
	}
	return shard, nil
}

// findShard locates a shard of an object version by shard ID.
func (l *eventLog) findShard(ctx context.Context, objectID string, version uint64, shardID canonical.Hash) (shardRow, bool, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return shardRow{}, false, fmt.Errorf("catalog: find shard: %w", err)
	}
	defer l.pool.Put(conn)

	var shard shardRow
	found := false
	err = sqlitex.Execute(conn,
		`SELECT shard_index, shard_id, block_hash, replicas FROM shards
		 WHERE object_id = ? AND version = ? AND shard_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{objectID, int64(version), shardID[:]},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row, err := scanShard(stmt)
				if err != nil {
					return err
				}
				shard = row
				found = true
				return nil
			},
		})
	if err != nil {
		return shardRow{}, false, fmt.Errorf("catalog: querying shard %s: %w", shardID.Short(), err)
	}
	return shard, found, nil
}

// listObjects queries the catalog with the listing filter. The ORDER
// BY (object_id, version) is the sort invariant: every node must list
// identically.
func (l *eventLog) listObjects(ctx context.Context, filter Filter) ([]objectRow, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer l.pool.Put(conn)

	var conditions []string
	var args []any
	if filter.ObjectID != "" {
		conditions = append(conditions, "object_id = ?")
		args = append(args, filter.ObjectID)
	}
	if filter.Prefix != "" {
		conditions = append(conditions, "object_id GLOB ?")
		args = append(args, globEscape(filter.Prefix)+"*")
	}
	if filter.MinVersion != 0 {
		conditions = append(conditions, "version >= ?")
		args = append(args, int64(filter.MinVersion))
	}
	if filter.MaxVersion != 0 {
		conditions = append(conditions, "version <= ?")
		args = append(args, int64(filter.MaxVersion))
	}

	query := `SELECT object_id, version, schema_version, hash_commit, content_size,
		 metadata, merkle_root, atr_cost, stored_epoch, stored_tick FROM objects`
	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}
	query += " ORDER BY object_id, version"
	if filter.Limit != 0 {
		query += " LIMIT ?"
		args = append(args, int64(filter.Limit))
	}

	var rows []objectRow
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row, err := scanObject(stmt)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing objects: %w", err)
	}
	return rows, nil
}

// globEscape escapes GLOB metacharacters in a literal prefix. GLOB is
// used instead of LIKE because it is case-sensitive, and object IDs
// are case-sensitive identifiers.
func globEscape(prefix string) string {
	escaped := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '*', '?', '[':
			escaped = append(escaped, '[', prefix[i], ']')
		default:
			escaped = append(escaped, prefix[i])
		}
	}
	return string(escaped)
}

var _ replay.Source = (*eventLog)(nil)
