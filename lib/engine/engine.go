// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/clock"
	"github.com/RealDaniG/QFS-sub002/lib/registry"
	"github.com/RealDaniG/QFS-sub002/lib/replay"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
	"github.com/RealDaniG/QFS-sub002/lib/shardstore"
	"github.com/RealDaniG/QFS-sub002/lib/sqlitepool"
)

// Config holds the parameters for opening an engine.
type Config struct {
	// DatabasePath is the SQLite file holding the event log and
	// catalog. The parent directory must exist.
	DatabasePath string

	// DataDir is the root of the content-addressed shard payload
	// store. Created if missing.
	DataDir string

	// Constants are the governed sharding constants. A database
	// created under different constants refuses to open.
	Constants schema.Constants

	// PoolSize is the SQLite connection pool size. Defaults to 4 if
	// zero or negative.
	PoolSize int

	// Compression selects the at-rest shard compression mode
	// ("auto", "none", "lz4", "zstd"). Empty means auto.
	Compression string

	// Clock provides wall-clock time for the informational
	// recorded_at column and the audit ticker. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to discard.
	Logger *slog.Logger
}

// Engine is a live storage engine instance.
type Engine struct {
	constants schema.Constants
	pool      *sqlitepool.Pool
	blocks    *shardstore.Store
	log       *eventLog
	logger    *slog.Logger
	clock     clock.Clock

	// mu serializes all operations; state is the live fold over the
	// committed log, guarded by mu.
	mu    sync.Mutex
	state *replay.State
}

// Open opens (or creates) an engine over the given database and data
// directory, replays the persisted event log to rebuild live state,
// and cross-checks the catalog cache against it.
func Open(cfg Config) (*Engine, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("engine: DatabasePath is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("engine: DataDir is required")
	}
	if cfg.Constants.BlockSizeBytes == 0 || cfg.Constants.NumShardsPerObject == 0 || cfg.Constants.ReplicationFactor == 0 {
		return nil, fmt.Errorf("engine: constants must all be positive, got %+v", cfg.Constants)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.DatabasePath,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	blocks, err := shardstore.Open(shardstore.Config{
		Dir:         cfg.DataDir,
		Compression: cfg.Compression,
		Logger:      cfg.Logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		constants: cfg.Constants,
		pool:      pool,
		blocks:    blocks,
		log:       newEventLog(pool, cfg.Clock, cfg.Logger),
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}

	ctx := context.Background()
	if err := e.log.init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := e.log.ensureConstants(ctx, cfg.Constants); err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	state, err := replay.Rebuild(ctx, cfg.Constants, e.log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: rebuilding state from log: %w", err)
	}
	e.state = state

	if err := e.checkCatalog(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.logger.Info("engine opened",
		"events", state.EventCount(),
		"objects", len(state.List(replay.Filter{})),
		"epoch", state.Registry.Epoch(),
		"nodes", state.Registry.Len(),
	)
	return e, nil
}

// checkCatalog spot-checks the SQLite catalog cache against the
// state replayed from the log. A divergence means the cache was
// mutated outside an append transaction.
func (e *Engine) checkCatalog(ctx context.Context) error {
	lastTick, err := e.log.lastTick(ctx)
	if err != nil {
		return err
	}
	if lastTick != e.state.LastTick() {
		return fmt.Errorf("log ends at tick %d, replayed state at %d", lastTick, e.state.LastTick())
	}

	count, err := e.log.objectCount(ctx)
	if err != nil {
		return err
	}
	if replayed := len(e.state.List(replay.Filter{})); count != replayed {
		return fmt.Errorf("catalog has %d object rows, log implies %d", count, replayed)
	}
	return nil
}

// Close releases the SQLite pool. Blocks until borrowed connections
// return.
func (e *Engine) Close() error {
	return e.pool.Close()
}

// eventSpec is one event to build and commit. commitLocked assigns
// consecutive ticks and computes event IDs.
type eventSpec struct {
	Type    schema.EventType
	Epoch   uint64
	Payload any
}

// commitLocked builds the events at consecutive ticks starting from
// baseTick (zero means the next free tick), commits them with the
// optional catalog mutation in one transaction, and folds them into
// live state. Callers hold e.mu.
func (e *Engine) commitLocked(ctx context.Context, baseTick uint64, specs []eventSpec, catalog func(conn *sqlite.Conn) error) ([]schema.Event, error) {
	if baseTick == 0 {
		baseTick = e.state.LastTick() + 1
	}

	events := make([]schema.Event, len(specs))
	for i, spec := range specs {
		event, err := schema.NewEvent(spec.Type, spec.Epoch, baseTick+uint64(i), spec.Payload)
		if err != nil {
			return nil, fmt.Errorf("building %s event: %w", spec.Type, err)
		}
		events[i] = event
	}

	if err := e.log.append(ctx, events, catalog); err != nil {
		return nil, err
	}

	for i := range events {
		if err := e.state.Apply(events[i]); err != nil {
			// The event is committed but the fold rejected it: the
			// live state no longer matches the log. Nothing after
			// this point can be trusted.
			e.logger.Error("live state diverged from committed log",
				"event", events[i].ID.Short(),
				"type", events[i].Type,
				"error", err,
			)
			return nil, fmt.Errorf("applying committed event %s: %w", events[i].ID.Short(), err)
		}
	}
	return events, nil
}

// emitFailureLocked records the failure boundary event(s) of an
// operation. Failure events always take the next free ticks under
// the current epoch. If even the recording fails, the original
// boundary error still reaches the caller; the recording failure
// goes to the operator log.
func (e *Engine) emitFailureLocked(ctx context.Context, specs ...eventSpec) {
	if _, err := e.commitLocked(ctx, 0, specs, nil); err != nil {
		e.logger.Error("failed to record failure event", "error", err)
	}
}

// epochLocked returns the epoch in force. Callers hold e.mu.
func (e *Engine) epochLocked() uint64 {
	return e.state.Registry.Epoch()
}

// Constants returns the governed constants the engine runs under.
func (e *Engine) Constants() schema.Constants {
	return e.constants
}

// Epoch returns the current epoch. Zero means no eligibility context
// has been supplied yet.
func (e *Engine) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Registry.Epoch()
}

// EligibleNodes returns the current epoch's frozen eligible set.
func (e *Engine) EligibleNodes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Registry.Eligible()
}

// Nodes returns all registered nodes sorted by ID.
func (e *Engine) Nodes() []registry.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Registry.Nodes()
}

// LastTick returns the tick of the most recent event.
func (e *Engine) LastTick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.LastTick()
}

// EventCount returns the number of committed events.
func (e *Engine) EventCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.EventCount()
}

// Metrics returns a copy of the derived per-node and per-code
// counters, the read surface for downstream economics.
func (e *Engine) Metrics() replay.Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	metrics := e.state.Metrics
	metrics.BytesStoredPerNode = copyCounts(e.state.Metrics.BytesStoredPerNode)
	metrics.ProofsGeneratedPerNode = copyCounts(e.state.Metrics.ProofsGeneratedPerNode)
	metrics.ProofsFailedPerNode = copyCounts(e.state.Metrics.ProofsFailedPerNode)
	metrics.ErrorsByCode = copyCounts(e.state.Metrics.ErrorsByCode)
	return metrics
}

func copyCounts(counts map[string]uint64) map[string]uint64 {
	copied := make(map[string]uint64, len(counts))
	for key, value := range counts {
		copied[key] = value
	}
	return copied
}

// StateHash returns the canonical digest of the live state.
func (e *Engine) StateHash() (canonical.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Hash()
}

// Events streams the committed event log in tick order, for audit
// and export tooling. Runs against a snapshot read and does not
// block operations.
func (e *Engine) Events(ctx context.Context, fn func(schema.Event) error) error {
	return e.log.Events(ctx, fn)
}

// ReplayReport is the outcome of a replay-equivalence audit.
type ReplayReport struct {
	// Events is the number of events replayed.
	Events uint64

	// LiveHash and ReplayHash are the live state digest and the
	// digest of the state rebuilt from the log. Equal on a healthy
	// engine.
	LiveHash   canonical.Hash
	ReplayHash canonical.Hash
}

// VerifyReplay rebuilds state from the persisted log and compares
// its digest with the live state's. A mismatch is returned as an
// error: it means the engine diverged from its own log, the one
// failure mode replay auditing exists to catch.
func (e *Engine) VerifyReplay(ctx context.Context) (ReplayReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	liveHash, err := e.state.Hash()
	if err != nil {
		return ReplayReport{}, fmt.Errorf("hashing live state: %w", err)
	}

	rebuilt, err := replay.Rebuild(ctx, e.constants, e.log)
	if err != nil {
		return ReplayReport{LiveHash: liveHash}, err
	}
	replayHash, err := rebuilt.Hash()
	if err != nil {
		return ReplayReport{LiveHash: liveHash}, fmt.Errorf("hashing replayed state: %w", err)
	}

	report := ReplayReport{
		Events:     rebuilt.EventCount(),
		LiveHash:   liveHash,
		ReplayHash: replayHash,
	}
	if liveHash != replayHash {
		return report, fmt.Errorf("replayed state hash %s does not match live hash %s", replayHash, liveHash)
	}
	return report, nil
}

// RunAudit runs the replay-equivalence audit on an interval until
// the context is cancelled. An audit failure stops the loop and
// returns the error: a diverged engine must not keep serving.
func (e *Engine) RunAudit(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("audit interval must be positive, got %s", interval)
	}

	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := e.VerifyReplay(ctx)
			if err != nil {
				e.logger.Error("replay audit failed", "error", err)
				return err
			}
			e.logger.Info("replay audit passed",
				"events", report.Events,
				"state_hash", report.LiveHash.Short(),
			)
		}
	}
}
