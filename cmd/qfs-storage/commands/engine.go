// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/RealDaniG/QFS-sub002/lib/canonical"
	"github.com/RealDaniG/QFS-sub002/lib/config"
	"github.com/RealDaniG/QFS-sub002/lib/engine"
	"github.com/RealDaniG/QFS-sub002/lib/schema"
)

// EngineConnection manages the --config flag for commands that open
// the storage engine. Implements [cli.FlagBinder] so it integrates
// with the params struct system while handling a dynamic default from
// the QFS_CONFIG environment variable.
//
// Exported so that embedded struct fields are visible to reflection in
// [cli.FlagsFromParams] — unexported embedded types cause
// field.IsExported() to return false, silently skipping FlagBinder
// detection.
type EngineConnection struct {
	ConfigPath string
}

// AddFlags registers the --config flag with a dynamic default from the
// QFS_CONFIG environment variable.
func (c *EngineConnection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&c.ConfigPath, "config", "c", os.Getenv("QFS_CONFIG"),
		"path to the qfs.yaml config file (defaults to $QFS_CONFIG)")
}

// open loads the configuration and opens the storage engine over its
// database and data directory. Opening replays the persisted event
// log, so a command sees exactly the state an auditor would rebuild.
// The caller must Close the returned engine.
func (c *EngineConnection) open() (*engine.Engine, *config.Config, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.EnsurePaths(); err != nil {
		return nil, nil, err
	}

	eng, err := engine.Open(engine.Config{
		DatabasePath: cfg.Paths.Database,
		DataDir:      cfg.Paths.Data,
		Constants: schema.Constants{
			BlockSizeBytes:     uint64(cfg.Storage.BlockSizeBytes),
			NumShardsPerObject: uint32(cfg.Storage.NumShardsPerObject),
			ReplicationFactor:  uint32(cfg.Storage.ReplicationFactor),
		},
		PoolSize:    cfg.Database.PoolSize,
		Compression: cfg.Storage.Compression,
		Logger:      newLogger(cfg),
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

// loadConfig loads and validates the config file named by --config or
// QFS_CONFIG. There is no fallback path: placement and shard identity
// depend on the configured constants, so guessing a config would be
// worse than failing.
func (c *EngineConnection) loadConfig() (*config.Config, error) {
	if c.ConfigPath == "" {
		return nil, fmt.Errorf("no config file: set QFS_CONFIG or pass --config")
	}
	cfg, err := config.LoadFile(c.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", c.ConfigPath, err)
	}
	return cfg, nil
}

// newLogger builds the structured logger from the config's log
// section. CLI logs go to stderr so stdout stays clean for command
// output and pipelines.
func newLogger(cfg *config.Config) *slog.Logger {
	options := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

// formatSize returns a human-readable byte size.
func formatSize(bytes uint64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// hashStrings converts a slice of 32-byte hashes to their hex forms
// for JSON reports.
func hashStrings(hashes []canonical.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
