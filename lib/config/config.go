// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for a QFS storage engine.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory and file locations.
	Paths PathsConfig `yaml:"paths"`

	// Storage configures the protocol constants and at-rest handling.
	Storage StorageConfig `yaml:"storage"`

	// Database configures the SQLite event log and catalog.
	Database DatabaseConfig `yaml:"database"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Audit configures the periodic replay self-check.
	Audit AuditConfig `yaml:"audit"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Storage  *StorageConfig  `yaml:"storage,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
	Audit    *AuditConfig    `yaml:"audit,omitempty"`
}

// PathsConfig configures directory and file locations.
type PathsConfig struct {
	// Root is the base directory for engine data.
	Root string `yaml:"root"`

	// Data is where shard payload blocks are stored, content-addressed
	// by block hash.
	Data string `yaml:"data"`

	// Database is the SQLite file holding the event log and catalog.
	Database string `yaml:"database"`
}

// StorageConfig configures the protocol constants and the at-rest
// block handling. The three constants define shard identity and
// placement; changing any of them against an existing store is
// rejected at open, since it would orphan every stored shard.
type StorageConfig struct {
	// BlockSizeBytes is the fixed shard block size. Objects are split
	// into blocks of exactly this size, the final block zero-padded.
	// Default: 262144 (256 KiB).
	BlockSizeBytes int64 `yaml:"block_size_bytes"`

	// NumShardsPerObject is the fixed number of shards per object
	// version. Default: 4.
	NumShardsPerObject int `yaml:"num_shards_per_object"`

	// ReplicationFactor is the number of distinct nodes assigned to
	// each shard. Default: 3.
	ReplicationFactor int `yaml:"replication_factor"`

	// Compression selects at-rest block compression: "auto" probes
	// each block and picks zstd, lz4, or none by compressibility;
	// "zstd", "lz4", and "none" force a codec. Compression never
	// affects block identity — hashes are over uncompressed bytes.
	// Default: auto.
	Compression string `yaml:"compression"`
}

// DatabaseConfig configures the SQLite connection pool.
type DatabaseConfig struct {
	// PoolSize is the number of pooled connections. Zero means
	// automatic (CPU count, minimum 4). Writes are serialized by the
	// engine regardless; extra connections serve concurrent readers.
	PoolSize int `yaml:"pool_size"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	// Default: info.
	Level string `yaml:"level"`

	// Format is the handler format: text or json.
	// Default: text (development), json (production).
	Format string `yaml:"format"`
}

// AuditConfig configures the periodic replay self-check, which
// replays the event log in the background and compares the resulting
// state digest against live state.
type AuditConfig struct {
	// Interval between self-checks, as a Go duration string.
	// "0s" disables the periodic check (startup recovery still
	// replays). Default: 0s.
	Interval string `yaml:"interval"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a fallback —
// the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "qfs")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:     defaultRoot,
			Data:     filepath.Join(defaultRoot, "data"),
			Database: filepath.Join(defaultRoot, "qfs.db"),
		},
		Storage: StorageConfig{
			BlockSizeBytes:     262144,
			NumShardsPerObject: 4,
			ReplicationFactor:  3,
			Compression:        "auto",
		},
		Database: DatabaseConfig{
			PoolSize: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Audit: AuditConfig{
			Interval: "0s",
		},
	}
}

// Load loads configuration from the QFS_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults — if QFS_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("QFS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("QFS_CONFIG environment variable not set; " +
			"set it to the path of your qfs.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{
					Format: "json",
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Data != "" {
			c.Paths.Data = overrides.Paths.Data
		}
		if overrides.Paths.Database != "" {
			c.Paths.Database = overrides.Paths.Database
		}
	}

	if overrides.Storage != nil {
		if overrides.Storage.BlockSizeBytes > 0 {
			c.Storage.BlockSizeBytes = overrides.Storage.BlockSizeBytes
		}
		if overrides.Storage.NumShardsPerObject > 0 {
			c.Storage.NumShardsPerObject = overrides.Storage.NumShardsPerObject
		}
		if overrides.Storage.ReplicationFactor > 0 {
			c.Storage.ReplicationFactor = overrides.Storage.ReplicationFactor
		}
		if overrides.Storage.Compression != "" {
			c.Storage.Compression = overrides.Storage.Compression
		}
	}

	if overrides.Database != nil {
		if overrides.Database.PoolSize > 0 {
			c.Database.PoolSize = overrides.Database.PoolSize
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}

	if overrides.Audit != nil {
		if overrides.Audit.Interval != "" {
			c.Audit.Interval = overrides.Audit.Interval
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"QFS_ROOT": c.Paths.Root,
		"HOME":     os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["QFS_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Data = expandVars(c.Paths.Data, vars)
	c.Paths.Database = expandVars(c.Paths.Database, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Data == "" {
		errs = append(errs, fmt.Errorf("paths.data is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}

	if c.Storage.BlockSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("storage.block_size_bytes must be positive"))
	}
	if c.Storage.NumShardsPerObject <= 0 {
		errs = append(errs, fmt.Errorf("storage.num_shards_per_object must be positive"))
	}
	if c.Storage.ReplicationFactor <= 0 {
		errs = append(errs, fmt.Errorf("storage.replication_factor must be positive"))
	}

	compressionValues := []string{"auto", "none", "lz4", "zstd"}
	if !contains(compressionValues, c.Storage.Compression) {
		errs = append(errs, fmt.Errorf("storage.compression must be one of: %v", compressionValues))
	}

	levelValues := []string{"debug", "info", "warn", "error"}
	if !contains(levelValues, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levelValues))
	}

	formatValues := []string{"text", "json"}
	if !contains(formatValues, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formatValues))
	}

	if c.Audit.Interval != "" {
		if _, err := time.ParseDuration(c.Audit.Interval); err != nil {
			errs = append(errs, fmt.Errorf("audit.interval: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Data,
		filepath.Dir(c.Paths.Database),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

// SlogLevel maps the configured level string to a slog.Level. Call
// Validate first; unknown strings map to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AuditInterval returns the parsed self-check interval. Zero means
// disabled. Call Validate first; unparseable strings return zero.
func (c *Config) AuditInterval() time.Duration {
	if c.Audit.Interval == "" {
		return 0
	}
	interval, err := time.ParseDuration(c.Audit.Interval)
	if err != nil {
		return 0
	}
	return interval
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
