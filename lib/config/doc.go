// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for QFS storage
// components.
//
// Configuration is loaded from a single file specified by:
//   - QFS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// never override file values; a storage engine whose placement and
// shard identity depend on configured constants cannot tolerate hidden
// overrides.
//
// The config file may contain environment-specific sections
// (development, staging, production) that override base values when
// the environment matches. The only expansion performed on loaded
// values is ${VAR} and ${VAR:-default} substitution in paths, for
// portability across machines.
package config
