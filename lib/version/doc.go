// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for QFS binaries.
//
// Version information is injected at build time via -ldflags:
//
//	go build -ldflags "\
//	  -X github.com/RealDaniG/QFS-sub002/lib/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/RealDaniG/QFS-sub002/lib/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Binaries expose it through their version subcommand; nothing in the
// engine itself depends on these values (a build stamp must never
// influence placement or hashing).
package version
