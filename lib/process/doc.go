// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It centralizes
// the raw stderr reporting that happens before the structured logger
// is initialized or after an unrecoverable error escapes run(). All
// other output in the binaries goes through slog or through the
// command tree's writer.
package process
