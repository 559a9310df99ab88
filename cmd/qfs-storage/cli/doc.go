// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the qfs-storage CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in
// cmd/qfs-storage/commands and dispatched via [Command.Execute], which
// handles flag parsing, subcommand routing, and structured help output
// with examples.
//
// Command parameters are ordinary structs with flag/desc/default tags,
// bound by [BindFlags] (or the [FlagsFromParams] wrapper). Types that
// need dynamic defaults — like the engine connection config — implement
// [FlagBinder] and register their own flags.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3). This is implemented in
// suggest.go.
//
// Commands that treat a non-zero exit as an outcome rather than an error
// (the replay audit, for example) return [ExitError]; main checks for
// its ExitCode method and exits silently with that code.
package cli
