// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Wall-clock time never participates in placement, proofs, hashes, or
// event identifiers — the engine orders everything by logical ticks.
// The clock exists for the informational recorded_at column on
// persisted events and for background maintenance (the audit ticker).
// Production code injects Real(); tests inject Fake() and advance time
// explicitly, so even the informational timestamps are reproducible in
// tests.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Engine struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	e := &Engine{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	e := &Engine{clock: c}
//	// ... start goroutines ...
//	c.WaitForTimers(1) // wait for goroutine to register a timer
//	c.Advance(time.Minute)
package clock
