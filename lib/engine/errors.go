// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"

	"github.com/RealDaniG/QFS-sub002/lib/schema"
)

// Code is a storage engine boundary error code. The set is finite and
// closed: callers and downstream accounting switch on codes, never on
// error text.
type Code string

const (
	// CodeNotFound: the object, version, or shard does not exist.
	CodeNotFound Code = "SE_ERR_NOT_FOUND"

	// CodeInvalidVersion: the write's version is not strictly
	// greater than the object's latest stored version.
	CodeInvalidVersion Code = "SE_ERR_INVALID_VERSION"

	// CodeInvalidInput: malformed identifiers, encodings, sizes, or
	// arguments that contradict current state (stale epoch, unknown
	// attested node, duplicate registration).
	CodeInvalidInput Code = "SE_ERR_INVALID_INPUT"

	// CodeNoEligibleNodes: the epoch's frozen eligible set cannot
	// satisfy the replication factor. Routine; resolved by a later
	// epoch with more nodes.
	CodeNoEligibleNodes Code = "SE_ERR_NO_ELIGIBLE_NODES"

	// CodeProofUnavailable: the shard is known but its payload is
	// missing or corrupt, so no possession proof can be produced.
	CodeProofUnavailable Code = "SE_ERR_PROOF_UNAVAILABLE"

	// CodeIntegrityMismatch: stored content no longer matches its
	// recorded hashes. Indicates data loss; surfaced to operators.
	CodeIntegrityMismatch Code = "SE_ERR_INTEGRITY_MISMATCH"

	// CodeContextMissing: no AEGIS eligibility snapshot has been
	// supplied yet (epoch zero), so placement is impossible.
	CodeContextMissing Code = "SE_ERR_AEGIS_CONTEXT_MISSING"

	// CodeInternal: an unclassified fault. The logged event carries
	// a sanitized detail; the full cause goes to the operator log
	// only.
	CodeInternal Code = "SE_ERR_INTERNAL"
)

// Error is the boundary error type. Every failure leaving the engine
// is one of these; nothing unstructured crosses the boundary.
type Error struct {
	// Code is the enumerated failure class.
	Code Code

	// Op is the public operation that failed ("store", "read", ...).
	Op string

	// Detail is a sanitized human-readable description, safe to
	// record in the event log: no content bytes, no stack traces.
	Detail string

	// Err is the underlying cause, if any. Not recorded in events.
	Err error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Info returns the event log representation of the error.
func (e *Error) Info() *schema.ErrorInfo {
	return &schema.ErrorInfo{Code: string(e.Code), Detail: e.Detail}
}

// CodeOf extracts the boundary code from an error. Errors that did
// not originate at the boundary report CodeInternal; nil reports the
// empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var boundary *Error
	if errors.As(err, &boundary) {
		return boundary.Code
	}
	return CodeInternal
}

// fail constructs a boundary error with a formatted detail.
func fail(op string, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// internal wraps an unclassified fault. The event detail is generic;
// the cause stays attached for the operator log.
func internal(op string, err error) *Error {
	return &Error{Code: CodeInternal, Op: op, Detail: "internal failure", Err: err}
}
