// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs defines the error taxonomy shared by every subsystem, so that
// callers can branch on error kind with errors.Is instead of string matching.
package errs

import "errors"

// Kind identifies one of the error categories from the error-handling design.
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	HashMismatch         Kind = "hash_mismatch"
	InvalidSignature     Kind = "invalid_signature"
	ReplayDetected       Kind = "replay_detected"
	Equivocation         Kind = "equivocation"
	ParentMissing        Kind = "parent_missing"
	PolicyNotFound       Kind = "policy_not_found"
	CycleDetected        Kind = "cycle_detected"
	ConsensusTimeout     Kind = "consensus_timeout"
	DecisionTimeout      Kind = "decision_timeout"
	StorageUnavailable   Kind = "storage_unavailable"
	CircuitOpen          Kind = "circuit_open"
	ConcurrencyLimit     Kind = "concurrency_limit"
	InvariantViolation   Kind = "invariant_violation"
	Internal             Kind = "internal"
)

// Error is a typed, wrappable error carrying a Kind plus a human message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or Internal if err is not a tagged Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
