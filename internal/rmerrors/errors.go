// SPDX-License-Identifier: MIT

// Package rmerrors defines the structured error taxonomy shared by every
// layer of the engine and carried, unchanged, across the FFI boundary.
package rmerrors

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error for host-side handling. Hosts switch on Kind
// rather than parsing messages.
type Kind string

const (
	KindValidation         Kind = "Validation"
	KindTypeMismatch       Kind = "TypeMismatch"
	KindInitFailed         Kind = "InitFailed"
	KindWorkerCrashed      Kind = "WorkerCrashed"
	KindTimeout            Kind = "Timeout"
	KindSerializationError Kind = "SerializationError"
	KindChannelClosed      Kind = "ChannelClosed"
	KindResourceLimit      Kind = "ResourceLimit"
	KindSecurity           Kind = "Security"
	KindUnknown            Kind = "Unknown"
)

// retryableKinds are the kinds considered transient by default (spec §4.10).
var retryableKinds = map[Kind]bool{
	KindTimeout:       true,
	KindResourceLimit: true,
}

// Error is the structured, serializable error payload surfaced at every
// layer boundary: inside a node, at the supervisor, and at the FFI.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Retryable  bool   `json:"retryable"`
	Traceback  string `json:"traceback,omitempty"`
	NodeID     string `json:"node_id,omitempty"`

	// wrapped is the original error, kept for errors.Is/As support but
	// excluded from JSON since it may not be serializable itself.
	wrapped error
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %q: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the original error for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.wrapped }

// New builds an Error of the given kind, defaulting Retryable per kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryableKinds[kind],
	}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := New(kind, format, args...)
	e.wrapped = cause
	return e
}

// WithNode sets the originating node id and returns the receiver for chaining.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithSuggestion attaches a human-actionable suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithTraceback attaches a captured stack trace or traceback string.
func (e *Error) WithTraceback(tb string) *Error {
	e.Traceback = tb
	return e
}

// WithRetryable overrides the default retryable flag for this kind.
func (e *Error) WithRetryable(r bool) *Error {
	e.Retryable = r
	return e
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write `errors.Is(err, rmerrors.New(rmerrors.KindTimeout, ""))`-style checks
// via a sentinel built with KindOnly.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// KindOnly builds a sentinel Error carrying only a Kind, suitable for
// errors.Is(err, rmerrors.KindOnly(rmerrors.KindTimeout)) comparisons.
func KindOnly(kind Kind) *Error {
	return &Error{Kind: kind}
}

// As extracts an *Error from err, returning nil, false if err does not wrap one.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
