// SPDX-License-Identifier: MIT

// Package zerr defines the stable error kinds surfaced across Zureshot's
// recording pipeline. Callers compare kinds with errors.Is against the
// sentinel Kind values rather than matching on message text.
package zerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, user-facing error classification.
type Kind string

// The full set of stable error classifications. These are classifications,
// not Go type names: callers match on Kind, never on a concrete struct.
const (
	KindPermissionDenied   Kind = "permission_denied"
	KindUnavailable        Kind = "unavailable"
	KindAlreadyRecording   Kind = "already_recording"
	KindNotRecording       Kind = "not_recording"
	KindNotPaused          Kind = "not_paused"
	KindAlreadyPaused      Kind = "already_paused"
	KindNonMonotonicSample Kind = "non_monotonic_sample"
	KindInputNotReady      Kind = "input_not_ready"
	KindWriterFailed       Kind = "writer_failed"
	KindFinalizeTimeout    Kind = "finalize_timeout"
	KindReconfigureFailed  Kind = "reconfigure_failed"
)

// Error is a Kind-tagged error with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, zerr.New(zerr.KindAlreadyRecording, "")) matches any
// instance carrying that kind regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error with the given kind, message, and wrapped cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
