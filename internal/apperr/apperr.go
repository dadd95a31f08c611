// Package apperr defines the tagged error kinds used throughout the
// orchestration runtime (spec §7). Every kind is a sentinel wrapped with
// context via fmt.Errorf("...: %w", ...) and inspected with errors.Is/As,
// mirroring the teacher's RateLimitError pattern in
// internal/perception/claude_cli_client.go.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindAlreadyExists      Kind = "already_exists"
	KindIllegalTransition  Kind = "illegal_transition"
	KindCycle              Kind = "cycle"
	KindTimeout            Kind = "timeout"
	KindChildSpawn         Kind = "child_spawn"
	KindStoreCorruption    Kind = "store_corruption"
	KindTransportUnavailable Kind = "transport_unavailable"
	KindClosed             Kind = "closed"
	KindInvalidArgument    Kind = "invalid_argument"
)

// Error is the concrete tagged error type.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperr.NotFound) style sentinel comparisons when
// the target is also an *Error carrying the same Kind with no message.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New creates a tagged error with the given kind and message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a tagged error wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is comparisons without constructing a message.
var (
	NotFound           = &Error{Kind: KindNotFound}
	AlreadyExists      = &Error{Kind: KindAlreadyExists}
	IllegalTransition  = &Error{Kind: KindIllegalTransition}
	Cycle              = &Error{Kind: KindCycle}
	Timeout            = &Error{Kind: KindTimeout}
	ChildSpawn         = &Error{Kind: KindChildSpawn}
	StoreCorruption    = &Error{Kind: KindStoreCorruption}
	TransportUnavailable = &Error{Kind: KindTransportUnavailable}
	Closed             = &Error{Kind: KindClosed}
	InvalidArgument    = &Error{Kind: KindInvalidArgument}
)

// KindOf extracts the Kind of err, if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Of reports whether err's kind matches k.
func Of(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
