package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the store and the generator.
type ErrorKind string

const (
	KindClientNotConfigured  ErrorKind = "client_not_configured"
	KindConversationNotFound ErrorKind = "conversation_not_found"
	KindCorruptData          ErrorKind = "corrupt_data"
	KindStorageUnavailable   ErrorKind = "storage_unavailable"
	KindMissingReference     ErrorKind = "missing_reference"
	KindEncodingFailure      ErrorKind = "encoding_failure"
	KindRequestFailed        ErrorKind = "request_failed"
	KindNoContentReturned    ErrorKind = "no_content_returned"
	KindTimeout              ErrorKind = "timeout"
	KindInvalid              ErrorKind = "invalid"
)

// Error is a classified failure. Op names the operation that failed and Err
// is the underlying cause, if any.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrTimeout)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrClientNotConfigured  = &Error{Kind: KindClientNotConfigured}
	ErrConversationNotFound = &Error{Kind: KindConversationNotFound}
	ErrCorruptData          = &Error{Kind: KindCorruptData}
	ErrStorageUnavailable   = &Error{Kind: KindStorageUnavailable}
	ErrMissingReference     = &Error{Kind: KindMissingReference}
	ErrEncodingFailure      = &Error{Kind: KindEncodingFailure}
	ErrRequestFailed        = &Error{Kind: KindRequestFailed}
	ErrNoContentReturned    = &Error{Kind: KindNoContentReturned}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrInvalid              = &Error{Kind: KindInvalid}
)

// E builds a classified error.
func E(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
