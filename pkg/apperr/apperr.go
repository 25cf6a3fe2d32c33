// Package apperr defines the error taxonomy shared by the upstream client,
// the dispatcher and the tool layer.
//
// Every failure that reaches a tool caller is classified into a Kind so the
// caller can decide whether to fix its input, back off, or report a defect.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the category of an error.
type Kind string

const (
	// KindValidation marks a malformed intent or argument. Never retried.
	KindValidation Kind = "validation"
	// KindAuth marks a missing or rejected API key. Never retried.
	KindAuth Kind = "auth"
	// KindNotFound marks an unknown data or catalog identifier.
	KindNotFound Kind = "not_found"
	// KindRateLimit marks upstream throttling (HTTP 429).
	KindRateLimit Kind = "rate_limit"
	// KindTransient marks upstream overload, network failure or timeout.
	KindTransient Kind = "transient"
	// KindProtocol marks an upstream response we could not interpret.
	KindProtocol Kind = "protocol"
	// KindInternal marks anything unclassified, including recovered panics.
	KindInternal Kind = "internal"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Op      string // operation that failed (optional)
	Message string
	Err     error // underlying error (optional)

	// RetryAfter is the upstream's requested backoff for KindRateLimit.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOp sets the failing operation and returns e.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// Retryable reports whether the error is worth another attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimit
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Auth creates an authentication error.
func Auth(format string, args ...any) *Error {
	return New(KindAuth, format, args...)
}

// Transient creates a transient error wrapping err.
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, message, err)
}

// Protocol creates a protocol error wrapping err.
func Protocol(message string, err error) *Error {
	return Wrap(KindProtocol, message, err)
}

// RateLimited creates a rate-limit error carrying the upstream's Retry-After.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: "upstream rate limit exceeded", RetryAfter: retryAfter}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal if it is unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsRetryable reports whether err is a transient or rate-limit error.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable()
}
