// Package apperr defines the error kinds surfaced to API clients.
//
// Domain packages declare sentinel *Error values with a stable Code; callers
// wrap them with fmt.Errorf("...: %w", err) and the HTTP layer recovers the
// kind with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindUnauthorized
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a classified, client-visible failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches two errors with the same code, so a detailed copy created by
// WithMessage still satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Unauthorized(code, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message}
}

func RateLimited(code, message string) *Error {
	return &Error{Kind: KindRateLimited, Code: code, Message: message}
}

// ErrValidation is the generic input failure used by request decoding.
var ErrValidation = Validation("VALIDATION_FAILED", "validation failed")

// Invalid builds a validation failure with a field-specific message.
func Invalid(format string, args ...any) *Error {
	return ErrValidation.WithMessage(format, args...)
}

// From extracts the classified error from err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return KindInternal
}
