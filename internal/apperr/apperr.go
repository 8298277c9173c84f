// Package apperr defines the domain error taxonomy shared by every layer of the
// service. Errors carry a Kind that the GraphQL boundary maps to wire codes.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a domain error.
type Kind int

const (
	// KindInternal covers store, crypto and infrastructure failures. The cause
	// is logged server-side and never shown to clients.
	KindInternal Kind = iota
	KindValidationFailed
	KindUsernameAlreadyExists
	KindEmailAlreadyExists
	// KindUnauthorized is reserved for authentication flows.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidationFailed:
		return "validation_failed"
	case KindUsernameAlreadyExists:
		return "username_already_exists"
	case KindEmailAlreadyExists:
		return "email_already_exists"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Code is the machine readable code put in GraphQL error extensions.
func (k Kind) Code() string {
	return strings.ToUpper(k.String())
}

// ClientVisible reports whether errors of this kind are user-correctable and
// may be rendered to clients with their detail.
func (k Kind) ClientVisible() bool {
	switch k {
	case KindValidationFailed, KindUsernameAlreadyExists, KindEmailAlreadyExists:
		return true
	}
	return false
}

// Violation names one offending input field.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is the single error type returned by domain operations.
type Error struct {
	Kind       Kind
	Violations []Violation
	Err        error
}

// Sentinels usable with errors.Is; matching is by Kind.
var (
	ErrUsernameAlreadyExists = &Error{Kind: KindUsernameAlreadyExists}
	ErrEmailAlreadyExists    = &Error{Kind: KindEmailAlreadyExists}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
)

// ValidationFailed builds a validation error from one or more violations.
func ValidationFailed(v ...Violation) *Error {
	return &Error{Kind: KindValidationFailed, Violations: v}
}

// Internal wraps an opaque cause.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

// Internalf formats a cause and wraps it as an internal error.
func Internalf(format string, args ...any) *Error {
	return Internal(fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidationFailed:
		if len(e.Violations) == 0 {
			return "validation failed"
		}
		parts := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			parts = append(parts, v.Field+": "+v.Reason)
		}
		return "validation failed: " + strings.Join(parts, "; ")
	case KindUsernameAlreadyExists:
		return "username already exists"
	case KindEmailAlreadyExists:
		return "email already exists"
	case KindUnauthorized:
		return "unauthorized"
	default:
		if e.Err != nil {
			return "internal error: " + e.Err.Error()
		}
		return "internal error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Field returns the primary field the error is attributed to, if any.
func (e *Error) Field() string {
	switch e.Kind {
	case KindValidationFailed:
		if len(e.Violations) > 0 {
			return e.Violations[0].Field
		}
	case KindUsernameAlreadyExists:
		return "username"
	case KindEmailAlreadyExists:
		return "email"
	}
	return ""
}

// As extracts the domain error from err. Errors carrying no domain error are
// reported as internal errors wrapping err.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal(err)
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if de := As(err); de != nil {
		return de.Kind
	}
	return KindInternal
}
