package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures so transports can map them consistently.
type ErrorKind string

const (
	// KindValidation marks malformed caller input.
	KindValidation ErrorKind = "validation"
	// KindStateConflict marks operations that are legal in general but not from the current state.
	KindStateConflict ErrorKind = "state_conflict"
	// KindNotFound marks unknown booking, order or coupon identifiers.
	KindNotFound ErrorKind = "not_found"
	// KindAuthorization marks missing roles or resource ownership.
	KindAuthorization ErrorKind = "authorization"
	// KindExternal marks payment gateway or storage outages. State is left unchanged.
	KindExternal ErrorKind = "external_dependency"
	// KindIntegrity marks a cross-entity consistency rule that would be violated.
	KindIntegrity ErrorKind = "integrity"
)

// Error is the typed error returned by every service. Code is stable and safe to expose to clients.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches kind sentinels (no code) by kind and named errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Code == e.Code
}

// Kind sentinels usable with errors.Is.
var (
	ErrValidation    = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrStateConflict = &Error{Kind: KindStateConflict, Message: "state conflict"}
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden     = &Error{Kind: KindAuthorization, Message: "forbidden"}
	ErrExternal      = &Error{Kind: KindExternal, Message: "external dependency failure"}
	ErrIntegrity     = &Error{Kind: KindIntegrity, Message: "integrity violation"}
)

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// withDetail returns a copy of base carrying additional context in its message.
func withDetail(base *Error, format string, args ...any) *Error {
	clone := *base
	clone.Message = fmt.Sprintf("%s: %s", base.Message, fmt.Sprintf(format, args...))
	return &clone
}

// withCause returns a copy of base wrapping err.
func withCause(base *Error, err error) *Error {
	clone := *base
	clone.Err = err
	return &clone
}

// KindOf reports the kind of err, defaulting to an empty kind for foreign errors.
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

// CodeOf reports the stable code of err when it is a service error.
func CodeOf(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}
