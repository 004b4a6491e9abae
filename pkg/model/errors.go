package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error into the taxonomy understood by the HTTP
// layer.
type ErrorKind string

const (
	KindNotAuthenticated   ErrorKind = "not_authenticated"
	KindNotAuthorized      ErrorKind = "not_authorized"
	KindNotFound           ErrorKind = "not_found"
	KindInvariantViolation ErrorKind = "invariant_violation"
	KindBadRequest         ErrorKind = "bad_request"
	KindConflict           ErrorKind = "conflict"
)

// ReasonCode is a machine-stable identifier carried by denials and errors.
// Codes are part of the external interface and must not change.
type ReasonCode string

const (
	ReasonUnauthenticated    ReasonCode = "UNAUTHENTICATED"
	ReasonNotMember          ReasonCode = "NOT_MEMBER"
	ReasonNotAdmin           ReasonCode = "NOT_ADMIN"
	ReasonNotLibrarian       ReasonCode = "NOT_LIBRARIAN"
	ReasonNotOwner           ReasonCode = "NOT_OWNER"
	ReasonNotFound           ReasonCode = "NOT_FOUND"
	ReasonNotAuthorized      ReasonCode = "NOT_AUTHORIZED"
	ReasonStatusLocked       ReasonCode = "STATUS_LOCKED"
	ReasonTargetOutsideOrg   ReasonCode = "TARGET_OUTSIDE_ORG"
	ReasonLibraryNotOrgOwned ReasonCode = "LIBRARY_NOT_ORG_OWNED"
	ReasonInvariant          ReasonCode = "INVARIANT_VIOLATION"
	ReasonBadRequest         ReasonCode = "BAD_REQUEST"
	ReasonConflict           ReasonCode = "CONFLICT"
)

// Error is the typed error returned by the core. It carries a taxonomy
// kind, a stable reason code and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Code    ReasonCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotFound constructs a not-found error. Also used for masked denials.
func ErrNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: ReasonNotFound, Message: fmt.Sprintf(format, args...)}
}

// ErrNotAuthenticated constructs an error for a call with no bound
// principal.
func ErrNotAuthenticated(message string) *Error {
	return &Error{Kind: KindNotAuthenticated, Code: ReasonUnauthenticated, Message: message}
}

// ErrNotAuthorized constructs a denial error with the given reason code.
func ErrNotAuthorized(code ReasonCode, format string, args ...any) *Error {
	return &Error{Kind: KindNotAuthorized, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrInvariant constructs an invariant-violation error.
func ErrInvariant(format string, args ...any) *Error {
	return &Error{Kind: KindInvariantViolation, Code: ReasonInvariant, Message: fmt.Sprintf(format, args...)}
}

// ErrBadRequest constructs a malformed-target error.
func ErrBadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Code: ReasonBadRequest, Message: fmt.Sprintf(format, args...)}
}

// ErrConflict constructs a concurrent-modification error.
func ErrConflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: ReasonConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the taxonomy kind of err, or an empty kind for errors
// raised outside the core.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the reason code of err, or an empty code.
func CodeOf(err error) ReasonCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a not-found (or masked) error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsNotAuthorized reports whether err is an authorization denial.
func IsNotAuthorized(err error) bool { return KindOf(err) == KindNotAuthorized }

// IsInvariantViolation reports whether err is an invariant violation.
func IsInvariantViolation(err error) bool { return KindOf(err) == KindInvariantViolation }

// IsConflict reports whether err is a concurrent-modification conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsBadRequest reports whether err is a malformed-target error.
func IsBadRequest(err error) bool { return KindOf(err) == KindBadRequest }
