package auth

import (
	"errors"
	"net/http"
)

// Kind classifies token and authorization failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingToken
	KindInvalidToken
	KindExpiredToken
	KindTokenVersionStale
	KindReplayDetected
	KindInsufficientPermissions
	KindForbidden
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindMissingToken:
		return "MissingToken"
	case KindInvalidToken:
		return "InvalidToken"
	case KindExpiredToken:
		return "ExpiredToken"
	case KindTokenVersionStale:
		return "TokenVersionStale"
	case KindReplayDetected:
		return "ReplayDetected"
	case KindInsufficientPermissions:
		return "InsufficientPermissions"
	case KindForbidden:
		return "Forbidden"
	case KindConfiguration:
		return "ConfigurationError"
	default:
		return "Unknown"
	}
}

// Status maps the kind to the HTTP status the transport layer should use.
func (k Kind) Status() int {
	switch k {
	case KindMissingToken, KindInvalidToken, KindExpiredToken, KindTokenVersionStale, KindReplayDetected:
		return http.StatusUnauthorized
	case KindInsufficientPermissions, KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ClearsCredentials reports whether client-held tokens must be discarded.
// A stale or tampered token is never recoverable.
func (k Kind) ClearsCredentials() bool {
	switch k {
	case KindMissingToken, KindInvalidToken, KindExpiredToken, KindTokenVersionStale, KindReplayDetected:
		return true
	default:
		return false
	}
}

// Message is the user-facing text for the kind. Details stay in logs.
func (k Kind) Message() string {
	switch k {
	case KindMissingToken:
		return "authentication required"
	case KindInvalidToken:
		return "invalid authentication token"
	case KindExpiredToken, KindTokenVersionStale, KindReplayDetected:
		return "session expired, please log in again"
	case KindInsufficientPermissions:
		return "you don't have permission to perform this action"
	case KindForbidden:
		return "forbidden"
	case KindConfiguration:
		return "application configuration error"
	default:
		return "unexpected error"
	}
}

// Error is the typed failure returned by validation, rotation and guards.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// Optional context for the transport layer.
	Tenant string
	Role   string
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrExpiredToken) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Status() int { return e.Kind.Status() }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingToken            = &Error{Kind: KindMissingToken}
	ErrInvalidToken            = &Error{Kind: KindInvalidToken}
	ErrExpiredToken            = &Error{Kind: KindExpiredToken}
	ErrTokenVersionStale       = &Error{Kind: KindTokenVersionStale}
	ErrReplayDetected          = &Error{Kind: KindReplayDetected}
	ErrInsufficientPermissions = &Error{Kind: KindInsufficientPermissions}
	ErrForbidden               = &Error{Kind: KindForbidden}
	ErrConfiguration           = &Error{Kind: KindConfiguration}
)

// KindOf extracts the Kind of err, KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Deny builds a guard denial.
func Deny(kind Kind, msg string) *Error {
	return newError(kind, msg, nil)
}
