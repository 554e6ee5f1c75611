// Package errors defines the typed error taxonomy used across mcpbridge.
//
// Every error kind (NotFound, Conflict, BadRequest, Unauthorized, Gone,
// UpstreamError, Timeout, TransportClosed) has a constructor here and a
// corresponding HTTP status code, so the REST facade (pkg/api/errors)
// never has to duplicate the mapping.
package errors

import (
	"errors"
	"net/http"
)

// Type identifies the category of a mcpbridge error.
type Type string

// Error kinds the taxonomy recognizes.
const (
	ErrNotFound        Type = "not_found"
	ErrConflict        Type = "conflict"
	ErrBadRequest      Type = "bad_request"
	ErrUnauthorized    Type = "unauthorized"
	ErrGone            Type = "gone"
	ErrUpstream        Type = "upstream_error"
	ErrTimeout         Type = "timeout"
	ErrTransportClosed Type = "transport_closed"
	ErrNotInitialized  Type = "not_initialized"
	ErrInternal        Type = "internal"
)

// statusByType maps each Type to the HTTP status it surfaces as.
var statusByType = map[Type]int{
	ErrNotFound:        http.StatusNotFound,
	ErrConflict:        http.StatusConflict,
	ErrBadRequest:      http.StatusBadRequest,
	ErrUnauthorized:    http.StatusUnauthorized,
	ErrGone:            http.StatusGone,
	ErrUpstream:        http.StatusInternalServerError,
	ErrTimeout:         http.StatusInternalServerError,
	ErrTransportClosed: http.StatusInternalServerError,
	ErrNotInitialized:  http.StatusConflict,
	ErrInternal:        http.StatusInternalServerError,
}

// Error is a typed, wrappable error carrying an HTTP-mappable kind.
type Error struct {
	Type    Type
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Type) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Type) + ": " + e.Message
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an *Error of the given kind.
func NewError(t Type, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

// NewNotFoundError builds a NotFound error (404).
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewConflictError builds a Conflict error (409).
func NewConflictError(message string, cause error) *Error {
	return NewError(ErrConflict, message, cause)
}

// NewBadRequestError builds a BadRequest error (400).
func NewBadRequestError(message string, cause error) *Error {
	return NewError(ErrBadRequest, message, cause)
}

// NewUnauthorizedError builds an Unauthorized error (401).
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewGoneError builds a Gone error (410).
func NewGoneError(message string, cause error) *Error {
	return NewError(ErrGone, message, cause)
}

// NewUpstreamError builds an UpstreamError (500, with details).
func NewUpstreamError(message string, cause error) *Error {
	return NewError(ErrUpstream, message, cause)
}

// NewTimeoutError builds a Timeout error (500).
func NewTimeoutError(message string, cause error) *Error {
	return NewError(ErrTimeout, message, cause)
}

// NewTransportClosedError builds a TransportClosed error (500).
func NewTransportClosedError(message string, cause error) *Error {
	return NewError(ErrTransportClosed, message, cause)
}

// NewNotInitializedError builds a NotInitialized error (409): the
// session exists but has not completed its handshake.
func NewNotInitializedError(message string, cause error) *Error {
	return NewError(ErrNotInitialized, message, cause)
}

// NewInternalError builds a generic Internal error (500).
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// Is reports whether err (or something it wraps) is a mcpbridge *Error of
// kind t.
func Is(err error, t Type) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return Is(err, ErrNotFound) }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return Is(err, ErrConflict) }

// IsBadRequest reports whether err is a BadRequest error.
func IsBadRequest(err error) bool { return Is(err, ErrBadRequest) }

// IsUnauthorized reports whether err is an Unauthorized error.
func IsUnauthorized(err error) bool { return Is(err, ErrUnauthorized) }

// IsGone reports whether err is a Gone error.
func IsGone(err error) bool { return Is(err, ErrGone) }

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool { return Is(err, ErrUpstream) }

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool { return Is(err, ErrTimeout) }

// IsTransportClosed reports whether err is a TransportClosed error.
func IsTransportClosed(err error) bool { return Is(err, ErrTransportClosed) }

// IsNotInitialized reports whether err is a NotInitialized error.
func IsNotInitialized(err error) bool { return Is(err, ErrNotInitialized) }

// Code returns the HTTP status code that err should surface as. Errors that
// are not *Error default to 500, matching
// fallback for anything unrecognized.
func Code(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	if code, ok := statusByType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Details extracts the {error, details} body
// UpstreamError responses. For non-upstream errors details is nil.
func Details(err error) any {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	if e.Type != ErrUpstream || e.Cause == nil {
		return nil
	}
	return e.Cause.Error()
}
