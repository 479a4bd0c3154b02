// internal/errs/errs.go

// Package errs defines the typed errors every service boundary returns.
// Each error carries a stable machine-readable kind so a caller that lost a
// race on an atomic conditional update can still tell *why* the operation
// declined (full vs closed vs already a member), and so handlers can map
// failures to HTTP statuses without string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable machine-readable failure category.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindClosed              Kind = "closed"
	KindFull                Kind = "full"
	KindAlreadyMember       Kind = "already_member"
	KindNotMember           Kind = "not_member"
	KindInsufficientPlayers Kind = "insufficient_players"
	KindNotAllReady         Kind = "not_all_ready"
	KindCodeExhausted       Kind = "code_generation_exhausted"
	KindValidation          Kind = "validation_error"
	KindAuth                Kind = "auth_error"
	KindConflict            Kind = "conflict"
	KindInternal            Kind = "internal_error"
)

var kind2http = map[Kind]int{
	KindNotFound:            http.StatusNotFound,
	KindForbidden:           http.StatusForbidden,
	KindClosed:              http.StatusConflict,
	KindFull:                http.StatusConflict,
	KindAlreadyMember:       http.StatusConflict,
	KindNotMember:           http.StatusBadRequest,
	KindInsufficientPlayers: http.StatusBadRequest,
	KindNotAllReady:         http.StatusBadRequest,
	KindCodeExhausted:       http.StatusServiceUnavailable,
	KindValidation:          http.StatusBadRequest,
	KindAuth:                http.StatusUnauthorized,
	KindConflict:            http.StatusConflict,
	KindInternal:            http.StatusInternalServerError,
}

// Error pairs a kind with a human-readable message and an optional cause.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	cause   error
}

// New builds a typed error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds a typed error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a typed error that records cause for logs while keeping msg as
// the user-visible message.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// Internal wraps an unexpected failure (persistence, encoding) as internal.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	if c, ok := kind2http[e.Kind]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// Convert returns err as an *Error, wrapping unknown errors as internal so no
// raw error ever reaches a client.
func Convert(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// IsKind reports whether err is a typed error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
