// Package apierror defines the wire-level error taxonomy shared by every
// oauth/admin endpoint: a Code/Description pair that handlers translate into
// an HTTP status and a JSON {error, error_description} body in one place.
package apierror

import (
	"errors"
	"net/http"
)

// Error is a terminal, expected failure that should reach the client as
// structured JSON rather than a generic 500. Internal errors should instead
// be wrapped with fmt.Errorf and left as plain errors.
type Error struct {
	Code        string
	Description string

	// status overrides StatusFor(Code) when non-zero; set via
	// NewWithStatus for the rare call site where the same code must be
	// reported differently depending on context.
	status int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func New(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// NewWithStatus builds an Error that reports status instead of whatever
// StatusFor(code) would otherwise return.
func NewWithStatus(status int, code, description string) *Error {
	return &Error{Code: code, Description: description, status: status}
}

// Well-known codes from the client-authentication, device-flow, token-parse,
// storage and authorization-gate error families.
const (
	InvalidClient       = "invalid_client"
	InvalidGrant        = "invalid_grant"
	UnauthorizedClient  = "unauthorized_client"
	UnsupportedGrant    = "unsupported_grant_type"
	InvalidScope        = "invalid_scope"
	InvalidRequest      = "invalid_request"
	InvalidCredential   = "invalid_credential"
	AccessDenied        = "access_denied"
	ExpiredToken        = "expired_token"
	AuthorizationDeclined = "authorization_declined"
	AuthorizationPending  = "authorization_pending"
	SlowDown              = "slow_down"
	InvalidToken        = "invalid-token"
	Duplicate           = "duplicate"
	StorageError        = "storage-error"
	CryptoUnavailable   = "crypto-unavailable"
	MissingToken        = "missing-token"
	AccessDotDenied     = "access.denied"
	InvalidSubject      = "invalid-subject"
	WrongUserCode       = "wrong_user_code"
)

// statusFor maps each known code to the HTTP status it must be reported
// with. Codes not present here are treated as internal errors (500) by
// callers of StatusFor.
var statusFor = map[string]int{
	InvalidClient:         http.StatusUnauthorized,
	InvalidGrant:          http.StatusBadRequest,
	UnauthorizedClient:    http.StatusUnauthorized,
	UnsupportedGrant:      http.StatusBadRequest,
	InvalidScope:          http.StatusBadRequest,
	InvalidRequest:        http.StatusBadRequest,
	InvalidCredential:     http.StatusUnauthorized,
	AccessDenied:          http.StatusBadRequest,
	ExpiredToken:          http.StatusBadRequest,
	AuthorizationDeclined: http.StatusBadRequest,
	AuthorizationPending:  http.StatusBadRequest,
	SlowDown:              http.StatusBadRequest,
	InvalidToken:          http.StatusUnauthorized,
	Duplicate:             http.StatusConflict,
	StorageError:          http.StatusInternalServerError,
	CryptoUnavailable:     http.StatusServiceUnavailable,
	MissingToken:          http.StatusUnauthorized,
	AccessDotDenied:       http.StatusForbidden,
	InvalidSubject:        http.StatusBadRequest,
	WrongUserCode:         http.StatusForbidden,
}

// StatusFor returns the HTTP status code for a wire error code, defaulting
// to 500 for anything not in the known taxonomy.
func StatusFor(code string) int {
	if status, ok := statusFor[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// As reports whether err (or something it wraps) is an *Error, returning it
// if so.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// Status returns e's HTTP status: its override if NewWithStatus set one,
// otherwise StatusFor(e.Code).
func (e *Error) Status() int {
	if e.status != 0 {
		return e.status
	}
	return StatusFor(e.Code)
}
