package btcpay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies BTCPay failures into the closed taxonomy callers
// branch on. Callers distinguish by kind, never by raw status code.
type ErrorKind string

const (
	// KindAuth covers 401 and 403 responses.
	KindAuth ErrorKind = "auth"
	// KindNotFound covers 404 responses.
	KindNotFound ErrorKind = "not_found"
	// KindValidation covers 422 responses.
	KindValidation ErrorKind = "validation"
	// KindServer covers 5xx responses (retryable).
	KindServer ErrorKind = "server"
	// KindConnection covers network and DNS failures (retryable).
	KindConnection ErrorKind = "connection"
	// KindTimeout covers request timeouts (retryable).
	KindTimeout ErrorKind = "timeout"
	// KindGeneric covers remaining 4xx responses.
	KindGeneric ErrorKind = "error"
)

// Error is the error type for all BTCPay operations.
type Error struct {
	Kind       ErrorKind
	StatusCode int // 0 for transport-level failures
	Message    string
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("btcpay: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("btcpay: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a BTCPay error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsError checks if an error is (or wraps) a BTCPay error
func IsError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}

// IsAuthError checks for an authentication/authorization failure
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuth
}

// IsNotFoundError checks for a 404 failure
func IsNotFoundError(err error) bool {
	return KindOf(err) == KindNotFound
}

// statusKind maps an HTTP status code to an error kind.
func statusKind(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 422:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindGeneric
	}
}
