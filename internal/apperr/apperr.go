// Package apperr defines the error taxonomy shared by the service and
// transport layers: authentication, authorization-flow, client-registration,
// domain and infrastructure errors, each carrying a machine code and an HTTP
// status so boundaries can map them without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by the boundary that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthentication covers missing, malformed or invalid bearer
	// credentials. Always rejected before business logic runs.
	KindAuthentication
	// KindFlow covers OAuth authorization-flow failures: bad CSRF state,
	// failed code exchange, failed identity verification, missing claims.
	KindFlow
	// KindRegistration covers dynamic-client registration and credential
	// validation failures.
	KindRegistration
	// KindDomain covers business-rule failures (not found, validation).
	// The tool-dispatch boundary renders these as data, not as transport
	// errors.
	KindDomain
	// KindInfrastructure covers store or cipher failures. Logged with full
	// context, surfaced to callers as a generic internal error.
	KindInfrastructure
)

// Error is the concrete error type carried across layer boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Authentication builds a 401 error. The message is client-visible.
func Authentication(message string) *Error {
	return &Error{
		Kind:    KindAuthentication,
		Code:    "invalid_token",
		Status:  http.StatusUnauthorized,
		Message: message,
	}
}

// Flow builds an authorization-flow error with a provider-style error code.
func Flow(code, message string) *Error {
	return &Error{
		Kind:    KindFlow,
		Code:    code,
		Status:  http.StatusBadRequest,
		Message: message,
	}
}

// FlowStatus is Flow with an explicit HTTP status for the cases where the
// reference behavior deviates from 400 (e.g. refresh against a missing
// session is a 404).
func FlowStatus(status int, code, message string) *Error {
	e := Flow(code, message)
	e.Status = status
	return e
}

// Registration builds a client-registration error.
func Registration(status int, message string) *Error {
	return &Error{
		Kind:    KindRegistration,
		Code:    "invalid_client_metadata",
		Status:  status,
		Message: message,
	}
}

// NotFound builds a domain not-found error. Cross-user access deliberately
// surfaces as this, never as a permission error.
func NotFound(message string) *Error {
	return &Error{
		Kind:    KindDomain,
		Code:    "NOT_FOUND",
		Status:  http.StatusNotFound,
		Message: message,
	}
}

// Validation builds a domain validation error.
func Validation(message string) *Error {
	return &Error{
		Kind:    KindDomain,
		Code:    "VALIDATION_ERROR",
		Status:  http.StatusBadRequest,
		Message: message,
	}
}

// Domain builds a domain error with a caller-chosen machine code, used by
// tool handlers for their per-operation failure codes.
func Domain(code, message string) *Error {
	return &Error{
		Kind:    KindDomain,
		Code:    code,
		Status:  http.StatusBadRequest,
		Message: message,
	}
}

// Infrastructure wraps a low-level failure. The message may be logged but
// must not leak internals to clients; transport layers render a generic body.
func Infrastructure(err error, message string) *Error {
	return &Error{
		Kind:    KindInfrastructure,
		Code:    "internal_error",
		Status:  http.StatusInternalServerError,
		Message: message,
		Err:     err,
	}
}

// As unwraps err to an *Error if one is in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf reports the HTTP status for err, defaulting to 500 for foreign
// errors so unclassified failures never leak as client errors.
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf reports the machine code for err, or "internal_error".
func CodeOf(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}
