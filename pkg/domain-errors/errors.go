// Package domainerrors defines the coded, request-scoped errors services
// return to transport layers. Stores never use these directly; they return
// sentinel errors which services translate.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeBadRequest  Code = "bad_request"
	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "service_unavailable"
	CodeInternal    Code = "internal_error"
)

// Error pairs a code with a human-readable message. The code drives the HTTP
// status and the error envelope; the message is safe to show callers except
// for internal errors.
type Error struct {
	Code    Code
	Message string
}

func (e Error) Error() string { return e.Message }

// New builds a coded error.
func New(code Code, message string) Error {
	return Error{Code: code, Message: message}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var de Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// ToHTTPStatus maps an error code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
