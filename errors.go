package kuvert

import (
	"fmt"
	"net/http"
)

// ErrorCode is the stable classification carried by every rejected
// request.
type ErrorCode string

const (
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeValidation         ErrorCode = "validation_error"
	CodePayloadTooLarge    ErrorCode = "payload_too_large"
	CodeNotFound           ErrorCode = "not_found"
	CodeUpstream           ErrorCode = "upstream_error"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
	CodeForbidden          ErrorCode = "forbidden"
)

type Error struct {
	Code    ErrorCode         `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`

	// ProviderCode is set on upstream errors and preserves the
	// provider's own machine-readable code.
	ProviderCode string `json:"providerCode,omitempty"`

	// Retryable distinguishes transport-level upstream failures, which
	// the caller may retry, from provider-rejected payloads.
	Retryable bool `json:"retryable,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeNotFound:
		return http.StatusNotFound
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeUpstream:
		if e.Retryable {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

// Validation lists every violated field, not just the first.
func Validation(fields map[string]string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: "request validation failed",
		Fields:  fields,
	}
}

func PayloadTooLarge(message string) *Error {
	return &Error{Code: CodePayloadTooLarge, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func ServiceUnavailable(message string) *Error {
	return &Error{Code: CodeServiceUnavailable, Message: message}
}

func Upstream(providerCode, message string, retryable bool) *Error {
	return &Error{
		Code:         CodeUpstream,
		Message:      message,
		ProviderCode: providerCode,
		Retryable:    retryable,
	}
}
