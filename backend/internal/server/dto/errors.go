// Package dto holds the JSON shapes of the HTTP API: requests bound from
// path, query and body, responses with RFC 3339 timestamps, and the error
// body with its stable codes.
//
// dto does not import entity; handlers convert between the two.
package dto

import (
	"fmt"
	"net/http"
)

// ErrorCode is the machine readable part of an error body.
type ErrorCode string

const (
	// ErrorCodeValidationFailed is returned when input data fails validation.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required field is missing.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeInvalidFormat is returned when a field has an invalid format.
	ErrorCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	// ErrorCodePayloadTooLarge is returned when the body exceeds the limit.
	ErrorCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrorCodeNotFound is returned when a resource is not found.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeInvitationNotFound is returned for unknown share codes and
	// invitation ids.
	ErrorCodeInvitationNotFound ErrorCode = "INVITATION_NOT_FOUND"
	// ErrorCodeInvalidState is returned when the invitation is no longer
	// pending.
	ErrorCodeInvalidState ErrorCode = "INVALID_STATE"
	// ErrorCodeExpired is returned when a share code expired.
	ErrorCodeExpired ErrorCode = "EXPIRED"
	// ErrorCodeAlreadyMember is returned when the redeemer is on the list.
	ErrorCodeAlreadyMember ErrorCode = "ALREADY_MEMBER"
	// ErrorCodeCapacityExceeded is returned when the list is full.
	ErrorCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	// ErrorCodeSharingDisabled is returned when the list disallows sharing.
	ErrorCodeSharingDisabled ErrorCode = "SHARING_DISABLED"
	// ErrorCodeSoleOwner is returned when removing the last owner.
	ErrorCodeSoleOwner ErrorCode = "SOLE_OWNER"

	// ErrorCodeStoreUnavailable is returned when the document store fails.
	ErrorCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrorCodeInternal is returned when an unexpected server error occurs.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeUnauthorized is returned when authentication is missing or invalid.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeForbidden is returned when a user has insufficient permissions.
	ErrorCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrorCodeRateLimitExceeded is returned with 429.
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// ErrorDetails is the "error" object of an error body.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is what the server writes as an error body. Anything else
// becomes a 500.
type ErrorWithStatus interface {
	error
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError implements ErrorWithStatus. The builder methods mutate and return
// the receiver.
type APIError struct {
	status  int
	code    ErrorCode
	msg     string
	details map[string]any
	cause   error
}

// NewAPIError returns an error answered with status and code.
func NewAPIError(status int, code ErrorCode, msg string) *APIError {
	return &APIError{status: status, code: code, msg: msg}
}

// WithDetails merges d into the details.
func (e *APIError) WithDetails(d map[string]any) *APIError {
	for k, v := range d {
		e.WithDetail(k, v)
	}
	return e
}

// WithDetail sets one detail.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = map[string]any{}
	}
	e.details[key] = value
	return e
}

// Wrap records the cause. It is logged, never sent to the client.
func (e *APIError) Wrap(err error) *APIError {
	e.cause = err
	return e
}

func (e *APIError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.cause)
}

// StatusCode implements ErrorWithStatus.
func (e *APIError) StatusCode() int { return e.status }

// Code implements ErrorWithStatus.
func (e *APIError) Code() ErrorCode { return e.code }

// Details implements ErrorWithStatus.
func (e *APIError) Details() map[string]any { return e.details }

func (e *APIError) Unwrap() error { return e.cause }

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, resource+" not found")
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField creates a 400 Bad Request error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, "missing required field: "+fieldName).
		WithDetail("field", fieldName)
}

// InvalidField creates a 400 Bad Request error for a malformed field.
func InvalidField(fieldName, reason string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeInvalidFormat, fieldName+": "+reason).
		WithDetail("field", fieldName)
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *APIError {
	return NewAPIError(http.StatusForbidden, ErrorCodeForbidden, message)
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeUnauthorized, "unauthorized")
}

// Internal creates a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

// PayloadTooLarge creates a 413 error.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "request body too large").
		WithDetail("limit", limit)
}

// RateLimitExceeded creates a 429 error.
func RateLimitExceeded(retryAfter int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimitExceeded, "rate limit exceeded").
		WithDetail("retry_after", retryAfter)
}
