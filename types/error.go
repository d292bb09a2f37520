package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request / transport error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrNotFound           ErrorCode = "NOT_FOUND"
)

// Workflow error codes
const (
	// ErrTransientFailure 基础设施瞬时故障（checkpoint 写入、检索、生成），可重试
	ErrTransientFailure ErrorCode = "TRANSIENT_FAILURE"
	// ErrStaleResume 恢复请求没有匹配的待审批请求
	ErrStaleResume         ErrorCode = "STALE_RESUME"
	ErrInvalidDecision     ErrorCode = "INVALID_DECISION"
	ErrRunNotFound         ErrorCode = "RUN_NOT_FOUND"
	ErrRunBusy             ErrorCode = "RUN_BUSY"
	ErrRunAborted          ErrorCode = "RUN_ABORTED"
	ErrUnknownWorkflow     ErrorCode = "UNKNOWN_WORKFLOW"
	ErrClarificationNeeded ErrorCode = "CLARIFICATION_NEEDED"
	ErrStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	RunID      string    `json:"run_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRunID attaches the workflow run the error belongs to.
func (e *Error) WithRunID(runID string) *Error {
	e.RunID = runID
	return e
}

// Transient wraps cause as a retryable TRANSIENT_FAILURE error.
func Transient(message string, cause error) *Error {
	return NewError(ErrTransientFailure, message).WithCause(cause).WithRetryable(true)
}

// AsError extracts a *Error from anywhere in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
