// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed errors for hubnet components.
//
// Search never fails with an error: every failure inside a traversal degrades
// to a NotFound branch. The types here are used at the edges (registry
// mutations, HTTP handlers, transports) where callers need to distinguish
// causes.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies hubnet errors for logging and HTTP mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a record or resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a record with the same identity exists.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeTransport indicates a peer could not be reached.
	CodeTransport ErrorCode = "TRANSPORT_ERROR"

	// CodeProtocol indicates a peer answered with a malformed reply.
	CodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// CodeMatcher indicates the capability matcher failed or returned garbage.
	CodeMatcher ErrorCode = "MATCHER_ERROR"

	// CodeStore indicates the registry backend failed.
	CodeStore ErrorCode = "STORE_ERROR"

	// CodeUnauthorized indicates the caller is not admitted.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// HubnetError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type HubnetError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *HubnetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *HubnetError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *HubnetError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new HubnetError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *HubnetError {
	return &HubnetError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: defaultRecoverable(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
func (e *HubnetError) WithContext(key string, value interface{}) *HubnetError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
func (e *HubnetError) WithRecoverable(recoverable bool) *HubnetError {
	e.Recoverable = recoverable
	return e
}

// As returns the first HubnetError in err's chain, if any.
func As(err error) (*HubnetError, bool) {
	var he *HubnetError
	if stderrors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// Wrap converts any error to a HubnetError, keeping existing ones untouched.
func Wrap(err error) *HubnetError {
	if err == nil {
		return nil
	}
	if he, ok := As(err); ok {
		return he
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if he, ok := As(err); ok {
		return he.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err is marked as retryable.
func IsRecoverable(err error) bool {
	if he, ok := As(err); ok {
		return he.Recoverable
	}
	return false
}

func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeTimeout, CodeTransport:
		return true
	default:
		return false
	}
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeTransport, CodeProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
