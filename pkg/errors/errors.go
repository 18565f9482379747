// Package errors defines the service error vocabulary: coded errors that
// carry an HTTP status and render uniformly in handler responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = New("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = New("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrUnauthorized       = New("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrConflict           = New("CONFLICT", "resource conflict", http.StatusConflict)
	ErrServiceUnavailable = New("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrInternal           = New("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

// Error is a coded application error. The sentinel values above are
// templates; decorate a copy with WithCause or WithDetail rather than
// mutating them.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
}

func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithCause returns a copy carrying the underlying error.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.Cause = cause
	return &clone
}

// WithDetail returns a copy with one detail field set. A "message"
// detail overrides the template message in Error() and responses.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

func hasCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool { return hasCode(err, ErrNotFound.Code) }

func IsConflict(err error) bool { return hasCode(err, ErrConflict.Code) }

// ToHTTPStatus maps an error to the status a handler should answer
// with. Unknown errors are treated as internal.
func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ToErrorResponse builds the JSON body for an error response. The
// cause is deliberately omitted so internals never leak to callers.
func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	body := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}
	if detail, ok := appErr.Details["message"].(string); ok && detail != "" {
		body["error"] = detail
	}
	return body
}
