package http

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in AppError.Code.
const (
	CodeBadRequest      = "ERR_BAD_REQUEST"
	CodeInvalidBlock    = "ERR_INVALID_BLOCK"
	CodeNotFound        = "ERR_NOT_FOUND"
	CodeConflict        = "ERR_CONFLICT"
	CodeOutOfOrder      = "ERR_OUT_OF_ORDER"
	CodeSessionHalted   = "ERR_SESSION_HALTED"
	CodeTooManyRequests = "ERR_TOO_MANY_REQUESTS"
	CodeUnavailable     = "ERR_UNAVAILABLE"
	CodeInternal        = "ERR_INTERNAL"
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// ErrorRule maps a sentinel to the AppError a handler answers with. An
// empty Message reuses the error text.
type ErrorRule struct {
	Target  error
	Code    string
	Status  int
	Field   string
	Message string
}

// MapError returns err itself when it already is an AppError, otherwise the
// first rule whose Target matches via errors.Is. Unmatched errors become 500.
func MapError(err error, rules []ErrorRule) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, r := range rules {
		if !errors.Is(err, r.Target) {
			continue
		}
		msg := r.Message
		if msg == "" {
			msg = err.Error()
		}
		return NewAppError(r.Code, r.Field, msg, r.Status).WithError(err)
	}
	return InternalError("internal error").WithError(err)
}

func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, "", message, http.StatusNotFound)
}

func BadRequestError(message string) *AppError {
	return NewAppError(CodeBadRequest, "", message, http.StatusBadRequest)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError(CodeTooManyRequests, "", message, http.StatusTooManyRequests)
}

func UnavailableError(message string) *AppError {
	return NewAppError(CodeUnavailable, "", message, http.StatusServiceUnavailable)
}

func InternalError(message string) *AppError {
	return NewAppError(CodeInternal, "", message, http.StatusInternalServerError)
}
