package service

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries the HTTP mapping of a service failure.
type AppError struct {
	HTTPStatus int
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(status int, code, msg string, retryable bool, cause error) *AppError {
	return &AppError{
		HTTPStatus: status,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Cause:      cause,
	}
}

func IsCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

func BadRequest(msg string, cause error) *AppError {
	return NewAppError(http.StatusBadRequest, "BAD_REQUEST", msg, false, cause)
}

func NotFound(code, msg string) *AppError {
	return NewAppError(http.StatusNotFound, code, msg, false, nil)
}

func Conflict(code, msg string, cause error) *AppError {
	return NewAppError(http.StatusConflict, code, msg, false, cause)
}

func Internal(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, "INTERNAL_ERROR", msg, true, cause)
}
