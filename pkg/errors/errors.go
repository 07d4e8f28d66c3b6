package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSchema           = errors.New("schema error")
	ErrKeyDerivation    = errors.New("key derivation failed")
	ErrMalformedLogLine = errors.New("malformed log line")
	ErrStoreUnavailable = errors.New("object store unavailable")
	ErrFeedUnavailable  = errors.New("feed unavailable")
	ErrTriggerFailed    = errors.New("downstream trigger failed")
	ErrCycleInProgress  = errors.New("ingestion cycle already in progress for feed")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSchema):
		return http.StatusBadRequest
	case errors.Is(err, ErrFeedUnavailable), errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
