package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is used when a key does not exist.
	RedisNotFoundMessage = "redis key not found"
	// DatabaseErrorMessage describes relational store failures.
	DatabaseErrorMessage = "database operation failed"
	// NotFoundMessage is used when a row does not exist.
	NotFoundMessage = "record not found"
	// LLMErrorMessage describes model provider failures.
	LLMErrorMessage = "language model call failed"
	// OracleErrorMessage describes birth chart calculator failures.
	OracleErrorMessage = "chart calculation failed"
)

var (
	// ErrNoMatch is returned by the router when any stage cannot pick a node.
	ErrNoMatch = errors.New("no taxonomy match")
	// ErrEmptyQuery is returned when the user question is blank.
	ErrEmptyQuery = errors.New("empty query")
	// ErrInvalidLevel is returned for taxonomy levels outside 1..4.
	ErrInvalidLevel = errors.New("invalid taxonomy level")
	// ErrMalformedOutput marks model output that could not be recovered into the expected shape.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrOracleUnavailable marks a calculator that returned no usable result.
	ErrOracleUnavailable = errors.New("oracle returned no result")
	// ErrOracleTimeout marks a calculator call that exceeded its deadline.
	ErrOracleTimeout = errors.New("oracle timed out")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// WrapLLM marks a provider failure.
func WrapLLM(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, LLMErrorMessage)
}

// WrapOracle marks a chart calculator failure.
func WrapOracle(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, OracleErrorMessage)
}
