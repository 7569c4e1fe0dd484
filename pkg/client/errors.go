package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a fetch or retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassHTTP represents a non-2xx status other than 403.
	ErrorClassHTTP ErrorClass = "http"

	// ErrorClassDecode represents a body that is not the expected JSON shape.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassLinkHeader represents an unparseable Link header.
	ErrorClassLinkHeader ErrorClass = "link_header"

	// ErrorClassNetwork represents transport level failures.
	ErrorClassNetwork ErrorClass = "network"
)

// SearchError is a classified fetch failure.
type SearchError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("search %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SearchError) Unwrap() error {
	return e.Err
}

func decodeError(status int, format string, args ...any) *SearchError {
	return &SearchError{
		StatusCode: status,
		ErrorClass: ErrorClassDecode,
		Message:    fmt.Sprintf(format, args...),
	}
}

// ClassOf returns the ErrorClass carried by err. Errors that are not a
// SearchError are treated as network errors.
func ClassOf(err error) ErrorClass {
	var se *SearchError
	if errors.As(err, &se) {
		return se.ErrorClass
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error class consumes the retry budget.
// Malformed payloads are retried only when retryMalformed is set.
func shouldRetry(errorClass ErrorClass, retryMalformed bool) bool {
	switch errorClass {
	case ErrorClassHTTP, ErrorClassNetwork:
		return true
	case ErrorClassDecode, ErrorClassLinkHeader:
		return retryMalformed
	default:
		return false
	}
}
