package domain

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError means the user supplied unusable criteria. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError means no pipeline matched the criteria. Never retried.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

type APIErrorKind int

const (
	// ErrTransient covers network failures, timeouts and 5xx responses.
	ErrTransient APIErrorKind = iota
	// ErrUnauthorized means the credentials were rejected.
	ErrUnauthorized
	// ErrNotFound means the repository or pipeline does not exist.
	ErrNotFound
	// ErrRateLimited means the service asked us to slow down.
	ErrRateLimited
)

func (k APIErrorKind) String() string {
	switch k {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrNotFound:
		return "not found"
	case ErrRateLimited:
		return "rate limited"
	default:
		return "transient"
	}
}

// APIError is a classified failure from the CI service. The kind drives the
// engine's backoff policy.
type APIError struct {
	Kind       APIErrorKind
	StatusCode int
	// RetryAfter is the service-requested delay for ErrRateLimited, zero
	// otherwise.
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bitbucket: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("bitbucket: %s (http %d)", e.Kind, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the engine may keep polling after this error.
func Retryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind == ErrTransient || ae.Kind == ErrRateLimited
	}
	return false
}

// RetryAfter extracts the service-requested delay, zero when absent.
func RetryAfter(err error) time.Duration {
	var ae *APIError
	if errors.As(err, &ae) && ae.Kind == ErrRateLimited {
		return ae.RetryAfter
	}
	return 0
}
