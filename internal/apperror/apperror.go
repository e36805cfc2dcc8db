// Package apperror defines the error taxonomy shared by every layer of the daemon.
//
// ERROR KINDS:
// Each kind is a sentinel error. Callers wrap one in an *AppError and the
// receiving side classifies it with errors.Is:
//
//	ErrTransient     timeout, 5xx, connection reset        → retried with backoff
//	ErrRateLimited   429 / remote quota / local budget      → retried after RetryAfter
//	ErrQuotaExceeded local storage full after cleanup       → fails loudly
//	ErrConflict      optimistic-concurrency mismatch        → retried as transient
//	ErrUnauthorized  expired / invalid / denied credential  → terminal
//	ErrValidation    malformed input, rejected before I/O   → terminal
//	ErrOffline       no network                             → terminal, never retried
//	ErrNotFound      missing record or remote object        → terminal
package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTransient     = errors.New("transient network error")
	ErrRateLimited   = errors.New("rate limited")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrOffline       = errors.New("offline")
)

type AppError struct {
	Err        error         // sentinel kind
	Message    string        // Human-readable error message
	Field      string        // Optional: field causing the error
	RetryAfter time.Duration // Optional: mandated wait before the next attempt
	Cause      error         // Optional: underlying error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Unauthorized reports a credential the remote refused. It is never retried;
// the user has to authorize again.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func Transient(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrTransient,
		Message: message,
		Cause:   cause,
	}
}

// RateLimited carries the wait the caller must honor before trying again.
func RateLimited(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Err:        ErrRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

func QuotaExceeded(used, quota int64) *AppError {
	return &AppError{
		Err:     ErrQuotaExceeded,
		Message: fmt.Sprintf("storage quota exceeded: %d of %d bytes in use", used, quota),
	}
}

func Offline(message string) *AppError {
	return &AppError{
		Err:     ErrOffline,
		Message: message,
	}
}

// IsRetryable reports whether err belongs to a kind that a backoff loop may retry.
// Rate limits are excluded: they carry their own mandated delay.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOffline) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrValidation) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}

// RetryAfterOf returns the mandated wait carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		return appErr.RetryAfter, true
	}
	return 0, false
}
