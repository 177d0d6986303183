package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yifei-he/WebSTAR/internal/retry"
)

var (
	ErrRateLimited   = errors.New("rate limited")
	ErrServer        = errors.New("server error")
	ErrBadRequest    = errors.New("request rejected")
	ErrNetwork       = errors.New("network failure")
	ErrEmptyResponse = errors.New("empty response")
)

// ServiceError is a failed model call. It matches exactly one of the
// sentinels above with errors.Is.
type ServiceError struct {
	Provider   string
	StatusCode int
	Err        error
	kind       error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() []error {
	return []error{e.kind, e.Err}
}

// Retryable reports whether the call may succeed if repeated.
func (e *ServiceError) Retryable() bool {
	return !errors.Is(e.kind, ErrBadRequest)
}

// kindForStatus maps an HTTP status to a sentinel. Zero means the request
// never got a response.
func kindForStatus(code int) error {
	switch {
	case code == 0:
		return ErrNetwork
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// NewServiceError classifies err by the HTTP status code the call returned.
func NewServiceError(provider string, code int, err error) *ServiceError {
	return &ServiceError{Provider: provider, StatusCode: code, Err: err, kind: kindForStatus(code)}
}

// Classify is the retry classifier for provider errors: rate limits,
// server errors, network failures and empty replies are transient; rejected
// requests and cancellations are fatal. Unrecognised errors are retried.
func Classify(err error) retry.Class {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrBadRequest):
		return retry.Fatal
	default:
		return retry.Transient
	}
}
