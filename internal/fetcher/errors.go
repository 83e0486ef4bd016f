// Package fetcher holds the pieces shared by every upstream client: the
// error taxonomy, response classification and the resty client factory.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"resty.dev/v3"

	"coinscanner/internal/ratelimit"
)

// ErrorType represents the category of error that occurred during an upstream call
type ErrorType string

const (
	// ErrorTypeUnavailable covers network, DNS and timeout failures as well as 5xx responses
	ErrorTypeUnavailable ErrorType = "upstream_unavailable"
	// ErrorTypeRateLimited indicates the upstream throttled the request (HTTP 429)
	ErrorTypeRateLimited ErrorType = "upstream_rate_limited"
	// ErrorTypeBadResponse indicates the payload was malformed or the request was rejected
	ErrorTypeBadResponse ErrorType = "upstream_bad_response"
	// ErrorTypeCredentialMissing indicates a required API key was not configured
	ErrorTypeCredentialMissing ErrorType = "credential_missing"
	// ErrorTypeCredentialRejected indicates the upstream refused the configured key (HTTP 401/403)
	ErrorTypeCredentialRejected ErrorType = "credential_rejected"
)

// Sentinels for errors.Is matching on the error kind.
var (
	ErrUnavailable        = &FetchError{Type: ErrorTypeUnavailable}
	ErrRateLimited        = &FetchError{Type: ErrorTypeRateLimited}
	ErrBadResponse        = &FetchError{Type: ErrorTypeBadResponse}
	ErrCredentialMissing  = &FetchError{Type: ErrorTypeCredentialMissing}
	ErrCredentialRejected = &FetchError{Type: ErrorTypeCredentialRejected}
)

// ErrNoMatch is the expected negative result of a lookup: the pair is not
// listed or the search returned nothing. It is not a failure.
var ErrNoMatch = errors.New("no match")

// FetchError represents a structured error from an upstream call
type FetchError struct {
	Type       ErrorType
	Source     string
	Retryable  bool
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	prefix := string(e.Type)
	if e.Source != "" {
		prefix = e.Source + ": " + prefix
	}
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", prefix, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a FetchError of the same type.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// NewNetworkError creates an unavailable error for a transport failure
func NewNetworkError(source string, cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeUnavailable,
		Source:    source,
		Retryable: true,
		Message:   "network request failed",
		Cause:     cause,
	}
}

// NewTimeoutError creates an unavailable error for a request that ran out of time
func NewTimeoutError(source string, cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeUnavailable,
		Source:    source,
		Retryable: true,
		Message:   "request timed out",
		Cause:     cause,
	}
}

// NewServerError creates an unavailable error for a 5xx response
func NewServerError(source string, statusCode int) *FetchError {
	return &FetchError{
		Type:       ErrorTypeUnavailable,
		Source:     source,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    "server returned an error",
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(source string, statusCode int, message string) *FetchError {
	return &FetchError{
		Type:       ErrorTypeRateLimited,
		Source:     source,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewBadResponseError creates a bad response error
func NewBadResponseError(source string, statusCode int, message string, cause error) *FetchError {
	return &FetchError{
		Type:       ErrorTypeBadResponse,
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewCredentialMissingError creates an error for an absent API key
func NewCredentialMissingError(source string) *FetchError {
	return &FetchError{
		Type:    ErrorTypeCredentialMissing,
		Source:  source,
		Message: "api key not configured",
	}
}

// NewCredentialRejectedError creates an error for a key the upstream refused
func NewCredentialRejectedError(source string, statusCode int) *FetchError {
	return &FetchError{
		Type:       ErrorTypeCredentialRejected,
		Source:     source,
		StatusCode: statusCode,
		Message:    "credential rejected",
	}
}

// ClassifyHTTPError classifies an HTTP status code into an appropriate FetchError
func ClassifyHTTPError(source string, statusCode int) *FetchError {
	switch {
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		// Binance answers 418 once an IP is banned for ignoring 429s.
		return NewRateLimitError(source, statusCode, "rate limit exceeded")
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewCredentialRejectedError(source, statusCode)
	case statusCode >= 500:
		return NewServerError(source, statusCode)
	case statusCode >= 400:
		return NewBadResponseError(source, statusCode, fmt.Sprintf("client error: HTTP %d", statusCode), nil)
	default:
		return NewBadResponseError(source, statusCode, fmt.Sprintf("unexpected status code: %d", statusCode), nil)
	}
}

// Classify turns the outcome of a resty call into nil or a FetchError.
func Classify(source string, resp *resty.Response, err error) error {
	if err != nil {
		switch {
		case isTimeout(err):
			return NewTimeoutError(source, err)
		case resp != nil && resp.IsSuccess():
			// The body arrived but could not be decoded.
			return NewBadResponseError(source, resp.StatusCode(), "malformed payload", err)
		case resp != nil && resp.StatusCode() >= 400:
			return ClassifyHTTPError(source, resp.StatusCode())
		default:
			return NewNetworkError(source, err)
		}
	}
	if resp == nil {
		return NewNetworkError(source, errors.New("no response"))
	}
	if !resp.IsSuccess() {
		return ClassifyHTTPError(source, resp.StatusCode())
	}
	return nil
}

// WaitError converts a failed rate limiter wait into a FetchError.
func WaitError(source string, err error) error {
	switch {
	case errors.Is(err, ratelimit.ErrWaitExceeded):
		return NewRateLimitError(source, 0, "local rate limit budget exhausted")
	case isTimeout(err):
		return NewTimeoutError(source, err)
	default:
		return NewNetworkError(source, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
