package fetcher

import (
	"log/slog"
	"net/http"
	"time"

	"resty.dev/v3"
)

const (
	// A throttled call gets one more attempt after a short pause; anything else fails fast.
	defaultRetryCount    = 1
	defaultRetryWaitTime = 500 * time.Millisecond
	defaultTimeout       = 10 * time.Second
)

// ClientOptions tunes the shared HTTP client.
type ClientOptions struct {
	// Timeout bounds each attempt. A retried request may take up to twice as long.
	Timeout time.Duration
	// RetryWait is the pause before retrying a rate-limited request.
	RetryWait time.Duration
}

// NewHTTPClient creates a new HTTP client that retries rate-limited requests once
func NewHTTPClient(baseURL string, opts ClientOptions) *resty.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWaitTime
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(defaultRetryCount).
		SetRetryDefaultConditions(false).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(2 * opts.RetryWait).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook)

	return client
}

// retryCondition retries only throttled responses
func retryCondition(r *resty.Response, err error) bool {
	if err != nil || r == nil {
		return false
	}
	return r.StatusCode() == http.StatusTooManyRequests
}

// retryHook logs retry attempts for observability
func retryHook(r *resty.Response, err error) {
	if err != nil {
		slog.Debug("retrying request due to error",
			"url", r.Request.URL,
			"attempt", r.Request.Attempt,
			"error", err.Error())
		return
	}

	slog.Debug("retrying throttled request",
		"url", r.Request.URL,
		"attempt", r.Request.Attempt,
		"status_code", r.StatusCode())
}
