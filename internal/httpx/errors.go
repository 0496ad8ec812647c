package httpx

import (
	"fmt"
	"net/http"
)

// FetchError reports a failed provider call after retries were exhausted or skipped.
type FetchError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	// URL is already redacted.
	URL      string
	Attempts int
	// Body holds a truncated prefix of the error response.
	Body      string
	Err       error
	retryable bool
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the final failure was of a retryable class.
func (e *FetchError) Retryable() bool { return e.retryable }

// IsQuota reports a rate-limit or quota rejection.
func (e *FetchError) IsQuota() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusForbidden
}
