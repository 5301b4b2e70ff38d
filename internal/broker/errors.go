package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a broker call failure. StatusCode is the HTTP status the
// broker returned, or 0 for transport-level (network) failures. The gateway
// wraps every SDK error into one of these at the boundary so the rest of the
// core can classify failures without knowing the SDK.
type APIError struct {
	Op         string // operation that failed, e.g. "submit_order(AAPL)"
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: broker returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: network error: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// StatusOf extracts the HTTP status from err, or 0 if err is not an APIError
// or carries no status (network failure).
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports an authentication failure (401). Fatal; never retried.
func IsUnauthorized(err error) bool { return StatusOf(err) == http.StatusUnauthorized }

// IsForbidden reports a permissions failure (403). Fatal; never retried.
func IsForbidden(err error) bool { return StatusOf(err) == http.StatusForbidden }

// IsNotFound reports a 404. Often an expected "none" result (no open
// position), handled by the gateway rather than surfaced as an error.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }

// IsRateLimited reports a 429. Retried after the broker's rate-limit window.
func IsRateLimited(err error) bool { return StatusOf(err) == http.StatusTooManyRequests }

// Retryable reports whether a failed call may be attempted again:
// 429, any 5xx, and network errors (no status). Every other 4xx is a client
// error that will not get better by repeating it.
func Retryable(err error) bool {
	status := StatusOf(err)
	switch {
	case status == 0:
		return true // network error or unclassified failure
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500 && status < 600:
		return true
	default:
		return false
	}
}
