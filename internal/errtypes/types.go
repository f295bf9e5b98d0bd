// Package errtypes classifies fetch and store errors as transient (retryable)
// or permanent (terminal), the split the rest of the crawl core drives its
// retry and task-state decisions from.
package errtypes

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientFetchError marks a fetch failure the Retry Policy should retry:
// timeouts, 5xx responses, connection resets, navigation timeouts.
type TransientFetchError struct {
	Err error
}

func (e *TransientFetchError) Error() string {
	if e.Err == nil {
		return "transient fetch error"
	}
	return "transient fetch error: " + e.Err.Error()
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// NewTransient wraps err as a TransientFetchError.
func NewTransient(err error) *TransientFetchError {
	return &TransientFetchError{Err: err}
}

// FetchError marks a fetch failure that should not be retried: 4xx (other
// than 429), invalid URL shape, or an explicit non-fetchable marker such as
// "download starting" from a browser fetch.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return "permanent fetch error"
	}
	return "permanent fetch error: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewPermanent wraps err as a FetchError.
func NewPermanent(err error) *FetchError {
	return &FetchError{Err: err}
}

// IsTransient reports whether err should be retried under the Retry Policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientFetchError
	if errors.As(err, &transient) {
		return true
	}

	var permanent *FetchError
	if errors.As(err, &permanent) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	if code := extractHTTPStatusCode(err); code > 0 {
		return isTransientHTTPStatus(code)
	}

	if isSyscallError(err) {
		return true
	}

	return false
}

// IsPermanent reports whether err is terminal and should not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanent *FetchError
	if errors.As(err, &permanent) {
		return true
	}

	var transient *TransientFetchError
	if errors.As(err, &transient) {
		return false
	}

	if code := extractHTTPStatusCode(err); code > 0 {
		return isPermanentHTTPStatus(code)
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"download starting",
		"invalid url",
		"not found",
		"forbidden",
		"unauthorized",
		"bad request",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.Temporary()
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
		"network",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isPermanentHTTPStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// HTTPStatusError carries the numeric status code straight through, so
// extractHTTPStatusCode never has to pattern-match error text for it.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return "http status " + httpStatusText(e.StatusCode) + " for " + e.URL
}

func httpStatusText(code int) string {
	return http.StatusText(code)
}

func extractHTTPStatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
