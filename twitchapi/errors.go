package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/onnwee/clip-tender/capture"
)

// ErrorClass represents whether an error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the call should be retried on the next pass.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates retrying will not help.
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// HTTPError is a non-2xx Helix or token endpoint response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("twitch api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// ErrUserNotFound is returned when a login does not resolve to a Twitch user.
var ErrUserNotFound = errors.New("user not found")

// ClassifyError sorts Helix failures into retryable and fatal.
//
// Retryable: network errors, timeouts, 401 (the app token has been invalidated and is
// fetched again on the next call), 429 and 5xx responses.
// Fatal: other 4xx responses, unknown users, malformed input.
// Anything else is unknown and treated as retryable by callers.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, ErrUserNotFound) {
		return ErrorClassFatal
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == http.StatusUnauthorized,
			he.StatusCode == http.StatusTooManyRequests,
			he.StatusCode >= 500:
			return ErrorClassRetryable
		case he.StatusCode >= 400:
			return ErrorClassFatal
		}
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		if re.Response.StatusCode == http.StatusTooManyRequests || re.Response.StatusCode >= 500 {
			return ErrorClassRetryable
		}
		return ErrorClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"timeout",
		"no such host",
		"eof",
		"broken pipe",
	} {
		if strings.Contains(lower, pattern) {
			return ErrorClassRetryable
		}
	}
	return ErrorClassUnknown
}

// IsRetryableError reports whether err should be retried on a later pass.
func IsRetryableError(err error) bool {
	c := ClassifyError(err)
	return c == ErrorClassRetryable || c == ErrorClassUnknown
}

// asTransient wraps retryable failures as capture.TransientError so callers defer rather than fail.
func asTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRetryableError(err) {
		return capture.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func classifyTokenError(err error) error {
	return asTransient("twitch token", err)
}
