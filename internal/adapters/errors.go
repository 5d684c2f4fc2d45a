package adapters

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotFound marks a remote 404 for an id we expected to exist. It is
// never retried; the engine uses it to drive stale-mapping deletion.
var ErrNotFound = errors.New("remote entity not found")

// RemoteError is a non-2xx response from a platform API, kept with enough
// of the body to diagnose validation failures.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote API returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the response status is worth retrying on a
// later pass: rate limits, server errors, and request timeouts.
func (e *RemoteError) Transient() bool {
	switch {
	case e.StatusCode == 429:
		return true
	case e.StatusCode == 408:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsNotFound reports whether err is a not-found probe result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err should be treated as a transient remote
// failure: retryable HTTP statuses, timeouts, and connection-level errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"temporary failure",
		"EOF",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}

// IsPermanent reports whether err is a non-retryable remote rejection
// (4xx other than 404/408/429, e.g. validation failures).
func IsPermanent(err error) bool {
	if err == nil || IsNotFound(err) {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return !remote.Transient()
	}
	return false
}
