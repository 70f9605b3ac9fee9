package client

import (
	"errors"
	"fmt"

	"github.com/goodtune/duet/internal/identity"
	"github.com/goodtune/duet/internal/storage"
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the API error code back to the sentinel the server classified,
// so callers can use errors.Is(err, storage.ErrQuotaExceeded) and friends.
func (e *HTTPError) Unwrap() error {
	switch e.Code {
	case "unauthenticated":
		return identity.ErrUnauthenticated
	case "forbidden":
		return identity.ErrForbidden
	case "quota_exceeded":
		return storage.ErrQuotaExceeded
	case "not_found":
		return storage.ErrNotFound
	case "not_ready":
		return storage.ErrNotReady
	case "conflict":
		return storage.ErrAlreadyExists
	}
	return nil
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}
