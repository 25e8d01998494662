package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotAuthenticated is returned when a call needs a token and none is set.
var ErrNotAuthenticated = errors.New("gateway: not authenticated")

// APIError is a non-2xx answer from the collaborator service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: http %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
// Client errors are permanent except timeouts and rate limiting.
func (e *APIError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}
