package pairgate

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned when the server rejects the caller's credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when the caller exceeded its request budget
	ErrRateLimited = errors.New("rate limited")

	// ErrConflict is returned when the session was logged out or deleted meanwhile
	ErrConflict = errors.New("session conflict")

	// ErrUnavailable is returned when the server or one of its dependencies is down
	ErrUnavailable = errors.New("service unavailable")
)

// APIError is a non-2xx answer of the server
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// Is matches the sentinel errors by status code
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == http.StatusBadGateway
	}
	return false
}
