package analysis

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the service rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the requested dataset does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable covers network failures and 5xx responses.
	ErrUnavailable = errors.New("analysis service unavailable")
	// ErrTooLarge means a response body exceeded the client's size cap.
	ErrTooLarge = errors.New("response too large")
)

// StatusError is a non-success HTTP response from the service.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

// Unwrap maps the status code onto the sentinel errors.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

// NetworkError wraps a transport failure; it matches both ErrUnavailable and the cause.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// IsTransient reports whether retrying the same idempotent request may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
		return false
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Message returns the service-provided reason for a failure, if any.
func Message(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}
