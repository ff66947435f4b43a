package lipstick

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDomainExists   = errors.New("domain already exists")
	ErrDomainNotFound = errors.New("domain not found")
	ErrUnauthorized   = errors.New("provider rejected credentials")
	ErrUnavailable    = errors.New("provider unavailable")
)

// APIError is a non-success response from the provider. It unwraps to one of
// the sentinel errors above so callers can branch with errors.Is.
type APIError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lipstick api error: %v (status: %d): %s", e.kind, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.kind }

// NewAPIError builds the error for a non-success response.
func NewAPIError(status int, body string) *APIError {
	return &APIError{StatusCode: status, Body: body, kind: classify(status)}
}

func classify(status int) error {
	switch status {
	case http.StatusConflict:
		return ErrDomainExists
	case http.StatusNotFound:
		return ErrDomainNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return ErrUnavailable
	}
}
