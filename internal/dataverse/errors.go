package dataverse

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned without attempting a network call while the
	// breaker is open. Callers should treat it as "upstream is down, try
	// later", not as a problem with the individual request.
	ErrCircuitOpen = errors.New("dataverse circuit open")

	// ErrNotFound indicates a missing record or an unresolvable entity name.
	ErrNotFound = errors.New("dataverse resource not found")
)

// StatusError is a non-2xx response from the Dataverse Web API. 4xx errors
// are final; 5xx errors are transient and eligible for retry.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dataverse returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status indicates a server-side fault.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500
}

// TransportError wraps connection and timeout failures, which are always
// retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dataverse transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient classifies an error per the retry policy: connection/timeout
// failures and 5xx responses retry, everything else fails immediately.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return false
}
