package router

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a response body cannot be decoded.
var ErrMalformedResponse = errors.New("router: malformed response")

// TransportError means no HTTP response was received.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("router: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError means the router answered with a non-success status.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("router: %s: status %d: %s", e.Endpoint, e.Code, e.Body)
	}
	return fmt.Sprintf("router: %s: status %d", e.Endpoint, e.Code)
}

// IsTransport reports whether err should be handled like a lost response:
// either nothing came back or what came back was unreadable.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, ErrMalformedResponse)
}

// IsRejected reports whether the router answered with a non-success status.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
