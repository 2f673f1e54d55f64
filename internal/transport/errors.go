package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed send
type ErrorKind int

const (
	NetworkFailure ErrorKind = iota + 1
	BackendError
	MalformedResponse
)

// String returns the metric/log label for the kind
func (k ErrorKind) String() string {
	switch k {
	case NetworkFailure:
		return "network_failure"
	case BackendError:
		return "backend_error"
	case MalformedResponse:
		return "malformed_response"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseErrorKind is the inverse of ErrorKind.String
func ParseErrorKind(s string) (ErrorKind, bool) {
	switch s {
	case "network_failure":
		return NetworkFailure, true
	case "backend_error":
		return BackendError, true
	case "malformed_response":
		return MalformedResponse, true
	default:
		return 0, false
	}
}

// TransportError is returned by Send for every failure after the chunk was accepted
type TransportError struct {
	Kind       ErrorKind
	StatusCode int // Set for BackendError
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, if err is a TransportError
func KindOf(err error) (ErrorKind, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}
