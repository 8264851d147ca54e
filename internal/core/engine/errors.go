package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRegistered is returned when a source name has no binding.
	ErrNotRegistered = errors.New("source is not registered")
	// ErrEmptyName is returned when registering a blank source name.
	ErrEmptyName = errors.New("source name is required")
	// ErrUnknownColumn is returned when a join key is missing from a table.
	ErrUnknownColumn = errors.New("unknown column")
)

// Kind classifies a failed request.
type Kind string

const (
	// KindClient is a non-retryable 4xx response other than 429.
	KindClient Kind = "client"
	// KindServer is a 5xx response that survived every retry.
	KindServer Kind = "server"
	// KindConnection means no response was received.
	KindConnection Kind = "connection"
	// KindThrottled means the final attempt was answered with 429.
	KindThrottled Kind = "throttled"
	// KindDecode means a 2xx body was not valid JSON for the target.
	KindDecode Kind = "decode"
)

// RequestError reports a classified request failure.
type RequestError struct {
	Kind       Kind
	StatusCode int
	URL        string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("%s error: HTTP %d for %s: %v", e.Kind, e.StatusCode, e.URL, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s error: HTTP %d for %s", e.Kind, e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("%s error for %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s error for %s", e.Kind, e.URL)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure class is transient.
func (e *RequestError) Retryable() bool {
	switch e.Kind {
	case KindServer, KindConnection, KindThrottled:
		return true
	default:
		return false
	}
}

// IsKind reports whether err is a RequestError of the given kind.
func IsKind(err error, kind Kind) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind == kind
	}
	return false
}
