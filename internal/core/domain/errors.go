package domain

import (
	"errors"
	"fmt"
	"time"
)

// CodeUnknown is the classification for errors that carry neither an HTTP
// status nor a transport code. Dashboards key on these codes, so the
// derivation below must stay stable.
const CodeUnknown = "UNKNOWN_ERROR"

// APIError is an HTTP-shaped failure from an external source. Produced by
// the transport adapter; the retry layer classifies on Status.
type APIError struct {
	Status     int
	RetryAfter time.Duration // parsed Retry-After hint, 0 if absent
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api error: http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("api error: http %d", e.Status)
}

// TransportError is a network-level failure (connection reset, timeout,
// refused). Code follows the conventional errno-style names so it can be
// surfaced verbatim as an error code.
type TransportError struct {
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transport error %s", e.Code)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorCode derives the stable code for an error:
// HTTP_<status> for API errors, the transport code for transport errors,
// and UNKNOWN_ERROR for everything else.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("HTTP_%d", apiErr.Status)
	}
	var trErr *TransportError
	if errors.As(err, &trErr) {
		return trErr.Code
	}
	return CodeUnknown
}
