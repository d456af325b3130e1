package failover

import (
	"errors"
	"fmt"
	"time"
)

// ErrClientDisconnected is the terminal outcome for a request whose
// caller went away mid-flight. It is distinct from every upstream
// failure class: the account is not penalized and nothing is retried.
var ErrClientDisconnected = errors.New("failover: client disconnected")

// UpstreamError is a classified failure from a provider call. The
// executor reads the status code (and, for transport-level failures, the
// wrapped cause) to decide marking and retry.
type UpstreamError struct {
	// StatusCode is the upstream HTTP status, zero for transport errors.
	StatusCode int

	// Code is the provider's machine-readable error code, if any.
	Code string

	// Message is the human-readable upstream message.
	Message string

	// RetryAfter is the upstream-supplied rate-limit reset hint, zero
	// when absent.
	RetryAfter time.Duration

	// StreamStarted records that response bytes already reached the
	// original caller: the account can still be marked, but this request
	// cannot be replayed against a sibling.
	StreamStarted bool

	// Cause is the underlying transport error, if any.
	Cause error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Code != "":
		return fmt.Sprintf("upstream error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("upstream transport error: %v", e.Cause)
	default:
		return fmt.Sprintf("upstream error: %s", e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Cause }
