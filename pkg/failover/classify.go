package failover

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Class is the failure taxonomy the executor acts on. Classification
// happens only here; every other component reports facts and never
// decides whether to retry.
type Class string

const (
	// ClassAuth covers credential failures (401, 402).
	ClassAuth Class = "auth"
	// ClassBlocked covers hard policy denials (403).
	ClassBlocked Class = "blocked"
	// ClassRateLimit covers upstream rate limiting (429).
	ClassRateLimit Class = "rate_limit"
	// ClassOverloaded covers capacity-exceeded signals (529).
	ClassOverloaded Class = "overloaded"
	// ClassServerError covers generic upstream 5xx responses.
	ClassServerError Class = "server_error"
	// ClassNetwork covers transport failures: timeouts, connection
	// resets, DNS failures, truncated responses.
	ClassNetwork Class = "network"
	// ClassClientCancel is the caller going away. Non-retryable and
	// non-penalizing.
	ClassClientCancel Class = "client_cancel"
	// ClassFatal is everything else: propagated unchanged, no retry, no
	// health mark.
	ClassFatal Class = "fatal"
)

// Retryable reports whether the executor may try a sibling account
// after a failure of this class.
func (c Class) Retryable() bool {
	switch c {
	case ClassAuth, ClassBlocked, ClassRateLimit, ClassOverloaded,
		ClassServerError, ClassNetwork:
		return true
	default:
		return false
	}
}

// Classify maps an execution error onto the failure taxonomy.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClientDisconnected) {
		return ClassClientCancel
	}

	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		if uerr.StatusCode > 0 {
			return classifyStatus(uerr.StatusCode)
		}
		if uerr.Cause != nil && isTransport(uerr.Cause) {
			return ClassNetwork
		}
		return ClassFatal
	}

	if isTransport(err) {
		return ClassNetwork
	}
	return ClassFatal
}

func classifyStatus(code int) Class {
	switch {
	case code == 401 || code == 402:
		return ClassAuth
	case code == 403:
		return ClassBlocked
	case code == 429:
		return ClassRateLimit
	case code == 529:
		return ClassOverloaded
	case code >= 500:
		return ClassServerError
	default:
		return ClassFatal
	}
}

// isTransport recognizes the connection-level failures worth a sibling
// retry: the request never produced an upstream verdict.
func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
