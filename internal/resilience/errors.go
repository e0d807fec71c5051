package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry. Clients wrap 429/5xx
// responses and network failures in it so the retry layer does not need
// to know transport details.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient. statusCode is 0 when the
// failure happened below the HTTP layer.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// transientStatus is the set of HTTP statuses worth retrying: request
// timeout, rate limiting, and server-side failures.
var transientStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsTransientHTTPStatus reports whether code indicates a failure that a
// later attempt may not hit.
func IsTransientHTTPStatus(code int) bool {
	return transientStatus[code]
}

// transientFragments matches error text from HTTP clients and resolvers
// whose wrapped causes do not survive as typed errors.
var transientFragments = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"unexpected eof",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err looks retryable: an explicit
// TransientError anywhere in the chain, a network timeout, a socket
// failure, or error text matching a known transient fragment.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
