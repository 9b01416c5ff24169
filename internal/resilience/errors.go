package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// transientStatuses are the upstream HTTP statuses worth retrying:
// throttling, timeouts, and server-side failures.
var transientStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// TransientError annotates a provider failure with the upstream HTTP
// status, so the retry layer and the breaker agree on what is worth
// retrying.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Retryable reports whether the annotated failure is worth retrying:
// a transient upstream status, or a transient network failure
// underneath.
func (e *TransientError) Retryable() bool {
	return transientStatuses[e.StatusCode] || transientNetwork(e.Err)
}

// NewTransientError annotates err with the upstream status code; zero
// when no HTTP status applies.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// TransientStatus reports whether an upstream status alone marks a
// call retryable.
func TransientStatus(code int) bool {
	return transientStatuses[code]
}

// IsTransient reports whether err is safe to retry: a retryable
// TransientError anywhere in the chain, or a transient network
// failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return transientNetwork(err)
}

func transientNetwork(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// HTTP clients flatten transport failures into strings.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
