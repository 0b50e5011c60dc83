package twitter

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

const statusEnhanceYourCalm = 420

var ErrUnsupported = errors.New("operation is not supported by transport")

// StatusError is a non-2xx answer from the remote API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}

	return fmt.Sprintf("unexpected status: %d (body = %s)", e.StatusCode, e.Body)
}

func (e *StatusError) Retriable() bool {
	switch e.StatusCode {
	case statusEnhanceYourCalm,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetriable reports whether err is a rate-limit or transient failure
// that may succeed when the same request is repeated.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retriable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
