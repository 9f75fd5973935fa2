// internal/assistant/errors.go
package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means no caller identity was supplied
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrEmptyMessage rejects a chat message that is blank after trimming
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInvalidConfig rejects a server config the probe could never reach
	ErrInvalidConfig = errors.New("invalid server config")
	// ErrUpstreamUnavailable means no completion credential is configured
	ErrUpstreamUnavailable = errors.New("completion upstream not configured")
)

// UpstreamError is a failed call to the completion endpoint: a transport
// failure (StatusCode 0), a non-2xx status or an undecodable body
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("completion upstream: HTTP %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("completion upstream: HTTP %d", e.StatusCode)
	default:
		return fmt.Sprintf("completion upstream: %v", e.Err)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// errorKind buckets completion failures for metrics and logs
func errorKind(err error) string {
	var upErr *UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.As(err, &upErr) && upErr.StatusCode != 0:
		return "http_status"
	case errors.As(err, &upErr):
		return "transport"
	default:
		return "other"
	}
}
