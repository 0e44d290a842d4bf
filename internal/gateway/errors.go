package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RateLimitMarker is the provider message fragment that flags a rate limit.
const RateLimitMarker = "too many requests"

// ErrMissingData reports a 2xx response without a usable data payload.
var ErrMissingData = errors.New("response has no data")

// TransportError means no response was obtained: connection failures,
// timeouts, cancelled contexts or an unavailable credential.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a response carrying an errors envelope.
type UpstreamError struct {
	Op       string
	Status   int
	Messages []string
}

func (e *UpstreamError) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if msg == "" {
		msg = "unspecified error"
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, msg)
}

// IsRateLimited reports whether the provider asked the caller to slow down.
func (e *UpstreamError) IsRateLimited() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	for _, m := range e.Messages {
		if strings.Contains(strings.ToLower(m), RateLimitMarker) {
			return true
		}
	}
	return false
}

// ProtocolError is a response that could not be interpreted: an unparseable
// non-2xx body, or a 2xx body whose data is missing or has the wrong shape.
type ProtocolError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: protocol error (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: protocol error (status %d): %s", e.Op, e.Status, e.Body)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is, or wraps, a rate-limited UpstreamError.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.IsRateLimited()
}

// outcome labels err for metrics.
func outcome(err error) string {
	var (
		te *TransportError
		ue *UpstreamError
		pe *ProtocolError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ue):
		if ue.IsRateLimited() {
			return "rate_limited"
		}
		return "upstream"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &pe):
		return "protocol"
	default:
		return "error"
	}
}
