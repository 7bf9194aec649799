package climate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransportExhausted is matched by a TransportError once every attempt failed.
	ErrTransportExhausted = errors.New("transport retries exhausted")
	// ErrRequestRejected is returned when the submission phase is not accepted.
	ErrRequestRejected = errors.New("request rejected by upstream")
	// ErrNoChunksFound is returned when a station has no chunk file to assemble.
	ErrNoChunksFound = errors.New("no chunk files found")
	// ErrMissingDatePersistent marks a date that repeatedly failed to download.
	ErrMissingDatePersistent = errors.New("date persistently missing upstream")
	// ErrPollLimit is returned when an order is still pending after the poll limit.
	ErrPollLimit = errors.New("order still pending after poll limit")
	// ErrCircuitOpen is returned while the upstream circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrInvalidRequest wraps DownloadRequest validation failures.
	ErrInvalidRequest = errors.New("invalid download request")
)

// TransportError reports a network-level failure (connection, timeout, reset)
// that survived the whole retry policy.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, ErrTransportExhausted, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportExhausted
}

// UpstreamError is a well-formed response carrying an unexpected HTTP status.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, body)
}

// IsTransport reports whether err came from the transport layer rather than an
// upstream rejection.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, ErrCircuitOpen)
}

// UpstreamStatus extracts the HTTP status of an UpstreamError in err's chain.
func UpstreamStatus(err error) (int, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status, true
	}
	return 0, false
}
