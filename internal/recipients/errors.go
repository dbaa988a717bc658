package recipients

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Cause is the reason a resolution failed.
type Cause int

const (
	Timeout Cause = iota + 1
	Unauthorized
	BackendUnavailable
	Malformed
)

func (c Cause) String() string {
	switch c {
	case Timeout:
		return "timeout"
	case Unauthorized:
		return "unauthorized"
	case BackendUnavailable:
		return "backend_unavailable"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

type ResolutionError struct {
	Cause      Cause
	Provider   string
	StatusCode int // backend HTTP status, 0 when there was no response
	Err        error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("recipients resolution via %s failed: %s", e.Provider, e.Cause)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the page fetch can help.
func (e *ResolutionError) Transient() bool {
	return e.Cause == Timeout || e.Cause == BackendUnavailable
}

// CauseOf returns the cause carried by err, or 0 when err is not a resolution error.
func CauseOf(err error) Cause {
	var rerr *ResolutionError
	if errors.As(err, &rerr) {
		return rerr.Cause
	}
	return 0
}

// asResolutionError normalizes err so that callers always see *ResolutionError.
func asResolutionError(provider string, err error) *ResolutionError {
	var rerr *ResolutionError
	if errors.As(err, &rerr) {
		if rerr.Provider == "" {
			rerr.Provider = provider
		}
		return rerr
	}
	return &ResolutionError{Cause: transportCause(err), Provider: provider, Err: err}
}

// transportCause classifies an error raised before any backend response was read.
func transportCause(err error) Cause {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return BackendUnavailable
}

// statusCause maps a non-2xx backend status to a cause.
func statusCause(status int) Cause {
	switch {
	case status == 401 || status == 403:
		return Unauthorized
	case status == 408 || status == 504:
		return Timeout
	case status == 429 || status >= 500:
		return BackendUnavailable
	default:
		return Malformed
	}
}
