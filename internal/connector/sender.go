package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/austindbirch/harbor_connect/internal/tracing"
)

const maxFailureBody = 64 << 10

// Sender performs one delivery. It returns *TransportFailure when the
// destination answered with a non-2xx status and *TransportUnavailable when
// no response was received.
type Sender interface {
	Send(ctx context.Context, h *Handle, u Unit) error
}

// TransportFailure is a delivery that got a response indicating failure.
type TransportFailure struct {
	StatusCode int
	Body       string
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("destination responded with status %d", e.StatusCode)
}

// TransportUnavailable is a delivery that got no response at all.
type TransportUnavailable struct {
	Err error
}

func (e *TransportUnavailable) Error() string {
	return fmt.Sprintf("destination unavailable: %v", e.Err)
}

func (e *TransportUnavailable) Unwrap() error {
	return e.Err
}

// HTTPSender POSTs the unit body to the handle URL.
type HTTPSender struct {
	ContentType string
}

func (s HTTPSender) Send(ctx context.Context, h *Handle, u Unit) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL.String(), bytes.NewReader(u.Body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	ct := s.ContentType
	if ct == "" {
		ct = "application/json"
	}
	req.Header.Set("Content-Type", ct)
	if u.Authorization != "" {
		req.Header.Set("Authorization", u.Authorization)
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := h.Client().Do(req)
	if err != nil {
		return &TransportUnavailable{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxFailureBody))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxFailureBody))
	return &TransportFailure{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
