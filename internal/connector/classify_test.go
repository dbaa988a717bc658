package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/harbor_connect/internal/logging"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestClassifier_Classify(t *testing.T) {
	fc := FailureContext{
		RouteID: "splunk",
		Routing: Routing{CorrelationID: "c1", OrgID: "o1", Target: "https://dest/x"},
	}

	tests := []struct {
		name       string
		err        error
		wantKind   string
		wantStatus int
		wantDetail string
	}{
		{
			name:       "http failure",
			err:        &TransportFailure{StatusCode: 503, Body: "busy"},
			wantKind:   KindTransportFailure,
			wantStatus: 503,
			wantDetail: "Message sending failed on splunk: [orgId=o1, historyId=c1] with status code [503] and body [busy]",
		},
		{
			name:       "wrapped http failure",
			err:        fmt.Errorf("send: %w", &TransportFailure{StatusCode: 400, Body: "bad"}),
			wantKind:   KindTransportFailure,
			wantStatus: 400,
			wantDetail: "Message sending failed on splunk: [orgId=o1, historyId=c1] with status code [400] and body [bad]",
		},
		{
			name:       "no response",
			err:        &TransportUnavailable{Err: errors.New("connection refused")},
			wantKind:   KindTransportUnavailable,
			wantDetail: "Message sending failed on splunk: [orgId=o1, historyId=c1, targetUrl=https://dest/x]: destination unavailable: connection refused",
		},
		{
			name:       "invariant",
			err:        fmt.Errorf("%w: splitter returned no units", ErrInvariantViolation),
			wantKind:   KindInvariantViolation,
			wantDetail: "Message sending failed on splunk: [orgId=o1, historyId=c1, targetUrl=https://dest/x]: pipeline invariant violated: splitter returned no units",
		},
		{
			name:       "anything else",
			err:        errors.New("invalid target"),
			wantKind:   KindOther,
			wantDetail: "Message sending failed on splunk: [orgId=o1, historyId=c1, targetUrl=https://dest/x]: invalid target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c := NewClassifier(logging.NewWithWriter("test", &buf))

			d := c.Classify(context.Background(), tt.err, fc)

			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantStatus, d.StatusCode)
			assert.Equal(t, tt.wantDetail, d.Detail)
			assert.Equal(t, "splunk", d.RouteID)
			assert.Equal(t, "o1", d.OrgID)
			assert.Equal(t, "c1", d.CorrelationID)

			lines := logLines(t, &buf)
			require.Len(t, lines, 1, "exactly one log entry per failure")
			assert.Equal(t, "error", lines[0]["level"])
			assert.Equal(t, "splunk", lines[0]["route_id"])
			assert.Equal(t, "o1", lines[0]["org_id"])
			assert.Equal(t, "c1", lines[0]["correlation_id"])
		})
	}
}

func TestClassifier_HTTPFailureMessageIsTemplate(t *testing.T) {
	var buf bytes.Buffer
	c := NewClassifier(logging.NewWithWriter("test", &buf))

	c.Classify(context.Background(), &TransportFailure{StatusCode: 500, Body: "oops"}, FailureContext{
		RouteID: "email",
		Routing: Routing{CorrelationID: "h1", OrgID: "o9"},
	})

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "Message sending failed on email: [orgId=o9, historyId=h1] with status code [500] and body [oops]", lines[0]["message"])
	assert.Equal(t, float64(500), lines[0]["status_code"])
}
