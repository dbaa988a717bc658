package delivery

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewSuccessReport(t *testing.T) {
	tests := []struct {
		name          string
		routeID       string
		correlationID string
		orgID         string
		accountID     string
		targetURL     string
		unit          Unit
	}{
		{
			name:          "complete success report",
			routeID:       "splunk",
			correlationID: "c1",
			orgID:         "o1",
			accountID:     "a1",
			targetURL:     "https://dest/x",
			unit:          Unit{Index: 1, Count: 3},
		},
		{
			name:          "no account",
			routeID:       "webhook",
			correlationID: "c2",
			orgID:         "o2",
			targetURL:     "https://dest/y",
			unit:          Unit{Index: 0, Count: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			r := NewSuccessReport(tt.routeID, tt.correlationID, tt.orgID, tt.accountID, tt.targetURL, tt.unit)
			after := time.Now()

			if r.Type != SuccessType {
				t.Errorf("NewSuccessReport() Type = %q, want %q", r.Type, SuccessType)
			}
			if r.Version != "v1" {
				t.Errorf("NewSuccessReport() Version = %q, want %q", r.Version, "v1")
			}
			if r.CorrelationID != tt.correlationID || r.OrgID != tt.orgID || r.AccountID != tt.accountID {
				t.Errorf("NewSuccessReport() ids = (%q,%q,%q), want (%q,%q,%q)",
					r.CorrelationID, r.OrgID, r.AccountID, tt.correlationID, tt.orgID, tt.accountID)
			}
			if r.TargetURL != tt.targetURL {
				t.Errorf("NewSuccessReport() TargetURL = %q, want %q", r.TargetURL, tt.targetURL)
			}
			if r.UnitIndex != tt.unit.Index || r.UnitCount != tt.unit.Count {
				t.Errorf("NewSuccessReport() unit = %d/%d, want %d/%d", r.UnitIndex, r.UnitCount, tt.unit.Index, tt.unit.Count)
			}

			parsed, err := time.Parse(time.RFC3339Nano, r.At)
			if err != nil {
				t.Errorf("NewSuccessReport() At timestamp parse error: %v", err)
			}
			if parsed.Before(before.Truncate(time.Second)) || parsed.After(after) {
				t.Errorf("NewSuccessReport() At timestamp %v not between %v and %v", parsed, before, after)
			}
		})
	}
}

func TestNewFailureReport(t *testing.T) {
	tests := []struct {
		name       string
		errorKind  string
		detail     string
		statusCode int
	}{
		{
			name:       "transport failure",
			errorKind:  "transport_failure",
			detail:     "Message sending failed on splunk: [orgId=o1, historyId=c1] with status code [503] and body [busy]",
			statusCode: 503,
		},
		{
			name:      "transport unavailable",
			errorKind: "transport_unavailable",
			detail:    "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFailureReport("splunk", "c1", "o1", tt.errorKind, tt.detail, tt.statusCode, Unit{Index: 0, Count: 1})

			if r.Type != FailureType {
				t.Errorf("NewFailureReport() Type = %q, want %q", r.Type, FailureType)
			}
			if r.ErrorKind != tt.errorKind {
				t.Errorf("NewFailureReport() ErrorKind = %q, want %q", r.ErrorKind, tt.errorKind)
			}
			if r.Detail != tt.detail {
				t.Errorf("NewFailureReport() Detail = %q, want %q", r.Detail, tt.detail)
			}
			if r.StatusCode != tt.statusCode {
				t.Errorf("NewFailureReport() StatusCode = %d, want %d", r.StatusCode, tt.statusCode)
			}
			if r.CorrelationID != "c1" || r.OrgID != "o1" || r.RouteID != "splunk" {
				t.Errorf("NewFailureReport() ids = (%q,%q,%q)", r.CorrelationID, r.OrgID, r.RouteID)
			}
		})
	}
}

func TestFailureReportOmitsZeroStatus(t *testing.T) {
	b, err := json.Marshal(NewFailureReport("r", "c", "o", "other", "boom", 0, Unit{Count: 1}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["status_code"]; ok {
		t.Errorf("status_code present for a failure without a response: %s", b)
	}
	for _, key := range []string{"correlation_id", "org_id", "error_kind", "detail"} {
		if _, ok := m[key]; !ok {
			t.Errorf("FailureReport JSON missing %q: %s", key, b)
		}
	}
}

func TestInboundDecode(t *testing.T) {
	body := `{
		"correlation_id": "c1",
		"org_id": "o1",
		"account_id": "a1",
		"target_url": "https://dest/x",
		"trust_all": true,
		"auth_token": "tok",
		"payload": [{"a":1}],
		"trace_headers": {"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	}`

	var in Inbound
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if in.CorrelationID != "c1" || in.OrgID != "o1" || in.AccountID != "a1" {
		t.Errorf("ids = (%q,%q,%q)", in.CorrelationID, in.OrgID, in.AccountID)
	}
	if !in.TrustAll {
		t.Errorf("TrustAll = false, want true")
	}
	if string(in.Payload) != `[{"a":1}]` {
		t.Errorf("Payload = %s, want raw array", in.Payload)
	}
	if in.TraceHeaders["traceparent"] == "" {
		t.Errorf("trace headers not decoded")
	}
}

func TestTypeConstants(t *testing.T) {
	if SuccessType != "connector.success" {
		t.Errorf("SuccessType = %q", SuccessType)
	}
	if FailureType != "connector.failure" {
		t.Errorf("FailureType = %q", FailureType)
	}
}
