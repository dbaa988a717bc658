package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockPinger struct {
	pingError error
	calls     int
}

func (m *mockPinger) Ping(ctx context.Context) error {
	m.calls++
	return m.pingError
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		checks             map[string]Pinger
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy with no checks",
			checks:             nil,
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok"},
		},
		{
			name:               "healthy with working database",
			checks:             map[string]Pinger{"database": &mockPinger{}},
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Checks: map[string]bool{"database": true}},
		},
		{
			name:               "unhealthy with database ping failure",
			checks:             map[string]Pinger{"database": &mockPinger{pingError: context.DeadlineExceeded}},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "database ping failed", Checks: map[string]bool{"database": false}},
		},
		{
			name: "first failing check names the message",
			checks: map[string]Pinger{
				"database": &mockPinger{},
				"nsqd":     &mockPinger{pingError: errors.New("connection refused")},
			},
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "nsqd ping failed", Checks: map[string]bool{"database": true, "nsqd": false}},
		},
		{
			name:               "nil check is skipped",
			checks:             map[string]Pinger{"database": nil},
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPHandler(tt.checks)

			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("HTTPHandler() Content-Type = %q, want %q", ct, "application/json")
			}

			var status Status
			if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
				t.Fatalf("HTTPHandler() response JSON parse error: %v", err)
			}
			if status.OK != tt.expectedStatus.OK {
				t.Errorf("HTTPHandler() Status.OK = %v, want %v", status.OK, tt.expectedStatus.OK)
			}
			if status.Message != tt.expectedStatus.Message {
				t.Errorf("HTTPHandler() Status.Message = %q, want %q", status.Message, tt.expectedStatus.Message)
			}
			if len(status.Checks) != len(tt.expectedStatus.Checks) {
				t.Fatalf("HTTPHandler() Status.Checks = %v, want %v", status.Checks, tt.expectedStatus.Checks)
			}
			for name, want := range tt.expectedStatus.Checks {
				if got, ok := status.Checks[name]; !ok || got != want {
					t.Errorf("HTTPHandler() Status.Checks[%q] = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestHTTPHandler_PingsEveryRequest(t *testing.T) {
	p := &mockPinger{}
	handler := HTTPHandler(map[string]Pinger{"database": p})

	for i := 0; i < 3; i++ {
		handler(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	}
	if p.calls != 3 {
		t.Errorf("Ping called %d times, want 3", p.calls)
	}
}

func TestHTTPHandler_PingHasDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := HTTPHandler(map[string]Pinger{
		"nsqd": PingFunc(func(ctx context.Context) error {
			deadline, ok = ctx.Deadline()
			return nil
		}),
	})

	start := time.Now()
	handler(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	if !ok {
		t.Fatal("ping context has no deadline")
	}
	if deadline.Sub(start) > time.Second+100*time.Millisecond {
		t.Errorf("ping deadline %v too far out", deadline.Sub(start))
	}
}

func TestHTTPHandler_CancelledRequestFailsChecks(t *testing.T) {
	handler := HTTPHandler(map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return ctx.Err() }),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/healthz", nil).WithContext(ctx))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("HTTPHandler() status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
