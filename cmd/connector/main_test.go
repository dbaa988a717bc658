package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/health"
	"github.com/austindbirch/harbor_connect/internal/metrics"
)

func TestServiceName(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Connector
		want string
	}{
		{name: "webhook", cfg: config.Connector{Name: "webhook"}, want: "harborconnect-connector-webhook"},
		{name: "splunk", cfg: config.Connector{Name: "splunk"}, want: "harborconnect-connector-splunk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := serviceName(tt.cfg); got != tt.want {
				t.Errorf("serviceName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.RecordEventReceived("webhook")

	tests := []struct {
		name       string
		path       string
		nsqdErr    error
		wantStatus int
		wantBody   string
	}{
		{name: "healthy", path: "/healthz", wantStatus: http.StatusOK, wantBody: `"ok":true`},
		{name: "nsqd down", path: "/healthz", nsqdErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantBody: "nsqd ping failed"},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: "connector_events_received_total"},
		{name: "unknown path", path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(reg, map[string]health.Pinger{
				"nsqd": health.PingFunc(func(context.Context) error { return tt.nsqdErr }),
			})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body, _ := io.ReadAll(rec.Body)
			if tt.wantBody != "" && !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body %q does not contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestHealthReportsChecks(t *testing.T) {
	mux := newMux(prometheus.NewRegistry(), map[string]health.Pinger{
		"nsqd": health.PingFunc(func(context.Context) error { return nil }),
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var st health.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.OK || !st.Checks["nsqd"] {
		t.Errorf("status = %+v", st)
	}
}
