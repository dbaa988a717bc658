package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()

	MustRegister(reg)

	// Record some values so vector metrics appear in Gather()
	RecordEventReceived("webhook")
	RecordDelivery("webhook", "acknowledged", 10*time.Millisecond)
	RecordFailure("webhook", "transport_failure")
	RecordEndpointCache(true)
	UpdateInboundBacklog(4)
	RecordResolution("rbac", "success", 50*time.Millisecond, 2)
	RecordPageRetry("rbac", "backend_unavailable")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	registered := make(map[string]bool)
	for _, mf := range families {
		registered[mf.GetName()] = true
	}

	for _, name := range []string{
		"connector_events_received_total",
		"connector_deliveries_total",
		"connector_delivery_latency_seconds",
		"connector_failures_total",
		"connector_endpoint_cache_total",
		"connector_inbound_backlog",
		"resolver_requests_total",
		"resolver_page_retries_total",
		"resolver_duration_seconds",
		"resolver_recipients_resolved_total",
	} {
		if !registered[name] {
			t.Errorf("expected metric %s not found in registry", name)
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	DeliveriesTotal.Reset()
	DeliveryLatency.Reset()

	tests := []struct {
		name      string
		connector string
		status    string
		calls     int
	}{
		{"acknowledged deliveries", "splunk", "acknowledged", 3},
		{"failed deliveries", "splunk", "failed", 2},
		{"other connector", "email", "acknowledged", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordDelivery(tt.connector, tt.status, 20*time.Millisecond)
			}
			got := testutil.ToFloat64(DeliveriesTotal.WithLabelValues(tt.connector, tt.status))
			if got != float64(tt.calls) {
				t.Errorf("deliveries counter = %f, want %d", got, tt.calls)
			}
		})
	}

	if n := testutil.CollectAndCount(DeliveryLatency); n != 2 {
		t.Errorf("latency series = %d, want 2", n)
	}
}

func TestRecordEndpointCache(t *testing.T) {
	EndpointCacheTotal.Reset()

	RecordEndpointCache(false)
	RecordEndpointCache(true)
	RecordEndpointCache(true)

	if got := testutil.ToFloat64(EndpointCacheTotal.WithLabelValues("hit")); got != 2 {
		t.Errorf("hits = %f, want 2", got)
	}
	if got := testutil.ToFloat64(EndpointCacheTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %f, want 1", got)
	}
}

func TestRecordResolution(t *testing.T) {
	ResolverRequestsTotal.Reset()
	before := testutil.ToFloat64(RecipientsResolvedTotal)

	RecordResolution("kessel", "success", time.Second, 5)
	RecordResolution("kessel", "unauthorized", time.Second, 0)

	if got := testutil.ToFloat64(ResolverRequestsTotal.WithLabelValues("kessel", "success")); got != 1 {
		t.Errorf("success resolutions = %f, want 1", got)
	}
	if got := testutil.ToFloat64(ResolverRequestsTotal.WithLabelValues("kessel", "unauthorized")); got != 1 {
		t.Errorf("unauthorized resolutions = %f, want 1", got)
	}
	if got := testutil.ToFloat64(RecipientsResolvedTotal) - before; got != 5 {
		t.Errorf("recipients resolved delta = %f, want 5", got)
	}
}

func TestUpdateInboundBacklog(t *testing.T) {
	UpdateInboundBacklog(12)
	if got := testutil.ToFloat64(InboundBacklog); got != 12 {
		t.Errorf("backlog = %f, want 12", got)
	}
	UpdateInboundBacklog(0)
	if got := testutil.ToFloat64(InboundBacklog); got != 0 {
		t.Errorf("backlog = %f, want 0", got)
	}
}
