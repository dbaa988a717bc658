package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installTestProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		expected string
	}{
		{"http prefix", "http://tempo:4318", "tempo:4318"},
		{"https prefix", "https://otel.example.com:4318", "otel.example.com:4318"},
		{"bare host", "collector:4318", "collector:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripScheme(tt.endpoint); got != tt.expected {
				t.Errorf("stripScheme(%q) = %q, want %q", tt.endpoint, got, tt.expected)
			}
		})
	}
}

func TestInstanceID(t *testing.T) {
	t.Setenv("HOSTNAME", "")
	t.Setenv("POD_NAME", "")
	if got := instanceID(); got != "unknown" {
		t.Errorf("instanceID() = %q, want %q", got, "unknown")
	}

	t.Setenv("POD_NAME", "connector-0")
	if got := instanceID(); got != "connector-0" {
		t.Errorf("instanceID() = %q, want %q", got, "connector-0")
	}

	t.Setenv("HOSTNAME", "host-a")
	if got := instanceID(); got != "host-a" {
		t.Errorf("instanceID() = %q, want %q", got, "host-a")
	}
}

func TestStartSpanAndEvents(t *testing.T) {
	exporter := installTestProvider(t)

	ctx, span := StartSpan(context.Background(), "connector.dispatch",
		attribute.String("org_id", "o1"),
	)
	AddSpanEvent(ctx, "state.split", attribute.Int("units", 2))
	SetSpanError(ctx, errors.New("boom"))
	SetSpanError(ctx, nil)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "connector.dispatch" {
		t.Errorf("span name = %q, want %q", got.Name, "connector.dispatch")
	}
	if len(got.Events) < 1 || got.Events[0].Name != "state.split" {
		t.Errorf("span events = %+v, want first event state.split", got.Events)
	}
	if got.Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", got.Status.Code)
	}
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() = %q, want empty", id)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	installTestProvider(t)

	ctx, span := StartSpan(context.Background(), "engine.publish")
	defer span.End()

	originalTraceID := GetTraceID(ctx)
	if originalTraceID == "" {
		t.Fatal("missing trace id on original context")
	}

	headers := InjectHeaders(ctx)
	if headers["traceparent"] == "" {
		t.Fatalf("InjectHeaders() = %v, want traceparent", headers)
	}

	newCtx := ExtractHeaders(context.Background(), headers)
	newCtx, child := StartSpan(newCtx, "connector.consume")
	defer child.End()

	if got := GetTraceID(newCtx); got != originalTraceID {
		t.Errorf("trace id after round trip = %s, want %s", got, originalTraceID)
	}
}

func TestExtractHeadersEmpty(t *testing.T) {
	ctx := context.Background()
	if got := ExtractHeaders(ctx, nil); got != ctx {
		t.Errorf("ExtractHeaders(nil) returned a different context")
	}
}
