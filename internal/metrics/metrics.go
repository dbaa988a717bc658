package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_events_received_total",
			Help: "Total number of events received from the engine.",
		},
		[]string{"connector"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_deliveries_total",
			Help: "Total number of delivery units by outcome.",
		},
		[]string{"connector", "status"}, // status: acknowledged, failed
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_delivery_latency_seconds",
			Help:    "Latency of delivery unit sends.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connector"},
	)

	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_failures_total",
			Help: "Total number of classified delivery failures by kind.",
		},
		[]string{"connector", "kind"}, // kind: transport_failure, transport_unavailable, invariant_violation, other
	)

	EndpointCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_endpoint_cache_total",
			Help: "Endpoint handle cache lookups by result.",
		},
		[]string{"result"}, // hit, miss
	)

	InboundBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "connector_inbound_backlog",
			Help: "Depth of the inbound channel as reported by nsqd.",
		},
	)

	ResolverRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_requests_total",
			Help: "Total number of recipient resolutions by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	ResolverPageRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_page_retries_total",
			Help: "Total number of retried recipient page fetches by provider and reason.",
		},
		[]string{"provider", "reason"},
	)

	ResolverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_duration_seconds",
			Help:    "Wall-clock duration of recipient resolutions.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	RecipientsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_recipients_resolved_total",
			Help: "Total number of enabled recipients returned by resolutions.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsReceivedTotal,
		DeliveriesTotal,
		DeliveryLatency,
		FailuresTotal,
		EndpointCacheTotal,
		InboundBacklog,
		ResolverRequestsTotal,
		ResolverPageRetriesTotal,
		ResolverDuration,
		RecipientsResolvedTotal,
	)
}

func RecordEventReceived(connector string) {
	EventsReceivedTotal.WithLabelValues(connector).Inc()
}

// RecordDelivery records the outcome and latency of one delivery unit
func RecordDelivery(connector, status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(connector, status).Inc()
	DeliveryLatency.WithLabelValues(connector).Observe(latency.Seconds())
}

func RecordFailure(connector, kind string) {
	FailuresTotal.WithLabelValues(connector, kind).Inc()
}

func RecordEndpointCache(hit bool) {
	if hit {
		EndpointCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	EndpointCacheTotal.WithLabelValues("miss").Inc()
}

func UpdateInboundBacklog(depth float64) {
	InboundBacklog.Set(depth)
}

// RecordResolution records one finished resolution call
func RecordResolution(provider, outcome string, duration time.Duration, recipients int) {
	ResolverRequestsTotal.WithLabelValues(provider, outcome).Inc()
	ResolverDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if recipients > 0 {
		RecipientsResolvedTotal.Add(float64(recipients))
	}
}

func RecordPageRetry(provider, reason string) {
	ResolverPageRetriesTotal.WithLabelValues(provider, reason).Inc()
}
