package infra

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricsNamespace = "qrl_trader"

// Metrics holds the Prometheus collectors of the trader. Every method is safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups  *prometheus.CounterVec
	cacheErrors   *prometheus.CounterVec
	cacheCorrupt  prometheus.Counter
	apiRequests   *prometheus.CounterVec
	apiRetries    *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	orders        *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	streamQuotes  prometheus.Counter
	streamUp      prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "cache_lookups_total",
			Help: "Cache lookups by data type and result (hit, miss).",
		}, []string{"type", "result"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "cache_errors_total",
			Help: "Cache backend failures by operation.",
		}, []string{"op"}),
		cacheCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "cache_corrupt_entries_total",
			Help: "Cache entries deleted because they could not be decoded.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "exchange_requests_total",
			Help: "Exchange REST requests by endpoint and result.",
		}, []string{"endpoint", "result"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "exchange_retries_total",
			Help: "Read retries after transient exchange failures.",
		}, []string{"endpoint"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "exchange_request_seconds",
			Help:    "Exchange REST request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "orders_total",
			Help: "Order submissions by symbol, side and result.",
		}, []string{"symbol", "side", "result"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "cycles_total",
			Help: "Trading cycles by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one trading cycle.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"symbol"}),
		streamQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "stream_quotes_total",
			Help: "Quotes received from the websocket stream.",
		}),
		streamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "stream_connected",
			Help: "1 while the quote stream is connected.",
		}),
	}

	m.registry.MustRegister(
		m.cacheLookups, m.cacheErrors, m.cacheCorrupt,
		m.apiRequests, m.apiRetries, m.apiLatency,
		m.orders, m.cycles, m.cycleDuration,
		m.streamQuotes, m.streamUp,
	)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCacheLookup counts one cache-aside lookup.
func (m *Metrics) RecordCacheLookup(dataType string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(dataType, result).Inc()
}

// RecordCacheError counts a backend failure.
func (m *Metrics) RecordCacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

// RecordCacheCorrupt counts a self-healed entry.
func (m *Metrics) RecordCacheCorrupt() {
	if m == nil {
		return
	}
	m.cacheCorrupt.Inc()
}

// RecordRequest records one REST round-trip.
func (m *Metrics) RecordRequest(endpoint string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.apiRequests.WithLabelValues(endpoint, result).Inc()
	m.apiLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// RecordRetry counts a retried read.
func (m *Metrics) RecordRetry(endpoint string) {
	if m == nil {
		return
	}
	m.apiRetries.WithLabelValues(endpoint).Inc()
}

// RecordOrder counts an order submission. result is accepted, rejected or ambiguous.
func (m *Metrics) RecordOrder(symbol, side, result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(symbol, side, result).Inc()
}

// RecordCycle counts a finished cycle and its duration.
func (m *Metrics) RecordCycle(symbol, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(symbol, outcome).Inc()
	m.cycleDuration.WithLabelValues(symbol).Observe(elapsed.Seconds())
}

// RecordStreamQuote counts one websocket quote.
func (m *Metrics) RecordStreamQuote() {
	if m == nil {
		return
	}
	m.streamQuotes.Inc()
}

// SetStreamConnected sets the stream connection gauge.
func (m *Metrics) SetStreamConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.streamUp.Set(1)
	} else {
		m.streamUp.Set(0)
	}
}

// Push sends the current values to a Prometheus Pushgateway. The trader is a
// one-shot process, so it pushes instead of being scraped.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.registry).PushContext(ctx)
}
