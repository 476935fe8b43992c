// Package metrics exposes Prometheus collectors for the gateway. A nil
// *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webdav"

// Metrics holds every collector, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transferBytes   *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	activeTransfers *prometheus.GaugeVec
	shardRequests   *prometheus.CounterVec
	shardRetries    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "WebDAV requests by method and status code.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "WebDAV request latency by method.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"method"}),
		transferBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Plaintext bytes moved through the transfer pipeline.",
		}, []string{"direction"}),
		transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Completed transfers by direction and outcome.",
		}, []string{"direction", "outcome"}),
		activeTransfers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Transfers currently in flight.",
		}, []string{"direction"}),
		shardRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_requests_total",
			Help:      "Shard GET/PUT requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		shardRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_retries_total",
			Help:      "Shard request retries by operation.",
		}, []string{"op"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Metadata cache path lookups by result.",
		}, []string{"result"}),
	}
}

// Registry returns the private registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one handled WebDAV request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// TransferStarted marks a transfer as in flight.
func (m *Metrics) TransferStarted(direction string) {
	if m == nil {
		return
	}

	m.activeTransfers.WithLabelValues(direction).Inc()
}

// TransferFinished records the outcome and plaintext size of a transfer.
func (m *Metrics) TransferFinished(direction, outcome string, bytes int64) {
	if m == nil {
		return
	}

	m.activeTransfers.WithLabelValues(direction).Dec()
	m.transfers.WithLabelValues(direction, outcome).Inc()
	m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
}

// ShardRequest records the final outcome of one shard operation.
func (m *Metrics) ShardRequest(op, outcome string) {
	if m == nil {
		return
	}

	m.shardRequests.WithLabelValues(op, outcome).Inc()
}

// ShardRetry records one retried shard attempt.
func (m *Metrics) ShardRetry(op string) {
	if m == nil {
		return
	}

	m.shardRetries.WithLabelValues(op).Inc()
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.cacheLookups.WithLabelValues(result).Inc()
}
