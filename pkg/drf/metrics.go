package drf

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one client.
type Metrics struct {
	enabled bool

	// HTTP metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Cache metrics
	cacheHitsTotal          prometheus.Counter
	cacheMissTotal          prometheus.Counter
	cacheFetchesTotal       *prometheus.CounterVec
	cacheInvalidationsTotal prometheus.Counter
	cacheEntries            prometheus.Gauge

	// Auth metrics
	tokenRefreshesTotal *prometheus.CounterVec

	// Mutation metrics
	mutationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers collectors on reg.
// If reg is nil, returns a no-op Metrics instance.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}

	if !m.enabled {
		return m
	}

	factory := promauto.With(reg)

	m.requestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "drf_client_requests_total",
		Help: "Total HTTP requests by method, status code and failure kind",
	}, []string{"method", "status", "kind"})

	m.requestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drf_client_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	m.cacheHitsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "drf_client_cache_hits_total",
		Help: "Reads served from a fresh cache entry",
	})

	m.cacheMissTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "drf_client_cache_misses_total",
		Help: "Reads that required a fetch",
	})

	m.cacheFetchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "drf_client_cache_fetches_total",
		Help: "Fetches issued by the query cache",
	}, []string{"result"})

	m.cacheInvalidationsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "drf_client_cache_invalidations_total",
		Help: "Cache entries marked stale",
	})

	m.cacheEntries = factory.NewGauge(prometheus.GaugeOpts{
		Name: "drf_client_cache_entries",
		Help: "Current number of entries in the query cache",
	})

	m.tokenRefreshesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "drf_client_token_refreshes_total",
		Help: "Token refresh calls by result",
	}, []string{"result"})

	m.mutationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "drf_client_mutations_total",
		Help: "Mutations by HTTP method and result",
	}, []string{"method", "result"})

	return m
}

// Enabled reports whether collectors are registered.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// RecordRequest records one HTTP round trip.
func (m *Metrics) RecordRequest(method string, status int, kind string, started time.Time) {
	if !m.Enabled() {
		return
	}

	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status), kind).Inc()

	if !started.IsZero() {
		m.requestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
	}
}

// RecordCacheHit records a read served from cache.
func (m *Metrics) RecordCacheHit() {
	if !m.Enabled() {
		return
	}
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss records a read that needed a fetch.
func (m *Metrics) RecordCacheMiss() {
	if !m.Enabled() {
		return
	}
	m.cacheMissTotal.Inc()
}

// RecordFetch records a completed cache fetch.
func (m *Metrics) RecordFetch(err error) {
	if !m.Enabled() {
		return
	}
	m.cacheFetchesTotal.WithLabelValues(result(err)).Inc()
}

// RecordInvalidations records n entries marked stale.
func (m *Metrics) RecordInvalidations(n int) {
	if !m.Enabled() {
		return
	}
	m.cacheInvalidationsTotal.Add(float64(n))
}

// SetCacheSize sets the current number of cache entries.
func (m *Metrics) SetCacheSize(size int) {
	if !m.Enabled() {
		return
	}
	m.cacheEntries.Set(float64(size))
}

// RecordRefresh records a token refresh call.
func (m *Metrics) RecordRefresh(err error) {
	if !m.Enabled() {
		return
	}
	m.tokenRefreshesTotal.WithLabelValues(result(err)).Inc()
}

// RecordMutation records a completed mutation.
func (m *Metrics) RecordMutation(method string, err error) {
	if !m.Enabled() {
		return
	}
	m.mutationsTotal.WithLabelValues(method, result(err)).Inc()
}

func result(err error) string {
	if err == nil {
		return "success"
	}

	if kind, ok := KindOf(err); ok {
		return kind.String()
	}

	return "error"
}
