package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the console
type Metrics struct {
	// Console API
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Dialer backend
	BackendRequestsTotal          *prometheus.CounterVec
	BackendRequestDurationSeconds *prometheus.HistogramVec
	RetryAttemptsTotal            *prometheus.CounterVec
	DeleteFallbackTotal           prometheus.Counter

	// Sync cache
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEntries        prometheus.Gauge
	CoalescedListsTotal prometheus.Counter

	// Polling
	PollerRunsTotal     *prometheus.CounterVec
	PollerFailuresTotal *prometheus.CounterVec
	ActiveCalls         prometheus.Gauge

	// Operator quotas
	QuotaExceededTotal *prometheus.CounterVec

	// System
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_api_requests_total",
				Help: "Total number of console API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discador_api_request_duration_seconds",
				Help:    "Console API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_api_errors_total",
				Help: "Total number of console API errors",
			},
			[]string{"error_type"},
		),

		BackendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_backend_requests_total",
				Help: "Total number of requests sent to the dialer backend",
			},
			[]string{"method", "endpoint", "status"},
		),
		BackendRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discador_backend_request_duration_seconds",
				Help:    "Dialer backend request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "endpoint"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_retry_attempts_total",
				Help: "Total number of retried backend operations",
			},
			[]string{"operation"},
		),
		DeleteFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "discador_campaign_delete_fallback_total",
				Help: "Total number of campaign deletes served by the legacy endpoint",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_cache_hits_total",
				Help: "Total number of sync cache hits",
			},
			[]string{"resource"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_cache_misses_total",
				Help: "Total number of sync cache misses",
			},
			[]string{"resource"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "discador_cache_entries",
				Help: "Number of entries held by the sync cache",
			},
		),
		CoalescedListsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "discador_campaign_list_coalesced_total",
				Help: "Total number of campaign list calls that joined an in-flight refresh",
			},
		),

		PollerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_poller_runs_total",
				Help: "Total number of polling task runs",
			},
			[]string{"task"},
		),
		PollerFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_poller_failures_total",
				Help: "Total number of failed polling task runs",
			},
			[]string{"task"},
		),
		ActiveCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "discador_active_calls",
				Help: "Active calls reported by the last monitor poll",
			},
		),

		QuotaExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discador_quota_exceeded_total",
				Help: "Total number of operator actions rejected by quota",
			},
			[]string{"window"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "discador_uptime_seconds",
				Help: "Console uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "discador_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "discador_storage_used_bytes",
				Help: "Snapshot BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDurationSeconds,
		m.RetryAttemptsTotal,
		m.DeleteFallbackTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEntries,
		m.CoalescedListsTotal,
		m.PollerRunsTotal,
		m.PollerFailuresTotal,
		m.ActiveCalls,
		m.QuotaExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveBackendRequest records one dialer backend round-trip
func ObserveBackendRequest(method, endpoint, status string, d time.Duration) {
	m := Global()
	if m != nil {
		m.BackendRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		m.BackendRequestDurationSeconds.WithLabelValues(method, endpoint).Observe(d.Seconds())
	}
}

// IncRetry increments the retry counter for an operation
func IncRetry(operation string) {
	m := Global()
	if m != nil {
		m.RetryAttemptsTotal.WithLabelValues(operation).Inc()
	}
}

// IncDeleteFallback counts a delete that needed the legacy endpoint
func IncDeleteFallback() {
	m := Global()
	if m != nil {
		m.DeleteFallbackTotal.Inc()
	}
}

// IncCacheHit increments the cache hit counter
func IncCacheHit(resource string) {
	m := Global()
	if m != nil {
		m.CacheHitsTotal.WithLabelValues(resource).Inc()
	}
}

// IncCacheMiss increments the cache miss counter
func IncCacheMiss(resource string) {
	m := Global()
	if m != nil {
		m.CacheMissesTotal.WithLabelValues(resource).Inc()
	}
}

// IncCoalescedList counts a list call served by a shared refresh
func IncCoalescedList() {
	m := Global()
	if m != nil {
		m.CoalescedListsTotal.Inc()
	}
}

// ObservePollerRun records a polling task run
func ObservePollerRun(task string, err error) {
	m := Global()
	if m != nil {
		m.PollerRunsTotal.WithLabelValues(task).Inc()
		if err != nil {
			m.PollerFailuresTotal.WithLabelValues(task).Inc()
		}
	}
}

// SetActiveCalls sets the active call gauge
func SetActiveCalls(n int) {
	m := Global()
	if m != nil {
		m.ActiveCalls.Set(float64(n))
	}
}

// IncQuotaExceeded increments the quota rejection counter
func IncQuotaExceeded(window string) {
	m := Global()
	if m != nil {
		m.QuotaExceededTotal.WithLabelValues(window).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
