package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution modes
const (
	ModeLive   = "live"
	ModeReplay = "replay"
)

// Metrics holds the Prometheus collectors of the control plane.
//
// Metrics:
//   - <ns>_resolutions_total: resolutions by mode and outcome
//   - <ns>_resolution_duration_seconds: resolution latency by mode
//   - <ns>_resolved_rules: size of resolved rule sets
//   - <ns>_mutations_total: audited mutations by event type
//   - <ns>_version_conflicts_total: failed compare-and-swap writes by entity type
//   - <ns>_quota_rejections_total: quota gate refusals by reason
//   - <ns>_snapshot_cache_requests_total: snapshot cache lookups by result
//   - <ns>_integrity_violations_total: dangling references found by the sweeper
//   - <ns>_http_requests_total / <ns>_http_request_duration_seconds
type Metrics struct {
	registry *prometheus.Registry

	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	resolvedRules      prometheus.Histogram
	mutationsTotal     *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	quotaRejections    *prometheus.CounterVec
	cacheRequests      *prometheus.CounterVec
	integrityTotal     prometheus.Counter
	sweepsTotal        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector on a private registry.
// namespace defaults to "guardrails".
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "guardrails"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of policy resolutions",
			},
			[]string{"mode", "outcome"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of policy resolution in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~800ms
			},
			[]string{"mode"},
		),
		resolvedRules: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolved_rules",
				Help:      "Number of rules in a resolved rule set",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Total number of audited mutations",
			},
			[]string{"event_type"},
		),
		conflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_conflicts_total",
				Help:      "Total number of optimistic concurrency conflicts",
			},
			[]string{"entity_type"},
		),
		quotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_rejections_total",
				Help:      "Total number of requests refused by the app quota gate",
			},
			[]string{"reason"},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_cache_requests_total",
				Help:      "Snapshot cache lookups",
			},
			[]string{"result"},
		),
		integrityTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_violations_total",
				Help:      "Dangling rule references found by the integrity sweeper",
			},
		),
		sweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_sweeps_total",
				Help:      "Completed integrity sweeps",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.resolutionsTotal,
		m.resolutionDuration,
		m.resolvedRules,
		m.mutationsTotal,
		m.conflictsTotal,
		m.quotaRejections,
		m.cacheRequests,
		m.integrityTotal,
		m.sweepsTotal,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics exposition handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RecordResolution records one resolution attempt
func (m *Metrics) RecordResolution(mode, outcome string, duration time.Duration, rules int) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(mode, outcome).Inc()
	m.resolutionDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if outcome == "success" {
		m.resolvedRules.Observe(float64(rules))
	}
}

// RecordMutation counts an audited mutation
func (m *Metrics) RecordMutation(eventType string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(eventType).Inc()
}

// RecordConflict counts a compare-and-swap failure
func (m *Metrics) RecordConflict(entityType string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(entityType).Inc()
}

// RecordQuotaRejection counts a quota gate refusal
func (m *Metrics) RecordQuotaRejection(reason string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(reason).Inc()
}

// RecordCacheLookup counts a snapshot cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// RecordSweep records a completed integrity sweep and its violations
func (m *Metrics) RecordSweep(violations int, failed bool) {
	if m == nil {
		return
	}
	m.integrityTotal.Add(float64(violations))
	outcome := "clean"
	switch {
	case failed:
		outcome = "error"
	case violations > 0:
		outcome = "violations"
	}
	m.sweepsTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one served HTTP request. route is the chi
// route pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
