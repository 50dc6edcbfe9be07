package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transition outcomes recorded by the engine.
const (
	OutcomeCommitted         = "committed"
	OutcomeForbidden         = "forbidden"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeGuardFailed       = "guard_failed"
	OutcomeConflict          = "conflict"
	OutcomeError             = "error"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheLatency       prometheus.Observer
	cacheWrite         prometheus.Observer
	cacheHitRatio      prometheus.Gauge
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	transitionTotal    *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	cascadeSteps       *prometheus.CounterVec
	cascadeFailures    *prometheus.CounterVec
	cascadePending     prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_transitions_total",
		Help: "Workflow transition requests by workflow, requested status and outcome",
	}, []string{"workflow", "requested", "outcome"})

	transitionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflow_transition_duration_seconds",
		Help:    "Time spent resolving and committing a transition, lock wait included",
		Buckets: prometheus.DefBuckets,
	}, []string{"workflow"})

	cascadeSteps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_step_runs_total",
		Help: "Cascade step executions by workflow, step and outcome",
	}, []string{"workflow", "step", "outcome"})

	cascadeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_failures_total",
		Help: "Cascade steps abandoned after exhausting retries",
	}, []string{"workflow", "step"})

	cascadePending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cascade_pending_events",
		Help: "Committed transitions whose cascade has not completed",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		transitionTotal, transitionDuration,
		cascadeSteps, cascadeFailures, cascadePending,
		goroutines,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		transitionTotal:    transitionTotal,
		transitionDuration: transitionDuration,
		cascadeSteps:       cascadeSteps,
		cascadeFailures:    cascadeFailures,
		cascadePending:     cascadePending,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveTransition records the outcome of one engine call.
func (m *MetricsService) ObserveTransition(workflowType, requested, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(workflowType, requested, outcome).Inc()
	m.transitionDuration.WithLabelValues(workflowType).Observe(duration.Seconds())
}

// RecordCascadeStep counts one cascade step attempt.
func (m *MetricsService) RecordCascadeStep(workflowType, step string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.cascadeSteps.WithLabelValues(workflowType, step, outcome).Inc()
}

// RecordCascadeFailure counts a step abandoned after its final retry.
func (m *MetricsService) RecordCascadeFailure(workflowType, step string) {
	if m == nil {
		return
	}
	m.cascadeFailures.WithLabelValues(workflowType, step).Inc()
}

// SetCascadePending reports how many events still have outstanding steps.
func (m *MetricsService) SetCascadePending(n int) {
	if m == nil {
		return
	}
	m.cascadePending.Set(float64(n))
}
