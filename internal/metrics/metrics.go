// Package metrics exposes Prometheus instrumentation for the chart set pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kumi_chartsets"

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics holds the collectors of one service instance. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissionTotal     *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	nominationTotal     *prometheus.CounterVec
	rankingTotal        prometheus.Counter
	blobOperationTotal  *prometheus.CounterVec
	blobDuration        *prometheus.HistogramVec
	searchSyncTotal     *prometheus.CounterVec
	eventPublishTotal   *prometheus.CounterVec
	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		submissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Chart set submissions and updates by outcome",
		}, []string{"operation", "result"}),

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of submission pipeline stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		nominationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nominations_total",
			Help:      "Nomination state machine transitions",
		}, []string{"outcome"}),

		rankingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranked_sets_total",
			Help:      "Chart sets promoted to ranked by the queue worker",
		}),

		blobOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_operations_total",
			Help:      "Blob store operations by outcome",
		}, []string{"operation", "result"}),

		blobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blob_operation_duration_seconds",
			Help:      "Blob store operation duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		searchSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_syncs_total",
			Help:      "Search index document pushes by outcome",
		}, []string{"result"}),

		eventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Lifecycle event publications by type and outcome",
		}, []string{"event_type", "result"}),

		httpRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissionTotal,
		m.stageDuration,
		m.nominationTotal,
		m.rankingTotal,
		m.blobOperationTotal,
		m.blobDuration,
		m.searchSyncTotal,
		m.eventPublishTotal,
		m.httpRequestTotal,
		m.httpRequestDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveSubmission(operation string, err error) {
	if m == nil {
		return
	}
	m.submissionTotal.WithLabelValues(operation, result(err)).Inc()
}

func (m *Metrics) ObserveStage(stage string, startedAt time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(startedAt).Seconds())
}

func (m *Metrics) ObserveNomination(outcome string) {
	if m == nil {
		return
	}
	m.nominationTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRanked(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rankingTotal.Add(float64(count))
}

func (m *Metrics) ObserveBlob(operation string, startedAt time.Time, err error) {
	if m == nil {
		return
	}
	m.blobOperationTotal.WithLabelValues(operation, result(err)).Inc()
	m.blobDuration.WithLabelValues(operation).Observe(time.Since(startedAt).Seconds())
}

func (m *Metrics) ObserveSearchSync(err error) {
	if m == nil {
		return
	}
	m.searchSyncTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveEventPublish(eventType string, err error) {
	if m == nil {
		return
	}
	m.eventPublishTotal.WithLabelValues(eventType, result(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, startedAt time.Time) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(startedAt).Seconds())
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}
