package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for reference ingestion.
// Metrics are organized by subsystem: source requests, imports and parsed
// records. A nil *Metrics is valid and records nothing, so components can take
// one unconditionally.
type Metrics struct {
	// SourceRequestsTotal counts HTTP requests to bibliographic sources, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to bibliographic sources in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// ImportsStarted counts imports initiated, labeled by import kind.
	ImportsStarted *prometheus.CounterVec

	// ImportsCompleted counts imports that returned references, labeled by kind and outcome (ok, degraded).
	ImportsCompleted *prometheus.CounterVec

	// ImportsFailed counts imports that returned nothing, labeled by kind and outcome.
	ImportsFailed *prometheus.CounterVec

	// ImportDuration observes end-to-end import duration in seconds, labeled by kind.
	ImportDuration *prometheus.HistogramVec

	// IDsPerSearch observes the number of ids a search returned.
	IDsPerSearch prometheus.Histogram

	// ReferencesProduced counts references produced, labeled by import kind.
	ReferencesProduced *prometheus.CounterVec

	// RecordIssues counts record-level issues absorbed while parsing, labeled by issue kind.
	RecordIssues *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default
// Prometheus registry. The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Sources
		SourceRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to bibliographic sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to bibliographic sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to bibliographic sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from bibliographic sources",
		}, []string{"source"}),

		// Imports
		ImportsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_started_total",
			Help:      "Total number of imports started by kind",
		}, []string{"kind"}),
		ImportsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_completed_total",
			Help:      "Total number of imports completed by kind and outcome",
		}, []string{"kind", "outcome"}),
		ImportsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_failed_total",
			Help:      "Total number of imports that failed by kind and outcome",
		}, []string{"kind", "outcome"}),
		ImportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Duration of imports in seconds by kind",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		IDsPerSearch: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ids_per_search",
			Help:      "Number of ids returned per search",
			Buckets:   []float64{0, 1, 10, 100, 1000, 5000, 10000, 50000},
		}),

		// Records
		ReferencesProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_produced_total",
			Help:      "Total number of references produced by import kind",
		}, []string{"kind"}),
		RecordIssues: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_issues_total",
			Help:      "Total number of record-level issues by issue kind",
		}, []string{"kind"}),
	}
}

// ObserveRequest records one HTTP exchange with a source. It satisfies the
// request observer interface of the source clients.
func (m *Metrics) ObserveRequest(source, endpoint string, statusCode int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.RecordSourceRequest(source, endpoint, duration.Seconds())
	if errorType := requestErrorType(statusCode, err); errorType != "" {
		m.RecordSourceRequestFailed(source, endpoint, errorType)
	}
	if statusCode == http.StatusTooManyRequests {
		m.RecordSourceRateLimited(source)
	}
}

// RecordSourceRequest records a request to a source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordImportStarted records that an import has started.
func (m *Metrics) RecordImportStarted(kind string) {
	if m == nil {
		return
	}
	m.ImportsStarted.WithLabelValues(kind).Inc()
}

// RecordImportCompleted records an import that returned references.
func (m *Metrics) RecordImportCompleted(kind, outcome string, references int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ImportsCompleted.WithLabelValues(kind, outcome).Inc()
	m.ReferencesProduced.WithLabelValues(kind).Add(float64(references))
	m.ImportDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordImportFailed records an import that failed.
func (m *Metrics) RecordImportFailed(kind, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ImportsFailed.WithLabelValues(kind, outcome).Inc()
	m.ImportDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordSearchResults records the size of a search result.
func (m *Metrics) RecordSearchResults(count int) {
	if m == nil {
		return
	}
	m.IDsPerSearch.Observe(float64(count))
}

// RecordIssue records one record-level issue.
func (m *Metrics) RecordIssue(kind string) {
	if m == nil {
		return
	}
	m.RecordIssues.WithLabelValues(kind).Inc()
}

// requestErrorType classifies a failed exchange for the error_type label.
// It returns "" for a successful one.
func requestErrorType(statusCode int, err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case err != nil:
		return "network"
	case statusCode >= http.StatusBadRequest:
		return "status_" + strconv.Itoa(statusCode)
	default:
		return ""
	}
}
