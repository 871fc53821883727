package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager owns the process-local Prometheus registry and every
// metric the server exports under the taskmcp_ prefix.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime         prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	toolsTotal     prometheus.Gauge
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	sessionsActive prometheus.Gauge
	indexDocuments prometheus.Gauge
	storageOps     *prometheus.CounterVec
}

// NewMetricsManager builds a fresh registry with the application metrics
// plus the standard Go runtime and process collectors.
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,

		uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskmcp_uptime_seconds",
			Help: "Time since the application started",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmcp_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmcp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		toolsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskmcp_tools_total",
			Help: "Number of dispatchable tools",
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmcp_tool_calls_total",
			Help: "Total number of tool calls",
		}, []string{"tool", "status"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmcp_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tool", "status"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskmcp_sessions_active",
			Help: "Number of live bearer sessions",
		}),
		indexDocuments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskmcp_index_documents_total",
			Help: "Number of documents in the search index",
		}),
		storageOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmcp_storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return mm
}

// Handler serves the registry in OpenMetrics-capable text format.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetUptime publishes seconds elapsed since startTime.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest counts one request and observes its latency.
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetToolsTotal publishes the size of the tool registry.
func (mm *MetricsManager) SetToolsTotal(total int) {
	mm.toolsTotal.Set(float64(total))
}

// RecordToolCall counts one dispatch and observes its latency.
func (mm *MetricsManager) RecordToolCall(tool, status string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(tool, status).Inc()
	mm.toolDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// SetSessionsActive publishes the live session count.
func (mm *MetricsManager) SetSessionsActive(count int) {
	mm.sessionsActive.Set(float64(count))
}

// SetIndexDocuments publishes the search index document count.
func (mm *MetricsManager) SetIndexDocuments(count uint64) {
	mm.indexDocuments.Set(float64(count))
}

// RecordStorageOperation counts one storage call by operation and outcome.
func (mm *MetricsManager) RecordStorageOperation(operation, status string) {
	mm.storageOps.WithLabelValues(operation, status).Inc()
}

// HTTPMiddleware records request count and latency labelled by method,
// path, and numeric status.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			mm.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
		})
	}
}
