// Package observability bundles the Prometheus metrics registry and
// the optional OTLP trace pipeline behind one manager, so the server
// wires a single dependency.
package observability

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Outcome labels shared by the tool and storage metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Config selects which observability features run.
type Config struct {
	Metrics MetricsConfig `json:"metrics"`
	Tracing TracingConfig `json:"tracing"`
}

// MetricsConfig holds configuration for metrics
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig enables metrics and leaves tracing off until an OTLP
// endpoint is configured.
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			SampleRate:     1.0,
		},
	}
}

// Manager coordinates metrics and tracing.
type Manager struct {
	logger    *zap.SugaredLogger
	metrics   *MetricsManager
	tracing   *TracingManager
	startTime time.Time
}

// NewManager builds the enabled subsystems. Disabled ones stay nil and
// the accessors report that.
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	m := &Manager{
		logger:    logger,
		startTime: time.Now(),
	}

	if config.Metrics.Enabled {
		m.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}

	if config.Tracing.Enabled {
		tracing, err := NewTracingManager(logger, config.Tracing)
		if err != nil {
			return nil, err
		}
		m.tracing = tracing
	}

	return m, nil
}

// Metrics returns the metrics manager, nil when metrics are disabled.
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager, nil when tracing is disabled.
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// HTTPMiddleware stacks the metrics and tracing middlewares, metrics
// outermost so it also times the span bookkeeping.
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.tracing != nil {
			next = m.tracing.HTTPMiddleware()(next)
		}
		if m.metrics != nil {
			next = m.metrics.HTTPMiddleware()(next)
		}
		return next
	}
}

// UpdateMetrics refreshes gauges derived from current process state.
func (m *Manager) UpdateMetrics() {
	if m.metrics != nil {
		m.metrics.SetUptime(m.startTime)
	}
}

// Close shuts down the trace pipeline. The metrics registry needs no
// teardown.
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing == nil {
		return nil
	}
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}

// RecordToolCall counts one tool execution and marks the active span
// on error.
func (m *Manager) RecordToolCall(ctx context.Context, toolName string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}

	if m.metrics != nil {
		m.metrics.RecordToolCall(toolName, status, duration)
	}
	if m.tracing != nil && err != nil {
		m.tracing.SetSpanError(ctx, err)
	}
}

// RecordStorageOperation counts the outcome of one storage operation.
func (m *Manager) RecordStorageOperation(operation string, err error) {
	if m.metrics == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.metrics.RecordStorageOperation(operation, status)
}

// statusRecorder captures the response status for the metrics labels
// and span attributes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
