package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Metrics interface for dependency injection
type Metrics interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordIngestRun(feed, outcome string, duration time.Duration)
	RecordObservation(status string)
	RecordBatchFlush(kind, status string, rows int)
	SetDBConnectionsActive(count float64)
	RecordDBQuery(operation, status string)
	Handler() http.Handler
}

// NoOpMetrics provides a no-op implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
}
func (m *NoOpMetrics) RecordIngestRun(feed, outcome string, duration time.Duration) {}
func (m *NoOpMetrics) RecordObservation(status string)                              {}
func (m *NoOpMetrics) RecordBatchFlush(kind, status string, rows int)               {}
func (m *NoOpMetrics) SetDBConnectionsActive(count float64)                         {}
func (m *NoOpMetrics) RecordDBQuery(operation, status string)                       {}
func (m *NoOpMetrics) Handler() http.Handler                                        { return http.NotFoundHandler() }

var (
	mu            sync.RWMutex
	globalMetrics Metrics = &NoOpMetrics{}
)

// Init initializes metrics (no-op for now, can be extended with Prometheus)
func Init() {}

// Use replaces the global metrics sink
func Use(m Metrics) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		m = &NoOpMetrics{}
	}
	globalMetrics = m
}

func current() Metrics {
	mu.RLock()
	defer mu.RUnlock()
	return globalMetrics
}

// Handler returns the metrics handler
func Handler() http.Handler {
	return current().Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	current().RecordHTTPRequest(method, endpoint, statusCode, duration)
}

// RecordIngestRun records one ingestion run
func RecordIngestRun(feed, outcome string, duration time.Duration) {
	current().RecordIngestRun(feed, outcome, duration)
}

// RecordObservation records one parsed price observation (changed, unchanged, rejected)
func RecordObservation(status string) {
	current().RecordObservation(status)
}

// RecordBatchFlush records a flushed or failed batch
func RecordBatchFlush(kind, status string, rows int) {
	current().RecordBatchFlush(kind, status, rows)
}

// SetDBConnectionsActive sets the number of active database connections
func SetDBConnectionsActive(count float64) {
	current().SetDBConnectionsActive(count)
}

// RecordDBQuery records database query metrics
func RecordDBQuery(operation, status string) {
	current().RecordDBQuery(operation, status)
}
