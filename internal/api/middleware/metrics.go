package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/penny/internal/metrics"
)

// MetricsCollector counts requests and errors and reports them to Prometheus.
type MetricsCollector struct {
	recorder     *metrics.Manager
	requestCount *atomic.Int64
	errorCount   *atomic.Int64
}

// NewMetricsCollector creates a new metrics collector. recorder may be disabled.
func NewMetricsCollector(recorder *metrics.Manager, requestCount, errorCount *atomic.Int64) *MetricsCollector {
	return &MetricsCollector{
		recorder:     recorder,
		requestCount: requestCount,
		errorCount:   errorCount,
	}
}

// Middleware returns middleware that counts requests and errors.
func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mc.requestCount.Add(1)

		// Wrap response writer to capture status
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		// Count errors (4xx and 5xx)
		if rw.statusCode >= 400 {
			mc.errorCount.Add(1)
		}
		mc.recorder.RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
