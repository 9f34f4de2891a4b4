package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status.",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	HTTPResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response body size.",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
	}, []string{"method", "endpoint"})

	HTTPErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_errors_total",
		Help:      "HTTP responses with status >= 400.",
	}, []string{"method", "endpoint", "status", "error_type"})
)

func httpCollectors() []prometheus.Collector {
	return []prometheus.Collector{HTTPRequestsTotal, HTTPRequestDuration, HTTPResponseSize, HTTPErrorsTotal}
}

// RecordHTTPRequest records one completed request.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration, responseBytes int64) {
	code := strconv.Itoa(status)
	HTTPRequestsTotal.WithLabelValues(method, endpoint, code).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, code).Observe(duration.Seconds())
	HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseBytes))

	if status >= 400 {
		errorType := "client_error"
		if status >= 500 {
			errorType = "server_error"
		}
		HTTPErrorsTotal.WithLabelValues(method, endpoint, code, errorType).Inc()
	}
}
