package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Error envelopes returned by code and HTTP status.",
	}, []string{"error_code", "http_status"})

	PanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "panics_total",
		Help:      "Recovered handler panics.",
	})

	ErrorsByEndpoint = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_by_endpoint",
		Help:      "Error envelopes by route pattern and code.",
	}, []string{"endpoint", "error_code"})
)

func errorCollectors() []prometheus.Collector {
	return []prometheus.Collector{ErrorsTotal, PanicsTotal, ErrorsByEndpoint}
}

// RecordError records an error with code and status
func RecordError(errorCode string, httpStatus int) {
	ErrorsTotal.WithLabelValues(errorCode, strconv.Itoa(httpStatus)).Inc()
}

// RecordPanic records a panic recovery
func RecordPanic() {
	PanicsTotal.Inc()
}

// RecordErrorByEndpoint records an error by endpoint
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	ErrorsByEndpoint.WithLabelValues(endpoint, errorCode).Inc()
}
