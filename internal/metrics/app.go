// Package metrics exposes pool, cache and server metrics to Prometheus and
// builds the JSON diagnostics snapshot.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rpcfleet"

// Application-level metrics following Prometheus conventions
var (
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Routed operations by method and status.",
	}, []string{"operation", "status"})

	OperationsErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_errors_total",
		Help:      "Failed routed operations by method and error type.",
	}, []string{"operation", "error_type"})

	HealthCheckTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "health_check_total",
		Help:      "Health check executions by check and status.",
	}, []string{"check", "status"})

	HealthCheckDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "health_check_duration_seconds",
		Help:      "Health check latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"check"})

	ServerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_start_time_seconds",
		Help:      "Unix time the diagnostics server started.",
	})
)

func appCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		OperationsTotal,
		OperationsErrorsTotal,
		HealthCheckTotal,
		HealthCheckDuration,
		ServerStartTime,
	}
}

// Register adds every package-level collector to reg. Collectors that are
// already registered are skipped.
func Register(reg prometheus.Registerer) error {
	all := appCollectors()
	all = append(all, errorCollectors()...)
	all = append(all, httpCollectors()...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordOperation records a routed operation with status
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordOperationError records a routed operation error
func RecordOperationError(operation string, errorType string) {
	OperationsErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthCheckTotal.WithLabelValues(checkName, status).Inc()
	HealthCheckDuration.WithLabelValues(checkName).Observe(duration.Seconds())
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	ServerStartTime.Set(float64(timestamp))
}
