package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// MetricsRegistry collects every rpcfleet metric served on /metrics.
	MetricsRegistry *prometheus.Registry

	metricsOnce sync.Once
)

// InitMetrics creates the process-wide registry with Go runtime and process
// collectors. Repeated calls return the same registry.
func InitMetrics() *prometheus.Registry {
	metricsOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		MetricsRegistry = reg
	})
	return MetricsRegistry
}
