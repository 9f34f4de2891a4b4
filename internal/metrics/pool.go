package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// SnapshotSource yields per-endpoint health snapshots. *pool.Registry
// satisfies it.
type SnapshotSource interface {
	Snapshot() []core.EndpointSnapshot
}

// PoolCollector exports registry health state on every scrape.
type PoolCollector struct {
	source SnapshotSource

	healthy      *prometheus.Desc
	failures     *prometheus.Desc
	successes    *prometheus.Desc
	processed    *prometheus.Desc
	concurrent   *prometheus.Desc
	maxConc      *prometheus.Desc
	latency      *prometheus.Desc
	backoffUntil *prometheus.Desc
	errors       *prometheus.Desc
}

// NewPoolCollector builds a collector over source.
func NewPoolCollector(source SnapshotSource) *PoolCollector {
	labels := []string{"index", "url"}
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "endpoint", name), help, append(labels, extra...), nil)
	}
	return &PoolCollector{
		source:       source,
		healthy:      desc("healthy", "1 when the endpoint is healthy."),
		failures:     desc("failures", "Current failure counter."),
		successes:    desc("successes_total", "Successful attempts."),
		processed:    desc("processed_total", "Attempts released against the endpoint."),
		concurrent:   desc("concurrent", "In-flight attempts."),
		maxConc:      desc("max_concurrent", "Concurrency limit."),
		latency:      desc("latency_avg_seconds", "Moving average attempt latency."),
		backoffUntil: desc("backoff_until_seconds", "Unix time the quarantine ends, 0 when none."),
		errors:       desc("errors_total", "Failed attempts by category.", "category"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.healthy, c.failures, c.successes, c.processed, c.concurrent,
		c.maxConc, c.latency, c.backoffUntil, c.errors,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.Snapshot() {
		idx := strconv.Itoa(s.Index)
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, idx, s.URL)
		}
		counter := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, idx, s.URL)
		}

		healthy := 0.0
		if s.Healthy {
			healthy = 1
		}
		gauge(c.healthy, healthy)
		gauge(c.failures, float64(s.Failures))
		counter(c.successes, float64(s.Successes))
		counter(c.processed, float64(s.ProcessedCount))
		gauge(c.concurrent, float64(s.CurrentConcurrent))
		gauge(c.maxConc, float64(s.MaxConcurrent))
		if s.AvgLatencyMs != nil {
			gauge(c.latency, *s.AvgLatencyMs/1000)
		}
		until := 0.0
		if s.BackoffUntil != nil {
			until = float64(s.BackoffUntil.UnixMilli()) / 1000
		}
		gauge(c.backoffUntil, until)

		for _, cat := range core.Categories {
			ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue,
				float64(s.ErrorCounts.Get(cat)), idx, s.URL, string(cat))
		}
	}
}
