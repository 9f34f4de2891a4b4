package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpcfleet/rpcfleet/internal/core/cache"
)

// StatsSource yields cache counters. *cache.Cache satisfies it.
type StatsSource interface {
	Stats() cache.Stats
}

// CacheCollector exports cache counters on every scrape.
type CacheCollector struct {
	source StatsSource

	lookups  *prometheus.Desc
	events   *prometheus.Desc
	inflight *prometheus.Desc
	entries  *prometheus.Desc
}

// NewCacheCollector builds a collector over source.
func NewCacheCollector(source StatsSource) *CacheCollector {
	return &CacheCollector{
		source: source,
		lookups: prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "lookups_total"),
			"Cache lookups by result.", []string{"result"}, nil),
		events: prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "events_total"),
			"Coalescing, error and cleanup events.", []string{"event"}, nil),
		inflight: prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "inflight"),
			"Fetches currently in flight.", nil, nil),
		entries: prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", "memory_entries"),
			"Entries held in memory.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lookups
	ch <- c.events
	ch <- c.inflight
	ch <- c.entries
}

// Collect implements prometheus.Collector.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	lookup := func(result string, v uint64) {
		ch <- prometheus.MustNewConstMetric(c.lookups, prometheus.CounterValue, float64(v), result)
	}
	lookup("memory_hit", s.MemoryHits)
	lookup("durable_hit", s.DurableHits)
	lookup("miss", s.Misses)

	event := func(name string, v uint64) {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), name)
	}
	event("coalesced", s.Coalesced)
	event("fetch_error", s.FetchErrors)
	event("durable_error", s.DurableErrors)
	event("cleanup_removal", s.CleanupRemovals)

	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(s.InFlight))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.MemoryEntries))
}
