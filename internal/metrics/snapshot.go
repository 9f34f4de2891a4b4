package metrics

import (
	"time"

	"github.com/rpcfleet/rpcfleet/internal/core"
	"github.com/rpcfleet/rpcfleet/internal/core/cache"
)

// Snapshot is the read-only diagnostics view of the pool and cache.
type Snapshot struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Endpoints   []core.EndpointSnapshot `json:"endpoints"`
	Healthy     int                     `json:"healthy"`
	Total       int                     `json:"total"`
	Cache       *cache.Stats            `json:"cache,omitempty"`
}

// Take captures a snapshot. Either source may be nil.
func Take(pool SnapshotSource, c StatsSource, now time.Time) Snapshot {
	snap := Snapshot{GeneratedAt: now.UTC(), Endpoints: []core.EndpointSnapshot{}}
	if pool != nil {
		snap.Endpoints = pool.Snapshot()
	}
	snap.Total = len(snap.Endpoints)
	for _, ep := range snap.Endpoints {
		if ep.Healthy {
			snap.Healthy++
		}
	}
	if c != nil {
		stats := c.Stats()
		snap.Cache = &stats
	}
	return snap
}
