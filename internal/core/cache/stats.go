package cache

import "sync/atomic"

// Stats counts cache activity since construction.
type Stats struct {
	MemoryHits      uint64 `json:"memory_hits"`
	DurableHits     uint64 `json:"durable_hits"`
	Misses          uint64 `json:"misses"`
	Coalesced       uint64 `json:"coalesced"`
	FetchErrors     uint64 `json:"fetch_errors"`
	DurableErrors   uint64 `json:"durable_errors"`
	CleanupRemovals uint64 `json:"cleanup_removals"`
	InFlight        int    `json:"in_flight"`
	MemoryEntries   int    `json:"memory_entries"`
}

type counters struct {
	memoryHits      atomic.Uint64
	durableHits     atomic.Uint64
	misses          atomic.Uint64
	coalesced       atomic.Uint64
	fetchErrors     atomic.Uint64
	durableErrors   atomic.Uint64
	cleanupRemovals atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		MemoryHits:      c.memoryHits.Load(),
		DurableHits:     c.durableHits.Load(),
		Misses:          c.misses.Load(),
		Coalesced:       c.coalesced.Load(),
		FetchErrors:     c.fetchErrors.Load(),
		DurableErrors:   c.durableErrors.Load(),
		CleanupRemovals: c.cleanupRemovals.Load(),
	}
}
