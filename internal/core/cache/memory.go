package cache

import (
	"github.com/jellydator/ttlcache/v3"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// DefaultMemoryCapacity bounds the in-process tier when no capacity is set.
const DefaultMemoryCapacity = 10000

// memoryTier is the in-process copy of recently used entries. Items never
// expire on their own; staleness is judged against SavedAt by the caller's
// freshness window, and capacity pressure evicts the least recently used.
type memoryTier struct {
	items *ttlcache.Cache[string, core.CacheEntry]
}

func newMemoryTier(capacity uint64) *memoryTier {
	if capacity == 0 {
		capacity = DefaultMemoryCapacity
	}
	return &memoryTier{
		items: ttlcache.New[string, core.CacheEntry](
			ttlcache.WithCapacity[string, core.CacheEntry](capacity),
		),
	}
}

func (m *memoryTier) get(id string) (core.CacheEntry, bool) {
	item := m.items.Get(id)
	if item == nil {
		return core.CacheEntry{}, false
	}
	return item.Value(), true
}

func (m *memoryTier) set(id string, entry core.CacheEntry) {
	m.items.Set(id, entry, ttlcache.NoTTL)
}

func (m *memoryTier) delete(id string) {
	m.items.Delete(id)
}

func (m *memoryTier) len() int {
	return m.items.Len()
}

func (m *memoryTier) clear() {
	m.items.DeleteAll()
}

func memoryID(namespace, key string) string {
	return namespace + "\x00" + key
}
