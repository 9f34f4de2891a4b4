package cache

import (
	"context"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// Durable persists cache entries across restarts. Implementations must make
// Save atomic per key so readers never observe a torn entry.
type Durable interface {
	// Load returns the stored entry; ok is false when none exists.
	Load(ctx context.Context, namespace, key string) (entry core.CacheEntry, ok bool, err error)
	Save(ctx context.Context, entry core.CacheEntry) error
	// Delete removes an entry and reports whether one existed.
	Delete(ctx context.Context, namespace, key string) (removed bool, err error)
	// List returns the entries of one namespace, or of every namespace
	// when namespace is empty.
	List(ctx context.Context, namespace string) ([]core.CacheEntry, error)
}
