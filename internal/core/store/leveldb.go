package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// keySep joins namespace and key; neither may contain it.
const keySep = "\x00"

// LevelDB is an embedded key-value durable tier. Entries use the same
// record layout as FS, keyed by namespace and key.
type LevelDB struct {
	db     *leveldb.DB
	logger *zap.Logger
}

// OpenLevelDB opens or creates a database under dir.
func OpenLevelDB(dir string, logger *zap.Logger) (*LevelDB, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("leveldb directory is required")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return newLevelDB(db, logger), nil
}

// OpenLevelDBMemory returns a database kept in memory.
func OpenLevelDBMemory(logger *zap.Logger) (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return newLevelDB(db, logger), nil
}

func newLevelDB(db *leveldb.DB, logger *zap.Logger) *LevelDB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelDB{db: db, logger: logger}
}

// Close releases the database.
func (l *LevelDB) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// CheckHealth reports whether the database is still open.
func (l *LevelDB) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := l.db.GetProperty("leveldb.stats"); err != nil {
		return fmt.Errorf("leveldb: %w", err)
	}
	return nil
}

// Load reads one entry.
func (l *LevelDB) Load(ctx context.Context, namespace, key string) (core.CacheEntry, bool, error) {
	k, err := levelKey(namespace, key)
	if err != nil {
		return core.CacheEntry{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return core.CacheEntry{}, false, err
	}

	raw, err := l.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return core.CacheEntry{}, false, nil
	}
	if err != nil {
		return core.CacheEntry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	entry, err := decodeRecord(raw, namespace+"/"+key)
	if err != nil {
		return core.CacheEntry{}, false, err
	}
	entry.Namespace, entry.Key = namespace, key
	return entry, true, nil
}

// Save writes one entry. A single Put is atomic.
func (l *LevelDB) Save(ctx context.Context, entry core.CacheEntry) error {
	k, err := levelKey(entry.Namespace, entry.Key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeRecord(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := l.db.Put(k, payload, nil); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (l *LevelDB) Delete(ctx context.Context, namespace, key string) (bool, error) {
	k, err := levelKey(namespace, key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed, err := l.db.Has(k, nil)
	if err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	if !existed {
		return false, nil
	}
	if err := l.db.Delete(k, nil); err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	return true, nil
}

// List iterates entries in key order, which sorts by namespace then key.
func (l *LevelDB) List(ctx context.Context, namespace string) ([]core.CacheEntry, error) {
	var rng *util.Range
	if namespace != "" {
		rng = util.BytesPrefix([]byte(namespace + keySep))
	}

	iter := l.db.NewIterator(rng, nil)
	defer iter.Release()

	var out []core.CacheEntry
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := string(iter.Key())
		entry, err := decodeRecord(iter.Value(), name)
		if err != nil {
			l.logger.Warn("skipping unreadable cache record", zap.String("key", name), zap.Error(err))
			continue
		}
		if ns, key, ok := strings.Cut(name, keySep); ok {
			entry.Namespace, entry.Key = ns, key
		}
		out = append(out, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	return out, nil
}

func levelKey(namespace, key string) ([]byte, error) {
	if namespace == "" || key == "" {
		return nil, errors.New("cache namespace and key are required")
	}
	if strings.Contains(namespace, keySep) || strings.Contains(key, keySep) {
		return nil, errors.New("cache namespace and key must not contain NUL")
	}
	return []byte(namespace + keySep + key), nil
}
