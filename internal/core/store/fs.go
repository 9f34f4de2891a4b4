package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

const (
	entryExt   = ".json"
	tempPrefix = ".tmp-"
)

// safeName stops one short of the 64-character hash length, so a verbatim
// name can never equal a hashed one.
var safeName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// FileName maps a namespace or key to its on-disk name: the value itself
// when it is short and safe, otherwise the hex SHA-256 of the value.
func FileName(name string) string {
	if safeName.MatchString(name) {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// fileRecord is the on-disk layout of one entry. Namespace and key are kept
// so hashed file names can still be listed.
type fileRecord struct {
	SavedAt   int64           `json:"savedAt"`
	Namespace string          `json:"namespace,omitempty"`
	Key       string          `json:"key,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// FS stores entries as one JSON file per key under one directory per
// namespace. Writes go through a temp file and rename, so a reader sees
// either the old entry or the new one.
type FS struct {
	root   string
	logger *zap.Logger
}

// FSOption configures an FS store.
type FSOption func(*FS)

// WithFSLogger sets the logger used for skipped or unreadable files.
func WithFSLogger(logger *zap.Logger) FSOption {
	return func(f *FS) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFS creates root if needed and returns a store rooted there.
func NewFS(root string, opts ...FSOption) (*FS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("cache directory is required")
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	f := &FS{root: filepath.Clean(root), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the base directory.
func (f *FS) Root() string {
	return f.root
}

// CheckHealth reports whether the root directory is still usable.
func (f *FS) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("stat cache directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cache root %s is not a directory", f.root)
	}
	return nil
}

// Path returns the file that holds (namespace, key).
func (f *FS) Path(namespace, key string) string {
	return filepath.Join(f.root, FileName(namespace), FileName(key)+entryExt)
}

// Load reads one entry.
func (f *FS) Load(ctx context.Context, namespace, key string) (core.CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.CacheEntry{}, false, err
	}
	if namespace == "" || key == "" {
		return core.CacheEntry{}, false, errors.New("cache namespace and key are required")
	}

	entry, err := readRecord(f.Path(namespace, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.CacheEntry{}, false, nil
		}
		return core.CacheEntry{}, false, err
	}
	if (entry.Namespace != "" && entry.Namespace != namespace) || (entry.Key != "" && entry.Key != key) {
		f.logger.Warn("cache file belongs to another key",
			zap.String("path", f.Path(namespace, key)),
			zap.String("stored_key", entry.Key))
		return core.CacheEntry{}, false, nil
	}
	entry.Namespace, entry.Key = namespace, key
	return entry, true, nil
}

// Save writes one entry atomically.
func (f *FS) Save(ctx context.Context, entry core.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Namespace == "" || entry.Key == "" {
		return errors.New("cache namespace and key are required")
	}

	payload, err := encodeRecord(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := f.Path(entry.Namespace, entry.Key)
	dir := filepath.Dir(path)
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create namespace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (f *FS) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if namespace == "" || key == "" {
		return false, errors.New("cache namespace and key are required")
	}

	err := os.Remove(f.Path(namespace, key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
}

// List reads every entry of a namespace, or of all namespaces when
// namespace is empty. Unreadable files are skipped and logged.
func (f *FS) List(ctx context.Context, namespace string) ([]core.CacheEntry, error) {
	var dirs []string
	if namespace != "" {
		dirs = []string{filepath.Join(f.root, FileName(namespace))}
	} else {
		items, err := os.ReadDir(f.root)
		if err != nil {
			return nil, fmt.Errorf("read cache directory: %w", err)
		}
		for _, item := range items {
			if item.IsDir() {
				dirs = append(dirs, filepath.Join(f.root, item.Name()))
			}
		}
	}

	var out []core.CacheEntry
	for _, dir := range dirs {
		items, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read namespace directory: %w", err)
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			name := item.Name()
			if item.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, entryExt) {
				continue
			}
			entry, err := readRecord(filepath.Join(dir, name))
			if err != nil {
				f.logger.Warn("skipping unreadable cache file",
					zap.String("path", filepath.Join(dir, name)),
					zap.Error(err))
				continue
			}
			if entry.Namespace == "" {
				entry.Namespace = filepath.Base(dir)
			}
			if entry.Key == "" {
				entry.Key = strings.TrimSuffix(name, entryExt)
			}
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// encodeRecord writes data verbatim; json.Marshal would compact and
// re-escape the payload.
func encodeRecord(entry core.CacheEntry) ([]byte, error) {
	if !json.Valid(entry.Data) {
		return nil, errors.New("data is not valid JSON")
	}
	head, err := json.Marshal(fileRecord{
		SavedAt:   entry.SavedAt.UnixMilli(),
		Namespace: entry.Namespace,
		Key:       entry.Key,
		Data:      json.RawMessage("null"),
	})
	if err != nil {
		return nil, err
	}
	// head ends in `"data":null}`.
	head = head[:len(head)-len("null}")]
	out := make([]byte, 0, len(head)+len(entry.Data)+1)
	out = append(out, head...)
	out = append(out, entry.Data...)
	return append(out, '}'), nil
}

func readRecord(path string) (core.CacheEntry, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is built from the cache root
	if err != nil {
		return core.CacheEntry{}, err
	}
	return decodeRecord(raw, filepath.Base(path))
}

func decodeRecord(raw []byte, name string) (core.CacheEntry, error) {
	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return core.CacheEntry{}, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(rec.Data) == 0 {
		return core.CacheEntry{}, fmt.Errorf("decode %s: missing data", name)
	}
	return core.CacheEntry{
		Namespace: rec.Namespace,
		Key:       rec.Key,
		SavedAt:   time.UnixMilli(rec.SavedAt).UTC(),
		Data:      rec.Data,
	}, nil
}
