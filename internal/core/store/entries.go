package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// Load returns the cached entry for (namespace, key).
func (s *Store) Load(ctx context.Context, namespace, key string) (core.CacheEntry, bool, error) {
	if s == nil || s.DB == nil {
		return core.CacheEntry{}, false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	namespace, key, err := normalizeEntryKey(namespace, key)
	if err != nil {
		return core.CacheEntry{}, false, err
	}

	var (
		savedAt int64
		data    string
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT saved_at, data
		FROM cache_entries
		WHERE namespace = ? AND key = ?
	`, namespace, key)

	if err := row.Scan(&savedAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.CacheEntry{}, false, nil
		}
		return core.CacheEntry{}, false, fmt.Errorf("fetch cache entry: %w", err)
	}

	return core.CacheEntry{
		Namespace: namespace,
		Key:       key,
		SavedAt:   time.UnixMilli(savedAt).UTC(),
		Data:      json.RawMessage(data),
	}, true, nil
}

// Save upserts an entry. A single statement keeps the write atomic.
func (s *Store) Save(ctx context.Context, entry core.CacheEntry) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	namespace, key, err := normalizeEntryKey(entry.Namespace, entry.Key)
	if err != nil {
		return err
	}
	if !json.Valid(entry.Data) {
		return errors.New("cache entry data is not valid JSON")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, saved_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			saved_at = excluded.saved_at,
			data = excluded.data
	`, namespace, key, entry.SavedAt.UTC().UnixMilli(), string(entry.Data))
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}

	return nil
}

// Delete removes an entry and reports whether a row existed.
func (s *Store) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	namespace, key, err := normalizeEntryKey(namespace, key)
	if err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	return affected > 0, nil
}

// List returns entries ordered by namespace and key. An empty namespace
// lists every namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]core.CacheEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT namespace, key, saved_at, data FROM cache_entries`
	var args []any
	if ns := strings.TrimSpace(namespace); ns != "" {
		query += ` WHERE namespace = ?`
		args = append(args, ns)
	}
	query += ` ORDER BY namespace, key`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []core.CacheEntry
	for rows.Next() {
		var (
			entry   core.CacheEntry
			savedAt int64
			data    string
		)
		if err := rows.Scan(&entry.Namespace, &entry.Key, &savedAt, &data); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entry.SavedAt = time.UnixMilli(savedAt).UTC()
		entry.Data = json.RawMessage(data)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	return out, nil
}

func normalizeEntryKey(namespace, key string) (string, string, error) {
	namespace = strings.TrimSpace(namespace)
	key = strings.TrimSpace(key)
	if namespace == "" || key == "" {
		return "", "", errors.New("cache namespace and key are required")
	}
	return namespace, key, nil
}
