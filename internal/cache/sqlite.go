package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists entries in the cache_entries table so a snapshot
// survives restarts on single-node deployments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store over a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Set saves data with expiration = now + ttl (0 = never expires).
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}
	return nil
}

// Get returns data only if it has not expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM cache_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)",
		key, s.now().UnixMilli(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}
	return data, nil
}

// TTL returns the remaining lifetime of key.
func (s *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	now := s.now()

	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT expires_at FROM cache_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)",
		key, now.UnixMilli(),
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get ttl of cache entry %s: %w", key, err)
	}
	if expiresAt == 0 {
		return NoExpiry, nil
	}
	return time.UnixMilli(expiresAt).Sub(now), nil
}

// Delete removes a specific entry.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes all rows past their expiry and returns the count.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?",
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
