package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/pagedex/internal/db"
)

// KV is a key-value cache with optional expiry. It mirrors the Redis KV
// subset used by the embedding cache, including db.ErrKeyNotFound.
type KV struct {
	store *Store
	now   func() time.Time
}

func (k *KV) clock() time.Time {
	if k.now != nil {
		return k.now()
	}
	return time.Now()
}

// Get returns the value or db.ErrKeyNotFound when missing or expired.
func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := k.store.db.QueryRowContext(ctx, "SELECT value, expires_at FROM kv WHERE key = ?", key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	if expiresAt != 0 && k.clock().UnixNano() >= expiresAt {
		return nil, db.ErrKeyNotFound
	}
	return value, nil
}

// Set stores a value without expiry.
func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	return k.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL stores a value; ttl <= 0 never expires.
func (k *KV) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = k.clock().Add(ttl).UnixNano()
	}
	_, err := k.store.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// PurgeExpired deletes expired entries and returns how many were removed.
func (k *KV) PurgeExpired(ctx context.Context) (int, error) {
	res, err := k.store.db.ExecContext(ctx,
		"DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?", k.clock().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging kv: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
