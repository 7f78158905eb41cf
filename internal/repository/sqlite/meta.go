package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

const stampKey = "index_stamp"

// Meta stores engine-level metadata.
type Meta struct {
	store *Store
}

// LoadStamp returns the stored index stamp; ok is false when none exists.
func (m *Meta) LoadStamp(ctx context.Context) (domain.IndexStamp, bool, error) {
	var raw string
	err := m.store.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", stampKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IndexStamp{}, false, nil
	}
	if err != nil {
		return domain.IndexStamp{}, false, fmt.Errorf("loading index stamp: %w", err)
	}
	var s domain.IndexStamp
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return domain.IndexStamp{}, false, fmt.Errorf("decoding index stamp: %w", err)
	}
	return s, true, nil
}

// SaveStamp stores the index stamp, replacing any previous one.
func (m *Meta) SaveStamp(ctx context.Context, s domain.IndexStamp) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding index stamp: %w", err)
	}
	_, err = m.store.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		stampKey, string(raw))
	if err != nil {
		return fmt.Errorf("saving index stamp: %w", err)
	}
	return nil
}

// DeleteStamp removes the stamp.
func (m *Meta) DeleteStamp(ctx context.Context) error {
	if _, err := m.store.db.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", stampKey); err != nil {
		return fmt.Errorf("deleting index stamp: %w", err)
	}
	return nil
}
