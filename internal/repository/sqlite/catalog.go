package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/document"
)

// Catalog persists documents, one row per source file.
type Catalog struct {
	store *Store
}

const documentColumns = `id, path, division, content_type, size, mtime, content_hash,
	total_pages, status, warnings, last_error, indexed_at, updated_at`

// Save inserts or replaces a document.
func (c *Catalog) Save(ctx context.Context, d *document.Document) error {
	warnings, err := json.Marshal(nonNil(d.Warnings()))
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}
	fp := d.Fingerprint()
	_, err = c.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			division = excluded.division,
			content_type = excluded.content_type,
			size = excluded.size,
			mtime = excluded.mtime,
			content_hash = excluded.content_hash,
			total_pages = excluded.total_pages,
			status = excluded.status,
			warnings = excluded.warnings,
			last_error = excluded.last_error,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at`,
		d.ID(), d.Path(), d.Division(), d.ContentType(),
		fp.Size, toNanos(fp.ModTime), fp.ContentHash,
		d.TotalPages(), string(d.Status()), string(warnings), d.LastError(),
		toNanos(d.IndexedAt()), toNanos(d.UpdatedAt()),
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", d.Path(), err)
	}
	return nil
}

// Get returns a document by id or domain.ErrDocumentNotFound.
func (c *Catalog) Get(ctx context.Context, id string) (document.Document, error) {
	row := c.store.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetByPath returns a document by absolute path or domain.ErrDocumentNotFound.
func (c *Catalog) GetByPath(ctx context.Context, path string) (document.Document, error) {
	row := c.store.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	return scanDocument(row)
}

// Delete removes a document. A missing id is not an error.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, err := c.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// DeleteAll empties the catalog so the next scan re-indexes every file.
func (c *Catalog) DeleteAll(ctx context.Context) error {
	if _, err := c.store.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	return nil
}

// List returns every document ordered by path.
func (c *Catalog) List(ctx context.Context) ([]document.Document, error) {
	rows, err := c.store.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// Stats counts documents by status and by division.
func (c *Catalog) Stats(ctx context.Context) (document.Stats, error) {
	st := document.Stats{ByStatus: map[string]int{}, ByDivision: map[string]int{}}

	if err := c.groupCount(ctx, "status", st.ByStatus); err != nil {
		return document.Stats{}, err
	}
	if err := c.groupCount(ctx, "division", st.ByDivision); err != nil {
		return document.Stats{}, err
	}
	for _, n := range st.ByStatus {
		st.TotalDocuments += n
	}
	return st, nil
}

func (c *Catalog) groupCount(ctx context.Context, column string, into map[string]int) error {
	rows, err := c.store.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM documents GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("counting documents by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scanning %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

func scanDocument(s scanner) (document.Document, error) {
	var (
		id, path, division, contentType, hash, status, warningsJSON, lastError string
		size, mtime, indexedAt, updatedAt                                      int64
		totalPages                                                             int
	)
	err := s.Scan(&id, &path, &division, &contentType, &size, &mtime, &hash,
		&totalPages, &status, &warningsJSON, &lastError, &indexedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("scanning document: %w", err)
	}

	var warnings []string
	if warningsJSON != "" {
		if err := json.Unmarshal([]byte(warningsJSON), &warnings); err != nil {
			return document.Document{}, fmt.Errorf("unmarshalling warnings of %s: %w", path, err)
		}
	}
	if len(warnings) == 0 {
		warnings = nil
	}

	return document.Reconstruct(
		id, path, division, contentType,
		document.Fingerprint{Size: size, ModTime: fromNanos(mtime), ContentHash: hash},
		totalPages, document.Status(status), warnings, lastError,
		fromNanos(indexedAt), fromNanos(updatedAt),
	), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
