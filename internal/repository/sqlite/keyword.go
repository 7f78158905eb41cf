package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/textproc"
)

// Keyword is a BM25 page index on FTS5. The tokenizer folds case and
// diacritics, so "Sécurité" matches "securite".
type Keyword struct {
	store *Store
}

// filterColumns maps filter keys to page columns.
var filterColumns = map[string]string{
	filter.KeyDivision:   "p.division",
	filter.KeyFileType:   "p.file_type",
	filter.KeyDocumentID: "p.doc_id",
	filter.KeyLanguage:   "p.language",
}

const pageColumns = `p.id, p.doc_id, p.file_path, p.file_name, p.file_type, p.content_type,
	p.division, p.page_number, p.total_pages, p.language, p.method, p.warning, p.indexed_at, p.text`

// Name identifies the backend in status output.
func (k *Keyword) Name() string { return "sqlite" }

// Ping checks the database.
func (k *Keyword) Ping(ctx context.Context) error { return k.store.Ping(ctx) }

// Ensure is a no-op: the schema is created by migrations.
func (k *Keyword) Ensure(context.Context, int) error { return nil }

// Drop removes every page.
func (k *Keyword) Drop(ctx context.Context) error {
	if _, err := k.store.db.ExecContext(ctx, "DELETE FROM pages"); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}

// Upsert writes pages in one transaction. Existing ids are replaced.
func (k *Keyword) Upsert(ctx context.Context, recs []page.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := k.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pages (id, doc_id, file_path, file_name, file_type, content_type,
			division, page_number, total_pages, language, method, warning, indexed_at, text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_id = excluded.doc_id,
			file_path = excluded.file_path,
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			content_type = excluded.content_type,
			division = excluded.division,
			page_number = excluded.page_number,
			total_pages = excluded.total_pages,
			language = excluded.language,
			method = excluded.method,
			warning = excluded.warning,
			indexed_at = excluded.indexed_at,
			text = excluded.text`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		r := &recs[i]
		var indexedAt string
		if !r.IndexedAt.IsZero() {
			indexedAt = r.IndexedAt.UTC().Format(time.RFC3339)
		}
		_, err := stmt.ExecContext(ctx,
			r.ID, r.DocumentID, r.FilePath, r.FileName, r.FileType, r.ContentType,
			r.Division, r.PageNumber, r.TotalPages, r.Language, string(r.Method), r.Warning,
			indexedAt, r.Text,
		)
		if err != nil {
			return fmt.Errorf("upsert page %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes pages by id.
func (k *Keyword) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := "DELETE FROM pages WHERE id IN (" + placeholders(len(ids)) + ")"
	if _, err := k.store.db.ExecContext(ctx, query, toArgs(ids)...); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}

// Count returns the number of indexed pages.
func (k *Keyword) Count(ctx context.Context) (int, error) {
	var n int
	if err := k.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages").Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// SearchKeyword ranks pages by BM25. Query terms are OR-ed, so a page
// matching any term is a candidate. Scores are positive; higher is better.
func (k *Keyword) SearchKeyword(
	ctx context.Context, query string, filters filter.Expression, limit int,
) ([]result.Hit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}

	where, args := filterSQL(filters)
	q := `SELECT ` + pageColumns + `, bm25(pages_fts) AS rank
		FROM pages_fts JOIN pages p ON p.pk = pages_fts.rowid
		WHERE pages_fts MATCH ?` + where + `
		ORDER BY rank, p.id
		LIMIT ?`
	all := append([]any{match}, args...)
	all = append(all, limit)

	rows, err := k.store.db.QueryContext(ctx, q, all...)
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", err)
	}
	defer rows.Close()

	var hits []result.Hit
	for rows.Next() {
		rec, rank, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, result.Hit{Page: rec, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return hits, nil
}

// Page returns one page by id, or page.Record{} and false.
func (k *Keyword) Page(ctx context.Context, id string) (page.Record, bool, error) {
	row := k.store.db.QueryRowContext(ctx, `SELECT `+pageColumns+`, 0 FROM pages p WHERE p.id = ?`, id)
	rec, _, err := scanPage(row)
	if err == sql.ErrNoRows {
		return page.Record{}, false, nil
	}
	if err != nil {
		return page.Record{}, false, err
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(s scanner) (page.Record, float64, error) {
	var (
		r         page.Record
		method    string
		indexedAt string
		rank      float64
	)
	err := s.Scan(&r.ID, &r.DocumentID, &r.FilePath, &r.FileName, &r.FileType, &r.ContentType,
		&r.Division, &r.PageNumber, &r.TotalPages, &r.Language, &method, &r.Warning, &indexedAt, &r.Text,
		&rank)
	if err == sql.ErrNoRows {
		return r, 0, err
	}
	if err != nil {
		return r, 0, fmt.Errorf("scan page: %w", err)
	}
	r.Method = page.Method(method)
	if indexedAt != "" {
		r.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	}
	return r, rank, nil
}

// matchExpression turns free text into an FTS5 query of OR-ed quoted terms.
// Quoting neutralizes FTS5 operators in user input.
func matchExpression(query string) string {
	terms := textproc.QueryTerms(query)
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR ")
}

// filterSQL translates a filter expression into an AND-prefixed WHERE fragment.
func filterSQL(expr filter.Expression) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	for _, c := range expr.Must() {
		b.WriteString(" AND " + filterColumns[c.Key()] + " = ?")
		args = append(args, c.Match())
	}
	for _, c := range expr.MustNot() {
		b.WriteString(" AND " + filterColumns[c.Key()] + " != ?")
		args = append(args, c.Match())
	}
	if should := expr.Should(); len(should) > 0 {
		parts := make([]string, len(should))
		for i, c := range should {
			parts[i] = filterColumns[c.Key()] + " = ?"
			args = append(args, c.Match())
		}
		b.WriteString(" AND (" + strings.Join(parts, " OR ") + ")")
	}
	return b.String(), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
