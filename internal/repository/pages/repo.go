// Package pages stores page records as Redis/Valkey hashes behind one FT
// index that serves both KNN and BM25 queries.
package pages

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

// store is the consumer interface for the page index (ISP).
type store interface {
	db.Pinger
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SupportsTextSearch(ctx context.Context) bool
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Repo is a vector and keyword page index on Redis 8+ or Valkey.
type Repo struct {
	store store
	hnsw  HNSWConfig
}

// New creates a page repository.
func New(s store, hnsw HNSWConfig) *Repo {
	return &Repo{store: s, hnsw: hnsw}
}

// Name identifies the backend in status output.
func (r *Repo) Name() string { return "redis" }

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// SupportsKeyword reports whether BM25 queries can be served.
func (r *Repo) SupportsKeyword(ctx context.Context) bool {
	return r.store.SupportsTextSearch(ctx)
}

// Ensure creates the page index for dim-sized vectors when it does not exist.
func (r *Repo) Ensure(ctx context.Context, dim int) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if exists {
		return nil
	}

	def, err := buildIndex(dim, r.store.SupportsTextSearch(ctx), r.hnsw)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Drop removes the index and every page hash.
func (r *Repo) Drop(ctx context.Context) error {
	if err := r.store.DropIndex(ctx, indexName); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index: %w", err)
	}
	keys, err := r.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan pages: %w", err)
	}
	for start := 0; start < len(keys); start += deleteChunk {
		end := min(start+deleteChunk, len(keys))
		if err := r.store.DelMulti(ctx, keys[start:end]); err != nil {
			return fmt.Errorf("delete pages: %w", err)
		}
	}
	return nil
}

const deleteChunk = 500

// Upsert writes pages in one pipelined round-trip. Existing ids are overwritten.
func (r *Repo) Upsert(ctx context.Context, recs []page.Record) error {
	if len(recs) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, len(recs))
	for i := range recs {
		if len(recs[i].Vector) == 0 {
			return fmt.Errorf("page %s has no vector", recs[i].ID)
		}
		items[i] = db.HashSetItem{Key: pageKey(recs[i].ID), Fields: buildHashFields(&recs[i])}
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert pages: %w", err)
	}
	return nil
}

// Delete removes pages by id. Unknown ids are ignored.
func (r *Repo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = pageKey(id)
	}
	if err := r.store.DelMulti(ctx, keys); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}

// Count returns the number of indexed pages.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, indexName, "*")
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// SearchVector runs a pre-filtered KNN query. Scores are cosine similarity in [0,1].
func (r *Repo) SearchVector(
	ctx context.Context, vector []float32, filters filter.Expression, k int,
) ([]result.Hit, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName,
		VectorField:  vectorField,
		Filters:      filters,
		Vector:       vector,
		K:            k,
		ReturnFields: append(append([]string{}, returnFields...), "__vector_score"),
	})
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}
	return parseHits(sr), nil
}

// SearchKeyword runs a pre-filtered BM25 query. Scores are raw BM25.
func (r *Repo) SearchKeyword(
	ctx context.Context, query string, filters filter.Expression, k int,
) ([]result.Hit, error) {
	if !r.store.SupportsTextSearch(ctx) {
		return nil, errors.New("keyword search requires redis 8+")
	}
	sr, err := r.store.SearchBM25(ctx, &db.TextQuery{
		IndexName:    indexName,
		TextField:    page.FieldText,
		Query:        query,
		Filters:      filters,
		TopK:         k,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("search bm25: %w", err)
	}
	return parseHits(sr), nil
}

// Page returns one stored page without its vector.
func (r *Repo) Page(ctx context.Context, id string) (page.Record, bool, error) {
	m, err := r.store.HGetAll(ctx, pageKey(id))
	if err != nil {
		return page.Record{}, false, fmt.Errorf("get page %s: %w", id, err)
	}
	if len(m) == 0 {
		return page.Record{}, false, nil
	}
	delete(m, vectorField)
	return page.FromFields(id, m), true, nil
}
