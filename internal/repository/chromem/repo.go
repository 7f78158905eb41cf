// Package chromem is the embedded page vector index, persisted to a local
// directory with chromem-go. Search is exhaustive cosine over normalized
// vectors, which is fast enough for a single-node document tree.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

const defaultCollection = "pages"

// errNoEmbedding is returned if chromem is ever asked to embed content itself.
// Pages always arrive with precomputed vectors.
var errNoEmbedding = errors.New("chromem: embedding function not available, vectors must be precomputed")

func noEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbedding }

// Config selects the storage directory. An empty Path keeps everything in memory.
type Config struct {
	Path       string
	Compress   bool
	Collection string
}

// Repo is a page vector index on chromem-go.
type Repo struct {
	mu         sync.RWMutex
	db         *chromem.DB
	name       string
	collection *chromem.Collection
	dim        int
	logger     *zap.Logger
}

// Open opens (or creates) the database.
func Open(cfg Config, logger *zap.Logger) (*Repo, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem at %s: %w", cfg.Path, err)
		}
	}
	name := cfg.Collection
	if name == "" {
		name = defaultCollection
	}

	r := &Repo{db: db, name: name, logger: logger}
	if c := db.GetCollection(name, noEmbed); c != nil {
		r.collection = c
	}
	return r, nil
}

// Name identifies the backend in status output.
func (r *Repo) Name() string { return "chromem" }

// Ping reports whether the collection is ready.
func (r *Repo) Ping(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return errors.New("chromem: closed")
	}
	return nil
}

// Ensure creates the collection. The dimension is pinned by the first call;
// a later call with another dimension is an error and the caller must Drop
// first. The index stamp guards dimension changes across restarts.
func (r *Repo) Ensure(_ context.Context, dim int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.collection != nil {
		if r.dim == 0 {
			r.dim = dim
		}
		if r.dim != dim {
			return fmt.Errorf("chromem collection has dimension %d, want %d", r.dim, dim)
		}
		return nil
	}

	c, err := r.db.CreateCollection(r.name, nil, noEmbed)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", r.name, err)
	}
	r.collection = c
	r.dim = dim
	r.logger.Info("Created chromem collection", zap.String("collection", r.name), zap.Int("dimensions", dim))
	return nil
}

// Drop deletes the collection and its files.
func (r *Repo) Drop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.DeleteCollection(r.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", r.name, err)
	}
	r.collection = nil
	r.dim = 0
	return nil
}

func (r *Repo) coll() (*chromem.Collection, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.collection == nil {
		return nil, 0, errors.New("chromem collection not initialized")
	}
	return r.collection, r.dim, nil
}

// Upsert adds or replaces pages. chromem overwrites documents by id.
func (r *Repo) Upsert(ctx context.Context, recs []page.Record) error {
	if len(recs) == 0 {
		return nil
	}
	c, dim, err := r.coll()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(recs))
	for i := range recs {
		rec := &recs[i]
		if len(rec.Vector) == 0 {
			return fmt.Errorf("page %s has no vector", rec.ID)
		}
		if dim != 0 && len(rec.Vector) != dim {
			return fmt.Errorf("page %s has %d dimensions, want %d", rec.ID, len(rec.Vector), dim)
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Metadata:  rec.Fields(false),
			Embedding: rec.Vector,
			Content:   rec.Text,
		}
	}

	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Delete removes pages by id.
func (r *Repo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c, _, err := r.coll()
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Count returns the number of stored pages.
func (r *Repo) Count(context.Context) (int, error) {
	c, _, err := r.coll()
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// SearchVector runs an exhaustive cosine search. Must conditions become a
// chromem where clause; should and must_not are applied after the query over
// the whole filtered candidate set.
func (r *Repo) SearchVector(
	ctx context.Context, vector []float32, filters filter.Expression, k int,
) ([]result.Hit, error) {
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}
	c, _, err := r.coll()
	if err != nil {
		return nil, err
	}

	total := c.Count()
	if total == 0 {
		return nil, nil
	}
	postFilter := len(filters.Should()) > 0 || len(filters.MustNot()) > 0
	n := min(k, total)
	if postFilter {
		n = total
	}

	res, err := c.QueryEmbedding(ctx, vector, n, filters.MustMap(), nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]result.Hit, 0, min(k, len(res)))
	for _, d := range res {
		if postFilter && !filters.Matches(d.Metadata) {
			continue
		}
		rec := page.FromFields(d.ID, d.Metadata)
		rec.Text = d.Content
		hits = append(hits, result.Hit{
			Page:  rec,
			Score: min(1, max(0, float64(d.Similarity))),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}
