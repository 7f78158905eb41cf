// Package qdrant stores page vectors in a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

// client is the subset of *qdrant.Client used by the repository.
type client interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Config holds connection settings.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

const (
	defaultCollection = "pagedex_pages"
	upsertBatch       = 100
)

// indexedFields get keyword payload indexes so pre-filters stay cheap.
var indexedFields = []string{
	page.FieldDivision,
	page.FieldFileType,
	page.FieldDocumentID,
	page.FieldLanguage,
}

// Repo is a page vector index on Qdrant.
type Repo struct {
	client     client
	collection string
	closer     func() error
	retry      func() backoff.BackOff
}

// Dial connects to Qdrant over gRPC.
func Dial(cfg Config) (*Repo, error) {
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	r := New(c, cfg.Collection)
	r.closer = c.Close
	return r, nil
}

// New wraps an existing client.
func New(c client, collection string) *Repo {
	if collection == "" {
		collection = defaultCollection
	}
	return &Repo{client: c, collection: collection, retry: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 20 * time.Second
	return b
}

// Name identifies the backend in status output.
func (r *Repo) Name() string { return "qdrant" }

// Close releases the gRPC connection.
func (r *Repo) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// Ping performs a single health check.
func (r *Repo) Ping(ctx context.Context) error {
	reply, err := r.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if reply == nil || reply.GetTitle() == "" {
		return errors.New("health check returned invalid response")
	}
	return nil
}

// Ensure creates the collection with cosine distance and payload indexes.
func (r *Repo) Ensure(ctx context.Context, dim int) error {
	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create collection: %w", err)
	}

	for _, field := range indexedFields {
		_, err := r.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: r.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("create index for %s: %w", field, err)
		}
	}
	return nil
}

// Drop deletes the collection. A missing collection is not an error.
func (r *Repo) Drop(ctx context.Context) error {
	err := r.client.DeleteCollection(ctx, r.collection)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// Upsert writes pages in batches of 100, retrying transient failures.
func (r *Repo) Upsert(ctx context.Context, recs []page.Record) error {
	for start := 0; start < len(recs); start += upsertBatch {
		end := min(start+upsertBatch, len(recs))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			p, err := toPoint(&recs[i])
			if err != nil {
				return err
			}
			points = append(points, p)
		}

		op := func() error {
			_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: r.collection,
				Wait:           qdrant.PtrOf(true),
				Points:         points,
			})
			return permanentUnlessTransient(err)
		}
		if err := backoff.Retry(op, backoff.WithContext(r.retry(), ctx)); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Delete removes points by page id.
func (r *Repo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		uid, err := pointUUID(id)
		if err != nil {
			return err
		}
		pids = append(pids, qdrant.NewIDUUID(uid))
	}
	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(pids),
	})
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// Count returns the exact number of points.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(n), nil
}

// SearchVector runs a filtered nearest-neighbour query. Qdrant reports raw
// cosine similarity, which is clamped to [0,1].
func (r *Repo) SearchVector(
	ctx context.Context, vector []float32, filters filter.Expression, k int,
) ([]result.Hit, error) {
	if k <= 0 {
		return nil, errors.New("k must be positive")
	}
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filters),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	hits := make([]result.Hit, 0, len(points))
	for _, p := range points {
		fields := payloadFields(p.GetPayload())
		hits = append(hits, result.Hit{
			Page:  page.FromFields(fields[page.FieldID], fields),
			Score: min(1, max(0, float64(p.GetScore()))),
		})
	}
	return hits, nil
}

// permanentUnlessTransient stops retries for errors a retry cannot fix.
func permanentUnlessTransient(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return err
	}
	return backoff.Permanent(err)
}
