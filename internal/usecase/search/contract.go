package search

import (
	"context"

	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

// VectorIndex runs nearest-neighbour queries. Scores are cosine similarities.
type VectorIndex interface {
	Name() string
	SearchVector(ctx context.Context, vector []float32, filters filter.Expression, k int) ([]result.Hit, error)
}

// KeywordIndex runs full-text queries. Scores are BM25, higher is better.
type KeywordIndex interface {
	Name() string
	SearchKeyword(ctx context.Context, query string, filters filter.Expression, limit int) ([]result.Hit, error)
}

// QueryEmbedder vectorizes a query into a normalized embedding.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// StampChecker reports whether the index matches the configured model.
type StampChecker interface {
	Check(ctx context.Context) error
}
