package indexing

import (
	"context"

	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/extract"
)

// Extractor reads files into pages.
type Extractor interface {
	Supported(path string) bool
	Extract(ctx context.Context, path string) (*extract.Document, error)
}

// Embedder turns page texts into normalized vectors.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, []error, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Index stores page records.
type Index interface {
	Name() string
	Upsert(ctx context.Context, recs []page.Record) error
	Delete(ctx context.Context, ids []string) error
}

// Catalog persists one document per source file.
type Catalog interface {
	Save(ctx context.Context, d *document.Document) error
	Get(ctx context.Context, id string) (document.Document, error)
	GetByPath(ctx context.Context, path string) (document.Document, error)
	Delete(ctx context.Context, id string) error
}

// PageLookup fetches a stored page by id.
type PageLookup interface {
	Page(ctx context.Context, id string) (page.Record, bool, error)
}

// StampChecker reports an embedding model mismatch.
type StampChecker interface {
	Check(ctx context.Context) error
}

// DivisionResolver maps a file path to its division.
type DivisionResolver interface {
	FromPath(root, path string) string
}
