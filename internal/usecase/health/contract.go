package health

import (
	"context"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/document"
)

// Backend is a page index that can be pinged and counted.
type Backend interface {
	Name() string
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	Ping(ctx context.Context) error
}

// StampReader exposes the live index stamp.
type StampReader interface {
	Stamp() domain.IndexStamp
	Check(ctx context.Context) error
}

// WatcherState reports whether the file watcher runs.
type WatcherState interface {
	Active() bool
}

// QueueState reports the ingestion backlog.
type QueueState interface {
	QueueDepth() int
}

// CatalogStats aggregates the document catalog.
type CatalogStats interface {
	Stats(ctx context.Context) (document.Stats, error)
}
