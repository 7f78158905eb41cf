package chi

import (
	"context"

	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/domain/search/request"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
)

// Ingestor queues indexing work.
type Ingestor interface {
	SubmitFile(ctx context.Context, spec jobs.Spec) (*job.Job, error)
	SubmitDirectory(ctx context.Context, spec jobs.Spec) (*job.Job, error)
	Retry(ctx context.Context, id string) (*job.Job, error)
	Remove(ctx context.Context, path string) (bool, error)
}

// JobReader exposes job snapshots.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, status job.Status, limit int) ([]*job.Job, error)
}

// Documents resolves catalog entries.
type Documents interface {
	Supported(path string) bool
	Resolve(ctx context.Context, id string) (document.Document, error)
	DocumentByPath(ctx context.Context, path string) (document.Document, error)
}

// Searcher answers queries.
type Searcher interface {
	Search(ctx context.Context, req request.Request) (result.Set, error)
}

// Health reports engine status.
type Health interface {
	Check(ctx context.Context) healthuc.Report
	Stats(ctx context.Context) (healthuc.Stats, error)
}

// DivisionResolver derives the division of a file from its path.
type DivisionResolver interface {
	FromPath(root, path string) string
}
