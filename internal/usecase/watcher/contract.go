package watcher

import (
	"context"

	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
)

// Scheduler accepts indexing work.
type Scheduler interface {
	SubmitFile(ctx context.Context, spec jobs.Spec) (*job.Job, error)
	SubmitRemove(ctx context.Context, path string) (*job.Job, error)
}

// Catalog lists indexed documents.
type Catalog interface {
	List(ctx context.Context) ([]document.Document, error)
}
