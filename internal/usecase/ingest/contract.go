package ingest

import (
	"context"

	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/usecase/indexing"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
)

// Indexer runs a single file through the indexing pipeline.
type Indexer interface {
	Supported(path string) bool
	IndexFile(ctx context.Context, req indexing.Request) (indexing.Result, error)
	RemovePath(ctx context.Context, path string) (bool, error)
}

// Tracker records job transitions.
type Tracker interface {
	Create(ctx context.Context, spec jobs.Spec) (*job.Job, error)
	Start(ctx context.Context, id string) error
	SetFilesQueued(ctx context.Context, id string, n int) error
	Succeed(ctx context.Context, id string, pages int, warnings []string, skipped bool) error
	Fail(ctx context.Context, id, code, reason string) error
	RetrySpec(ctx context.Context, id string) (jobs.Spec, error)
	Get(ctx context.Context, id string) (*job.Job, error)
}
