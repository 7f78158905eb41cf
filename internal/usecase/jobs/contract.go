package jobs

import (
	"context"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain/job"
)

// Store persists job records.
type Store interface {
	Save(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, status job.Status, limit int) ([]*job.Job, error)
	PruneFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
