package stamp

import (
	"context"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// Store persists the index stamp.
type Store interface {
	LoadStamp(ctx context.Context) (domain.IndexStamp, bool, error)
	SaveStamp(ctx context.Context, s domain.IndexStamp) error
	DeleteStamp(ctx context.Context) error
}

// Backend is an index that can be created for a vector dimension and dropped.
type Backend interface {
	Name() string
	Ensure(ctx context.Context, dim int) error
	Drop(ctx context.Context) error
}

// Catalog forgets indexed documents after a reset.
type Catalog interface {
	DeleteAll(ctx context.Context) error
}
