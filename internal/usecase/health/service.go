package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/document"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure: queries still answer from one backend.
	Degraded Status = "degraded"
	// Unhealthy indicates that no query can be answered.
	Unhealthy Status = "error"
)

const checkTimeout = 3 * time.Second

// Report is the engine status.
type Report struct {
	Status             Status
	VectorBackend      string
	KeywordBackend     string
	VectorConnected    bool
	KeywordConnected   bool
	EmbeddingConnected bool
	NumEntities        int
	WatcherActive      bool
	Stamp              domain.IndexStamp
	StampError         string
	QueueDepth         int
}

// Stats summarizes index contents.
type Stats struct {
	TotalPages int
	document.Stats
}

// Deps groups the components observed by the service. Watcher and Queue may be nil.
type Deps struct {
	Vector    Backend
	Keyword   Backend
	Embedding EmbeddingChecker
	Stamp     StampReader
	Watcher   WatcherState
	Queue     QueueState
	Catalog   CatalogStats
}

// Service coordinates health checks.
type Service struct {
	d      Deps
	logger *zap.Logger
}

// New creates a Service.
func New(d Deps, logger *zap.Logger) *Service {
	return &Service{d: d, logger: logger}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{
		VectorBackend:  s.d.Vector.Name(),
		KeywordBackend: s.d.Keyword.Name(),
	}

	r.VectorConnected = s.ping(ctx, "vector", s.d.Vector.Ping)
	r.KeywordConnected = s.ping(ctx, "keyword", s.d.Keyword.Ping)
	r.EmbeddingConnected = s.ping(ctx, "embedding", s.d.Embedding.Ping)

	if r.VectorConnected {
		n, err := s.d.Vector.Count(ctx)
		if err != nil {
			s.logger.Warn("Failed to count pages", zap.String("backend", r.VectorBackend), zap.Error(err))
		}
		r.NumEntities = n
	}

	if s.d.Stamp != nil {
		r.Stamp = s.d.Stamp.Stamp()
		if err := s.d.Stamp.Check(ctx); err != nil {
			r.StampError = err.Error()
		}
	}
	if s.d.Watcher != nil {
		r.WatcherActive = s.d.Watcher.Active()
	}
	if s.d.Queue != nil {
		r.QueueDepth = s.d.Queue.QueueDepth()
	}

	r.Status = aggregate(&r)
	return r
}

func aggregate(r *Report) Status {
	switch {
	case r.StampError != "":
		return Unhealthy
	case !r.VectorConnected && !r.KeywordConnected:
		return Unhealthy
	case !r.VectorConnected || !r.KeywordConnected || !r.EmbeddingConnected:
		return Degraded
	}
	return Healthy
}

func (s *Service) ping(ctx context.Context, component string, fn func(context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("Health check failed", zap.String("component", component), zap.Error(err))
		}
		return false
	}
	return true
}

// Stats returns page and document counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	docs, err := s.d.Catalog.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("catalog stats: %w", err)
	}
	pages, err := s.d.Vector.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: count pages: %w", domain.ErrVectorUnavailable, err)
	}
	return Stats{TotalPages: pages, Stats: docs}, nil
}
