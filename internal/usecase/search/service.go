// Package search is the hybrid query planner: it runs the vector and keyword
// backends in parallel under the caller's division scope, fuses their scores
// and degrades to a single backend when the other is unreachable.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/search/boost"
	"github.com/kailas-cloud/pagedex/internal/domain/search/mode"
	"github.com/kailas-cloud/pagedex/internal/domain/search/request"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// Config holds the fusion parameters.
type Config struct {
	KeywordWeight  float64
	SemanticWeight float64
	MinScore       float64
	PhraseBoost    bool
}

// ApplyDefaults fills unset weights and threshold.
func (c *Config) ApplyDefaults() {
	if c.KeywordWeight == 0 && c.SemanticWeight == 0 {
		c.KeywordWeight, c.SemanticWeight = 0.4, 0.6
	}
	if c.MinScore == 0 {
		c.MinScore = 0.3
	}
}

// Validate checks that the weights are a convex combination.
func (c *Config) Validate() error {
	if c.KeywordWeight < 0 || c.SemanticWeight < 0 {
		return errors.New("search weights must not be negative")
	}
	if math.Abs(c.KeywordWeight+c.SemanticWeight-1) > 1e-9 {
		return fmt.Errorf("search weights must sum to 1, got %.3f + %.3f", c.KeywordWeight, c.SemanticWeight)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("min_score must be within [0,1], got %.3f", c.MinScore)
	}
	return nil
}

// Service plans and executes page searches.
type Service struct {
	vector  VectorIndex
	keyword KeywordIndex
	embed   QueryEmbedder
	stamp   StampChecker
	cfg     Config
	logger  *zap.Logger
}

// New creates a query planner.
func New(vector VectorIndex, keyword KeywordIndex, embed QueryEmbedder, stamp StampChecker, cfg Config, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	return &Service{
		vector:  vector,
		keyword: keyword,
		embed:   embed,
		stamp:   stamp,
		cfg:     cfg,
		logger:  logger,
	}
}

// Search runs req and returns ranked page hits. It never returns an empty
// success when every backend it needed failed.
func (s *Service) Search(ctx context.Context, req request.Request) (result.Set, error) {
	start := time.Now()
	m := req.Mode()

	if s.stamp != nil {
		if err := s.stamp.Check(ctx); err != nil {
			return result.Set{}, err
		}
	}

	var (
		vecHits, kwHits []result.Hit
		vecErr, kwErr   error
	)

	var g errgroup.Group
	if m.UsesVector() {
		g.Go(func() error {
			vecHits, vecErr = s.searchVector(ctx, &req)
			return nil
		})
	}
	if m.UsesKeyword() {
		g.Go(func() error {
			kwHits, kwErr = s.searchKeyword(ctx, &req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result.Set{}, err
	}

	set := result.Set{}
	wKeyword, wSemantic := s.cfg.KeywordWeight, s.cfg.SemanticWeight

	switch {
	case m == mode.Semantic:
		if vecErr != nil {
			return result.Set{}, unavailable(vecErr)
		}
		wKeyword, wSemantic = 0, 1
	case m == mode.Keyword:
		if kwErr != nil {
			return result.Set{}, unavailable(kwErr)
		}
		wKeyword, wSemantic = 1, 0
	case vecErr != nil && kwErr != nil:
		s.logger.Warn("Both search backends failed",
			zap.NamedError("vector_error", vecErr),
			zap.NamedError("keyword_error", kwErr),
		)
		return result.Set{}, fmt.Errorf("%w: %w; %w", domain.ErrServiceUnavailable, vecErr, kwErr)
	case vecErr != nil:
		set.Degraded, set.DegradedReason = true, ReasonCode(vecErr)
		wKeyword, wSemantic = 1, 0
		s.logger.Warn("Hybrid search degraded to keyword only", zap.Error(vecErr))
	case kwErr != nil:
		set.Degraded, set.DegradedReason = true, ReasonCode(kwErr)
		wKeyword, wSemantic = 0, 1
		s.logger.Warn("Hybrid search degraded to semantic only", zap.Error(kwErr))
	}

	results := fuse(collect(vecHits, kwHits), wKeyword, wSemantic)

	if s.cfg.PhraseBoost {
		b := boost.New(req.Query())
		for i, r := range results {
			results[i] = r.WithScore(b.Apply(r.Score(), r.Page().Text))
		}
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score() >= s.cfg.MinScore {
			kept = append(kept, r)
		}
	}
	results = kept

	rank(results, req.Scope())
	if len(results) > req.Limit() {
		results = results[:req.Limit()]
	}
	set.Results = results

	metrics.SearchRequestsTotal.WithLabelValues(string(m), strconv.FormatBool(set.Degraded)).Inc()
	metrics.SearchDuration.WithLabelValues(string(m)).Observe(time.Since(start).Seconds())

	return set, nil
}

func (s *Service) searchVector(ctx context.Context, req *request.Request) ([]result.Hit, error) {
	vec, err := s.embed.EmbedQuery(ctx, req.Query())
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return nil, fmt.Errorf("embed query: %w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	hits, err := s.vector.SearchVector(ctx, vec, req.Filters(), req.Candidates())
	if err != nil {
		return nil, fmt.Errorf("%s search: %w: %w", s.vector.Name(), domain.ErrVectorUnavailable, err)
	}
	return hits, nil
}

func (s *Service) searchKeyword(ctx context.Context, req *request.Request) ([]result.Hit, error) {
	hits, err := s.keyword.SearchKeyword(ctx, req.Query(), req.Filters(), req.Candidates())
	if err != nil {
		return nil, fmt.Errorf("%s search: %w: %w", s.keyword.Name(), domain.ErrKeywordUnavailable, err)
	}
	return hits, nil
}

// ReasonCode names the backend behind a search failure.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "embedding_backend_unavailable"
	case errors.Is(err, domain.ErrVectorUnavailable):
		return "vector_backend_unavailable"
	case errors.Is(err, domain.ErrKeywordUnavailable):
		return "keyword_backend_unavailable"
	}
	return "service_unavailable"
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
}
