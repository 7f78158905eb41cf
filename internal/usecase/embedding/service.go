package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// errZeroVector rejects vectors that cosine similarity cannot use.
var errZeroVector = errors.New("embedder returned a zero vector")

// Embedder is the batch-capable embedder the service drives.
type Embedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

// Config tunes batching and per-item retries.
type Config struct {
	BatchSize       int
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
}

// Service turns texts into L2-normalized vectors. Batches that fail are
// retried item by item so one bad input cannot sink its neighbours.
type Service struct {
	inner      Embedder
	cfg        Config
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewService creates the embedding service.
func NewService(inner Embedder, cfg Config, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	s := &Service{inner: inner, cfg: cfg, logger: logger}
	s.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialInterval
		b.MaxInterval = cfg.MaxInterval
		b.MaxElapsedTime = 0
		return backoff.WithMaxRetries(b, cfg.MaxRetries)
	}
	return s
}

// EmbedQuery embeds a single search query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := s.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if domain.IsZero(res.Embedding) {
		return nil, fmt.Errorf("embed query: %w: %v", domain.ErrEmbeddingUnavailable, errZeroVector)
	}
	return domain.Normalize(res.Embedding), nil
}

// EmbedOne embeds a single text with retries.
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		v, err := s.embedSingle(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedAll returns one vector per text. errs[i] is set for every text that
// still failed after its retries; vectors[i] is nil then. The returned error
// is non-nil only when ctx is done.
func (s *Service) EmbedAll(ctx context.Context, texts []string) (vectors [][]float32, errs []error, err error) {
	vectors = make([][]float32, len(texts))
	errs = make([]error, len(texts))

	for offset := 0; offset < len(texts); offset += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := min(offset+s.cfg.BatchSize, len(texts))
		s.embedBatch(ctx, texts[offset:end], vectors[offset:end], errs[offset:end])
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return vectors, errs, nil
}

func (s *Service) embedBatch(ctx context.Context, texts []string, vectors [][]float32, errs []error) {
	res, err := s.inner.BatchEmbed(ctx, texts)
	if err == nil && len(res.Embeddings) == len(texts) {
		ok := true
		for i, v := range res.Embeddings {
			if domain.IsZero(v) {
				ok = false
				break
			}
			vectors[i] = domain.Normalize(v)
		}
		if ok {
			return
		}
		err = errZeroVector
	}
	if err == nil {
		err = fmt.Errorf("got %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}

	s.logger.Warn("Embedding batch failed, retrying items one by one",
		zap.Int("batch_size", len(texts)),
		zap.Error(err),
	)

	for i, text := range texts {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		vec, err := s.EmbedOne(ctx, text)
		if err != nil {
			metrics.RecordItemRetry(false)
			vectors[i], errs[i] = nil, err
			continue
		}
		metrics.RecordItemRetry(true)
		vectors[i], errs[i] = vec, nil
	}
}

func (s *Service) embedSingle(ctx context.Context, text string) ([]float32, error) {
	res, err := s.inner.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	if domain.IsZero(res.Embedding) {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, errZeroVector)
	}
	return domain.Normalize(res.Embedding), nil
}

// Ping checks the embedding backend when it supports health checks.
func (s *Service) Ping(ctx context.Context) error {
	if hc, ok := s.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	_, err := s.inner.Embed(ctx, "ping")
	return err
}
