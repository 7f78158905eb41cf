package embedding

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// DefaultMaxAPIBatchSize caps the number of texts sent in a single API request.
const DefaultMaxAPIBatchSize = 256

// InstrumentedEmbedder sits between the cache and the provider client. It
// splits large batches, charges token usage to the file being indexed and
// turns provider failures into domain.ErrEmbeddingUnavailable. Per-call
// metrics live in transport/openai.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	batch    func(context.Context, []string) (domain.BatchEmbeddingResult, error)
	maxBatch int
	log      *zap.Logger
}

func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string, logger *zap.Logger,
) *InstrumentedEmbedder {
	e := &InstrumentedEmbedder{
		inner:    inner,
		maxBatch: DefaultMaxAPIBatchSize,
		log:      logger.With(zap.String("provider", provider), zap.String("model", model)),
	}
	if be, ok := inner.(domain.BatchEmbedder); ok {
		e.batch = be.BatchEmbed
	} else {
		e.batch = func(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
			return domain.BatchFallback(ctx, inner, texts)
		}
	}
	return e
}

func (e *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	start := time.Now()
	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		e.log.Error("Embedding request failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return domain.EmbeddingResult{}, classify("embed", err)
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)
	e.log.Debug("Embedded text",
		zap.Duration("duration", time.Since(start)),
		zap.Int("dimensions", len(res.Embedding)),
		zap.Int("total_tokens", res.TotalTokens),
	)
	return res, nil
}

// BatchEmbed sends texts in chunks of at most maxBatch and concatenates the
// vectors in input order. Any failed chunk fails the whole call.
func (e *InstrumentedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	start := time.Now()
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}

	offset := 0
	for chunk := range slices.Chunk(texts, e.maxBatch) {
		res, err := e.batch(ctx, chunk)
		if err != nil {
			e.log.Warn("Embedding chunk failed",
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, classify("batch embed", err)
		}
		if len(res.Embeddings) != len(chunk) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: got %d embeddings for %d texts: %w",
				len(res.Embeddings), len(chunk), domain.ErrEmbeddingUnavailable)
		}
		domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)

		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
		offset += len(chunk)
	}

	e.log.Debug("Embedded batch",
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

// HealthCheck uses the provider's probe when it has one and a one-word
// embedding otherwise.
func (e *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	_, err := e.inner.Embed(ctx, "ping")
	return err
}

// classify reports provider errors as an outage. Cancellation by the caller
// passes through unchanged.
func classify(op string, err error) error {
	if errors.Is(err, domain.ErrEmbeddingUnavailable) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrEmbeddingUnavailable, err)
}
