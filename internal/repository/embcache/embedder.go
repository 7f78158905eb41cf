// Package embcache memoizes embeddings by model and text hash.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain"
)

// KeyPrefix namespaces cache entries in a shared key-value store.
const KeyPrefix = "pagedex:emb:"

type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type embedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

// CachedEmbedder answers repeated texts from a key-value store. Store
// failures degrade to misses and never fail an embedding.
type CachedEmbedder struct {
	inner  embedder
	store  kv
	model  string
	ttl    time.Duration
	hits   prometheus.Counter
	misses prometheus.Counter
	flight singleflight.Group
	logger *zap.Logger
}

// New wraps in. Keys include the model so a model change never serves
// vectors of the wrong space. ttl <= 0 keeps entries forever. counter, if
// set, is labelled by result (hit, miss).
func New(
	in embedder,
	s kv,
	model string,
	ttl time.Duration,
	counter *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CachedEmbedder{inner: in, store: s, model: model, ttl: ttl, logger: logger}
	if counter != nil {
		c.hits, c.misses = counter.WithLabelValues("hit"), counter.WithLabelValues("miss")
	}
	return c
}

// Embed serves text from the cache or the provider. Concurrent misses on
// the same text share one provider call and each report its tokens. A hit
// reports zero tokens.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.cacheKey(text)
	if vec, ok := c.lookup(ctx, key); ok {
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		res, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.save(ctx, key, res.Embedding)
		return res, nil
	})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	return v.(domain.EmbeddingResult), nil
}

// BatchEmbed answers hits from the cache and sends each distinct missing
// text to the provider once, in a single call. Output order matches texts.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := make([][]float32, len(texts))
	pending := make(map[string][]int) // key -> positions in texts
	var order []string
	var missing []string

	for i, text := range texts {
		key := c.cacheKey(text)
		if at, seen := pending[key]; seen {
			pending[key] = append(at, i)
			continue
		}
		if vec, ok := c.lookup(ctx, key); ok {
			out[i] = vec
			continue
		}
		pending[key] = []int{i}
		order = append(order, key)
		missing = append(missing, text)
	}
	if len(missing) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: out}, nil
	}

	res, err := c.inner.BatchEmbed(ctx, missing)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	if len(res.Embeddings) != len(missing) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: got %d embeddings for %d texts: %w",
			len(res.Embeddings), len(missing), domain.ErrEmbeddingUnavailable)
	}

	for j, key := range order {
		vec := res.Embeddings[j]
		for _, i := range pending[key] {
			out[i] = vec
		}
		c.save(ctx, key, vec)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   out,
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// HealthCheck probes the provider, never the cache.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	_, err := c.inner.Embed(ctx, "ping")
	return err
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
	case err != nil:
		c.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
	default:
		vec, derr := decodeVector(data)
		if derr == nil {
			count(c.hits)
			return vec, true
		}
		c.logger.Warn("Dropping corrupt embedding cache entry", zap.String("key", key), zap.Error(derr))
	}
	count(c.misses)
	return nil, false
}

func (c *CachedEmbedder) save(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := c.store.SetWithTTL(ctx, key, encodeVector(vec), c.ttl); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func count(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// encodeVector stores a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 0, 4*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("entry of %d bytes is not a float32 vector", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
