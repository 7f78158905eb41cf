package embcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain"
)

// stubEmbedder returns vec for every text and records what it was asked.
type stubEmbedder struct {
	vec        []float32
	tokens     int
	err        error
	batchCalls int
	batchTexts [][]string
}

func (m *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec, PromptTokens: m.tokens, TotalTokens: m.tokens}, nil
}

func (m *stubEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.batchTexts = append(m.batchTexts, texts)
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vec
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   out,
		PromptTokens: m.tokens * len(texts),
		TotalTokens:  m.tokens * len(texts),
	}, nil
}

// memStore is an in-memory key-value store.
type memStore struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func newTestCachedEmbedder(t *testing.T, in *stubEmbedder, model string) (*CachedEmbedder, *memStore) {
	t.Helper()
	ms := newMemStore()
	return New(in, ms, model, time.Hour, nil, zap.NewNop()), ms
}
