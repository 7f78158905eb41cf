package embcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEmbed_MissThenHit(t *testing.T) {
	in := &stubEmbedder{vec: []float32{0.1, 0.2, 0.3}, tokens: 10}
	ce, ms := newTestCachedEmbedder(t, in, "minilm")
	ctx := context.Background()

	res, err := ce.Embed(ctx, "loi de finances")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalTokens != 10 {
		t.Errorf("miss TotalTokens = %d, want 10", res.TotalTokens)
	}
	if len(ms.data) != 1 {
		t.Fatalf("cache entries = %d, want 1", len(ms.data))
	}
	for _, ttl := range ms.ttls {
		if ttl != time.Hour {
			t.Errorf("ttl = %v, want 1h", ttl)
		}
	}

	in.vec = []float32{9, 9, 9}
	res, err = ce.Embed(ctx, "loi de finances")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Embedding[0] != 0.1 || res.TotalTokens != 0 {
		t.Errorf("hit = %+v, want cached vector with zero tokens", res)
	}
}

func TestEmbed_KeysScopedByModel(t *testing.T) {
	in := &stubEmbedder{vec: []float32{1}}
	a, _ := newTestCachedEmbedder(t, in, "model-a")
	b := New(in, newMemStore(), "model-b", 0, nil, a.logger)

	if a.cacheKey("x") == b.cacheKey("x") {
		t.Error("different models must not share cache keys")
	}
	if a.cacheKey("x") == a.cacheKey("y") {
		t.Error("different texts must not share cache keys")
	}
}

func TestEmbed_InnerError(t *testing.T) {
	in := &stubEmbedder{err: errors.New("provider down")}
	ce, ms := newTestCachedEmbedder(t, in, "m")

	if _, err := ce.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error from inner embedder")
	}
	if len(ms.data) != 0 {
		t.Error("failed embeddings must not be cached")
	}
}

func TestEmbed_StoreErrorIsAMiss(t *testing.T) {
	in := &stubEmbedder{vec: []float32{0.5}}
	ce, ms := newTestCachedEmbedder(t, in, "m")
	ms.getErr = errors.New("connection refused")

	res, err := ce.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("store failures must not fail embedding: %v", err)
	}
	if res.Embedding[0] != 0.5 {
		t.Errorf("embedding = %v", res.Embedding)
	}
}

func TestBatchEmbed_OnlyMissesReachInner(t *testing.T) {
	in := &stubEmbedder{vec: []float32{0.5}, tokens: 3}
	ce, _ := newTestCachedEmbedder(t, in, "m")
	ctx := context.Background()

	if _, err := ce.Embed(ctx, "page 2"); err != nil {
		t.Fatal(err)
	}
	in.vec = []float32{0.7}

	res, err := ce.BatchEmbed(ctx, []string{"page 1", "page 2", "page 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("embeddings = %d, want 3", len(res.Embeddings))
	}
	if res.Embeddings[1][0] != 0.5 {
		t.Errorf("cached entry = %v, want 0.5", res.Embeddings[1])
	}
	if res.Embeddings[0][0] != 0.7 || res.Embeddings[2][0] != 0.7 {
		t.Errorf("misses = %v, %v", res.Embeddings[0], res.Embeddings[2])
	}
	if in.batchCalls != 1 || len(in.batchTexts[0]) != 2 {
		t.Errorf("inner batch calls = %d with %v", in.batchCalls, in.batchTexts)
	}
	if res.TotalTokens != 6 {
		t.Errorf("TotalTokens = %d, want 6", res.TotalTokens)
	}
}

func TestBatchEmbed_AllHits(t *testing.T) {
	in := &stubEmbedder{vec: []float32{0.1}}
	ce, _ := newTestCachedEmbedder(t, in, "m")
	ctx := context.Background()

	if _, err := ce.BatchEmbed(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	res, err := ce.BatchEmbed(ctx, []string{"b", "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.batchCalls != 1 {
		t.Errorf("inner batch calls = %d, want 1", in.batchCalls)
	}
	if res.TotalTokens != 0 || len(res.Embeddings) != 2 {
		t.Errorf("all-hit result = %+v", res)
	}
}

func TestBatchEmbed_InnerError(t *testing.T) {
	in := &stubEmbedder{err: errors.New("api down")}
	ce, _ := newTestCachedEmbedder(t, in, "m")

	if _, err := ce.BatchEmbed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error from inner batch embedder")
	}
}

func TestBatchEmbed_Empty(t *testing.T) {
	ce, _ := newTestCachedEmbedder(t, &stubEmbedder{}, "m")

	res, err := ce.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Embeddings != nil {
		t.Errorf("expected nil for empty input")
	}
}

func TestCacheCounter(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	in := &stubEmbedder{vec: []float32{1}}
	ce := New(in, newMemStore(), "m", 0, counter, nil)
	ctx := context.Background()

	_, _ = ce.Embed(ctx, "x")
	_, _ = ce.Embed(ctx, "x")

	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss = %v, want 1", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 1 {
		t.Errorf("hit = %v, want 1", got)
	}
}

func TestBatchEmbed_DuplicateTextsEmbeddedOnce(t *testing.T) {
	in := &stubEmbedder{vec: []float32{0.4}, tokens: 2}
	ce, ms := newTestCachedEmbedder(t, in, "m")

	res, err := ce.BatchEmbed(context.Background(), []string{"Confidentiel", "page 2", "Confidentiel"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(in.batchTexts) != 1 || len(in.batchTexts[0]) != 2 {
		t.Fatalf("inner texts = %v, want the two distinct texts", in.batchTexts)
	}
	if res.Embeddings[2] == nil || res.Embeddings[2][0] != 0.4 {
		t.Errorf("duplicate position not filled: %v", res.Embeddings)
	}
	if len(ms.data) != 2 {
		t.Errorf("cache entries = %d, want 2", len(ms.data))
	}
}

func TestEmbed_CorruptEntryIsAMiss(t *testing.T) {
	in := &stubEmbedder{vec: []float32{0.25}}
	ce, ms := newTestCachedEmbedder(t, in, "m")
	ms.data[ce.cacheKey("x")] = []byte{1, 2, 3}

	res, err := ce.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Embedding[0] != 0.25 {
		t.Errorf("embedding = %v, want fresh vector", res.Embedding)
	}
	if got, _ := decodeVector(ms.data[ce.cacheKey("x")]); len(got) != 1 || got[0] != 0.25 {
		t.Errorf("entry not rewritten: %v", got)
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, -1.5, 3.25e-7}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeVector(nil); err == nil {
		t.Error("expected error for empty entry")
	}
}
