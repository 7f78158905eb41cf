// Package openai talks to any OpenAI-compatible embeddings endpoint
// (OpenAI, Nebius, a local text-embeddings-inference or Ollama server).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	user       string
	provider   string
	timeout    time.Duration
	logger     *zap.Logger
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions is sent with the request only for models that support
	// shortened output (text-embedding-3-*). Zero omits it.
	Dimensions int
	User       string
	Provider   string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		user:       cfg.User,
		provider:   cfg.Provider,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed sends texts in one API call and returns vectors in input
// order, whatever order the server lists them in.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
		Dimensions:     e.dimensions,
	}
	model := string(e.model)

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	took := time.Since(start)
	if err != nil {
		metrics.ObserveEmbeddingCall(e.provider, model, errorType(err), took)
		return domain.BatchEmbeddingResult{}, parseAPIError(err)
	}

	out, err := ordered(resp.Data, len(texts))
	if err != nil {
		metrics.ObserveEmbeddingCall(e.provider, model, "bad_response", took)
		return domain.BatchEmbeddingResult{}, err
	}
	metrics.ObserveEmbeddingCall(e.provider, model, "ok", took)
	metrics.AddEmbeddingTokens(e.provider, model, resp.Usage.PromptTokens, resp.Usage.TotalTokens)

	e.logger.Debug("Embedding request completed",
		zap.String("provider", e.provider),
		zap.String("model", model),
		zap.Int("batch_size", len(texts)),
		zap.Duration("duration", took),
	)
	return domain.BatchEmbeddingResult{
		Embeddings:   out,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// ordered places each returned vector at its input index and checks that
// every input got exactly one non-empty vector.
func ordered(data []openai.Embedding, n int) ([][]float32, error) {
	if len(data) != n {
		return nil, fmt.Errorf("got %d embeddings for %d texts: %w", len(data), n, domain.ErrEmbeddingUnavailable)
	}
	out := make([][]float32, n)
	for _, d := range data {
		switch {
		case d.Index < 0 || d.Index >= n:
			return nil, fmt.Errorf("embedding index %d out of range: %w", d.Index, domain.ErrEmbeddingUnavailable)
		case out[d.Index] != nil:
			return nil, fmt.Errorf("duplicate embedding index %d: %w", d.Index, domain.ErrEmbeddingUnavailable)
		case len(d.Embedding) == 0:
			return nil, fmt.Errorf("empty embedding at index %d: %w", d.Index, domain.ErrEmbeddingUnavailable)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// HealthCheck lists models, which costs no tokens.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case statusCode(err) == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode(err) >= http.StatusInternalServerError:
		return "server_error"
	}
	return "api_error"
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// parseAPIError keeps the most useful part of a provider error and marks
// it as an outage so the HTTP layer answers 503.
func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, domain.ErrEmbeddingUnavailable)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail(reqErr.Body), domain.ErrEmbeddingUnavailable)
	}
	return fmt.Errorf("embedding request failed: %v: %w", err, domain.ErrEmbeddingUnavailable)
}

// detail returns the "detail" field of a text-embeddings-inference style
// error body, or the raw body.
func detail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return string(body)
}
