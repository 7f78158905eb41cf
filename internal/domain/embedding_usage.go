package domain

import (
	"context"
	"sync"
)

type usageKey struct{}

// EmbeddingUsage accumulates the tokens spent embedding the pages of one
// file. Embedders find it in the context; a context without one records nothing.
type EmbeddingUsage struct {
	mu          sync.Mutex
	TotalTokens int
	Calls       int
}

// NewContextWithUsage attaches a fresh collector to ctx.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext returns the collector of ctx, or nil.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(usageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records one provider call. Safe on a nil receiver.
func (u *EmbeddingUsage) AddTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.TotalTokens += n
	u.Calls++
	u.mu.Unlock()
}

// Tokens returns the total recorded so far.
func (u *EmbeddingUsage) Tokens() int {
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.TotalTokens
}
