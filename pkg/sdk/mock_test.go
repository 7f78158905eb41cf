package pagedex

import (
	"context"
	"sync"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/search/request"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/indexing"
)

// --- indexer mock ---

type mockIndexer struct {
	mu       sync.Mutex
	indexed  []indexing.Request
	indexFn  func(ctx context.Context, req indexing.Request) (indexing.Result, error)
	removeFn func(ctx context.Context, path string) (bool, error)
}

func (m *mockIndexer) IndexFile(ctx context.Context, req indexing.Request) (indexing.Result, error) {
	m.mu.Lock()
	m.indexed = append(m.indexed, req)
	m.mu.Unlock()
	if m.indexFn == nil {
		return indexing.Result{DocumentID: "doc", Pages: 1}, nil
	}
	return m.indexFn(ctx, req)
}

func (m *mockIndexer) RemovePath(ctx context.Context, path string) (bool, error) {
	return m.removeFn(ctx, path)
}

// --- searcher mock ---

type mockSearcher struct {
	got request.Request
	fn  func(ctx context.Context, req request.Request) (result.Set, error)
}

func (m *mockSearcher) Search(ctx context.Context, req request.Request) (result.Set, error) {
	m.got = req
	return m.fn(ctx, req)
}

// --- stamp mock ---

type mockStamp struct {
	stamp    domain.IndexStamp
	initErr  error
	resetErr error
	resets   int
}

func (m *mockStamp) Init(context.Context) error { return m.initErr }

func (m *mockStamp) Reset(context.Context) error {
	m.resets++
	return m.resetErr
}

func (m *mockStamp) Stamp() domain.IndexStamp { return m.stamp }

// --- health mock ---

type mockHealth struct {
	report healthuc.Report
	stats  healthuc.Stats
	err    error
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

func (m *mockHealth) Stats(context.Context) (healthuc.Stats, error) { return m.stats, m.err }
