package pagedex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/mode"
	"github.com/kailas-cloud/pagedex/internal/domain/search/request"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/indexing"
)

func newTestEngine(root string) (*Engine, *mockIndexer) {
	idx := &mockIndexer{}
	return &Engine{
		root:    root,
		workers: 2,
		indexer: idx,
	}, idx
}

func TestIndexFile_ResolvesRelativePath(t *testing.T) {
	e, idx := newTestEngine("/docs")
	idx.indexFn = func(_ context.Context, req indexing.Request) (indexing.Result, error) {
		return indexing.Result{DocumentID: "d1", Division: "DSI", Pages: 3, Skipped: false}, nil
	}

	res, err := e.IndexFile(context.Background(), "DSI/plan.pdf", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idx.indexed) != 1 {
		t.Fatalf("indexed %d files, want 1", len(idx.indexed))
	}
	got := idx.indexed[0]
	if got.Path != "/docs/DSI/plan.pdf" || !got.Force {
		t.Errorf("request = %+v", got)
	}
	if res.Path != "/docs/DSI/plan.pdf" || res.DocumentID != "d1" || res.Pages != 3 || res.Division != "DSI" {
		t.Errorf("result = %+v", res)
	}
}

func TestIndexFile_WrapsError(t *testing.T) {
	e, idx := newTestEngine("/docs")
	idx.indexFn = func(context.Context, indexing.Request) (indexing.Result, error) {
		return indexing.Result{}, domain.ErrExtractionFailure
	}

	_, err := e.IndexFile(context.Background(), "/docs/bad.pdf", false)
	if !errors.Is(err, ErrExtractionFailure) {
		t.Fatalf("expected ErrExtractionFailure, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	e, idx := newTestEngine("/docs")
	var gotPath string
	idx.removeFn = func(_ context.Context, path string) (bool, error) {
		gotPath = path
		return true, nil
	}

	ok, err := e.Remove(context.Background(), "DRH/../DSI/a.pdf")
	if err != nil || !ok {
		t.Fatalf("Remove = %v, %v", ok, err)
	}
	if gotPath != "/docs/DSI/a.pdf" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestSearch_MapsResults(t *testing.T) {
	e, _ := newTestEngine("/docs")
	rec := page.Record{
		ID:         "p2",
		DocumentID: "d1",
		FilePath:   "/docs/DSI/plan.pdf",
		FileName:   "plan.pdf",
		Division:   "DSI",
		PageNumber: 2,
		TotalPages: 3,
		Text:       "Plan de continuité",
		Language:   "fr",
	}
	s := &mockSearcher{fn: func(context.Context, request.Request) (result.Set, error) {
		return result.Set{
			Results:        []result.Result{result.New(rec, 0.8, 0.9, 0.6)},
			Degraded:       true,
			DegradedReason: "vector_backend_unavailable",
		}, nil
	}}
	e.searcher = s

	resp, err := e.Search(context.Background(), SearchRequest{
		Query:    "continuité",
		Mode:     "SEMANTIC",
		Division: "dsi",
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.got.Mode() != mode.Semantic || s.got.Limit() != 5 || s.got.Scope().Division != "DSI" {
		t.Errorf("request = mode %s limit %d scope %+v", s.got.Mode(), s.got.Limit(), s.got.Scope())
	}
	if !resp.Degraded || resp.DegradedReason != "vector_backend_unavailable" {
		t.Errorf("degraded = %v %q", resp.Degraded, resp.DegradedReason)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(resp.Results))
	}
	p := resp.Results[0]
	if p.ID != "p2" || p.Score != 0.8 || p.IsFirstPage || p.IsLastPage || p.Snippet == "" {
		t.Errorf("page = %+v", p)
	}
}

func TestSearch_AllDivisions(t *testing.T) {
	e, _ := newTestEngine("/docs")
	s := &mockSearcher{fn: func(context.Context, request.Request) (result.Set, error) {
		return result.Set{}, nil
	}}
	e.searcher = s

	resp, err := e.Search(context.Background(), SearchRequest{Query: "q", Division: AllDivisions})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.got.Scope().IsAll() {
		t.Errorf("scope = %+v, want all", s.got.Scope())
	}
	if s.got.Mode() != mode.Hybrid || s.got.Limit() != request.DefaultLimit {
		t.Errorf("defaults: mode %s limit %d", s.got.Mode(), s.got.Limit())
	}
	if resp.Results == nil {
		t.Error("results must be an empty slice, not nil")
	}
}

func TestSearch_InvalidRequest(t *testing.T) {
	e, _ := newTestEngine("/docs")
	e.searcher = &mockSearcher{fn: func(context.Context, request.Request) (result.Set, error) {
		t.Fatal("searcher must not be called")
		return result.Set{}, nil
	}}

	tests := []SearchRequest{
		{Query: "  "},
		{Query: "q", Mode: "fuzzy"},
		{Query: "q", Limit: request.MaxLimit + 1},
	}
	for _, req := range tests {
		if _, err := e.Search(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
	}
}

func TestSearch_BackendError(t *testing.T) {
	e, _ := newTestEngine("/docs")
	e.searcher = &mockSearcher{fn: func(context.Context, request.Request) (result.Set, error) {
		return result.Set{}, domain.ErrServiceUnavailable
	}}

	if _, err := e.Search(context.Background(), SearchRequest{Query: "q"}); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestInitIndex_Mismatch(t *testing.T) {
	e, _ := newTestEngine("/docs")
	stored := domain.NewIndexStamp("old-model", 768)
	mismatch := &domain.MismatchError{Stored: stored, Configured: domain.NewIndexStamp("new-model", 384)}
	e.stamp = &mockStamp{stamp: stored, initErr: mismatch}

	st, err := e.InitIndex(context.Background())
	if !errors.Is(err, ErrConfigurationMismatch) {
		t.Fatalf("expected ErrConfigurationMismatch, got %v", err)
	}
	if st.Model != "old-model" || st.Dimensions != 768 {
		t.Errorf("stamp = %+v", st)
	}
}

func TestResetIndex(t *testing.T) {
	e, _ := newTestEngine("/docs")
	ms := &mockStamp{stamp: domain.NewIndexStamp("m", 384)}
	e.stamp = ms

	st, err := e.ResetIndex(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.resets != 1 || st.Model != "m" {
		t.Errorf("resets = %d stamp = %+v", ms.resets, st)
	}

	ms.resetErr = errors.New("drop failed")
	if _, err := e.ResetIndex(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStatusAndStats(t *testing.T) {
	e, _ := newTestEngine("/docs")
	e.health = &mockHealth{
		report: healthuc.Report{
			Status:          healthuc.Degraded,
			VectorBackend:   "chromem",
			KeywordBackend:  "sqlite",
			VectorConnected: true,
			NumEntities:     42,
			QueueDepth:      3,
		},
		stats: healthuc.Stats{
			TotalPages: 42,
			Stats: document.Stats{
				TotalDocuments: 7,
				ByDivision:     map[string]int{"DSI": 7},
			},
		},
	}

	st := e.Status(context.Background())
	if st.Status != "degraded" || st.VectorBackend != "chromem" || st.NumEntities != 42 || st.QueueDepth != 3 {
		t.Errorf("status = %+v", st)
	}

	stats, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalPages != 42 || stats.TotalDocuments != 7 || stats.DocumentsByDivision["DSI"] != 7 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestObserver_RecordsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, idx := newTestEngine("/docs")
	e.obs = obs
	idx.removeFn = func(context.Context, string) (bool, error) { return false, errors.New("boom") }

	_, _ = e.IndexFile(context.Background(), "a.txt", false)
	_, _ = e.Remove(context.Background(), "a.txt")

	if got := testutil.ToFloat64(obs.operations.WithLabelValues("index_file", "ok")); got != 1 {
		t.Errorf("index_file ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(obs.operations.WithLabelValues("remove", "error")); got != 1 {
		t.Errorf("remove error = %v, want 1", got)
	}

	// A second engine on the same registry reuses the collectors.
	if _, err := newObserver(nil, reg); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("search: %w", ErrInvalidRequest), "invalid"},
		{fmt.Errorf("index: %w", ErrUnsupportedFormat), "invalid"},
		{ErrDocumentNotFound, "not_found"},
		{fmt.Errorf("embed: %w", ErrEmbeddingUnavailable), "unavailable"},
		{context.Canceled, "canceled"},
		{errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		if got := outcome(tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	yaml := `
http:
  port: 8080
embedding:
  base_url: http://localhost:8081/v1
watcher:
  enabled: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	// documents.root is missing from the file; the option supplies it.
	ec := &engineConfig{}
	for _, o := range []Option{WithConfigFile(path), WithDocumentsRoot(dir), WithWorkers(8), WithWatcher(false)} {
		o.apply(ec)
	}
	cfg, err := loadConfig(ec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Documents.Root != dir || cfg.Ingest.Workers != 8 || cfg.Watcher.Enabled {
		t.Errorf("overrides not applied: root %q workers %d watcher %v",
			cfg.Documents.Root, cfg.Ingest.Workers, cfg.Watcher.Enabled)
	}

	if _, err := loadConfig(&engineConfig{configFile: path}); err == nil {
		t.Fatal("expected validation error without documents root")
	}
}
