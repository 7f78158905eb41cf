package pagedex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/app"
	"github.com/kailas-cloud/pagedex/internal/config"
	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/division"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/mode"
	"github.com/kailas-cloud/pagedex/internal/domain/search/request"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/indexing"
)

// Internal interfaces, swapped out in tests.
type indexer interface {
	IndexFile(ctx context.Context, req indexing.Request) (indexing.Result, error)
	RemovePath(ctx context.Context, path string) (bool, error)
}

type searcher interface {
	Search(ctx context.Context, req request.Request) (result.Set, error)
}

type stampGuard interface {
	Init(ctx context.Context) error
	Reset(ctx context.Context) error
	Stamp() domain.IndexStamp
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
	Stats(ctx context.Context) (healthuc.Stats, error)
}

type enumerateFunc func(dir string, recursive bool) ([]string, error)

// Engine is one embedded pagedex index.
type Engine struct {
	app       *app.App
	root      string
	workers   int
	indexer   indexer
	searcher  searcher
	stamp     stampGuard
	health    healthUseCase
	enumerate enumerateFunc
	obs       *observer

	closeOnce sync.Once
}

// New loads the configuration, opens every store and wires the engine.
// The provided context is used for the initial readiness checks.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	ec := &engineConfig{}
	for _, o := range opts {
		o.apply(ec)
	}

	cfg, err := loadConfig(ec)
	if err != nil {
		return nil, err
	}

	logger := ec.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs, err := newObserver(logger, ec.metricsReg)
	if err != nil {
		return nil, err
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pagedex: %w", err)
	}

	return &Engine{
		app:       a,
		root:      cfg.Documents.Root,
		workers:   cfg.Ingest.Workers,
		indexer:   a.Indexer,
		searcher:  a.Search,
		stamp:     a.Stamp,
		health:    a.Health,
		enumerate: a.Ingest.Enumerate,
		obs:       obs,
	}, nil
}

func loadConfig(ec *engineConfig) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	switch {
	case ec.configFile != "":
		cfg, err = config.ReadFile(ec.configFile)
	case ec.env != "":
		cfg, err = config.ReadFile(config.Path(ec.env))
	default:
		cfg, err = config.ReadFile(config.Path(config.GetEnv()))
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("pagedex: %w", err)
	}

	if ec.documentsRoot != "" {
		cfg.Documents.Root = ec.documentsRoot
	}
	if ec.workers > 0 {
		cfg.Ingest.Workers = ec.workers
	}
	if ec.watcher != nil {
		cfg.Watcher.Enabled = *ec.watcher
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("pagedex: invalid config: %w", err)
	}
	return cfg, nil
}

// Root returns the documents root.
func (e *Engine) Root() string { return e.root }

// Start runs the background work of a long-lived engine: the ingestion
// workers, job pruning and, when enabled, the file watcher.
func (e *Engine) Start(ctx context.Context) error {
	if e.app == nil {
		return errors.New("pagedex: engine has no background services")
	}
	return e.app.Start(ctx)
}

// Handler returns the HTTP API of this engine. Queued endpoints need Start.
func (e *Engine) Handler() http.Handler {
	return e.app.Handler()
}

// Close drains background work, when started, and releases every store.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.app == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err = errors.Join(e.app.Shutdown(ctx), e.app.Close())
	})
	return err
}

// IndexFile indexes one file synchronously. Unchanged files are skipped
// unless force is set.
func (e *Engine) IndexFile(ctx context.Context, path string, force bool) (res IndexResult, err error) {
	start := time.Now()
	defer func() { e.obs.observe("index_file", start, err) }()

	path = e.resolve(path)
	r, err := e.indexer.IndexFile(ctx, indexing.Request{Path: path, Force: force})
	if err != nil {
		return IndexResult{}, fmt.Errorf("index %s: %w", path, err)
	}
	return indexResultFromDomain(path, r), nil
}

// Remove drops the document indexed for path. It reports false when the
// path was never indexed.
func (e *Engine) Remove(ctx context.Context, path string) (ok bool, err error) {
	start := time.Now()
	defer func() { e.obs.observe("remove", start, err) }()

	ok, err = e.indexer.RemovePath(ctx, e.resolve(path))
	if err != nil {
		return false, fmt.Errorf("remove: %w", err)
	}
	return ok, nil
}

// Search runs one query with unrestricted access.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (resp SearchResponse, err error) {
	start := time.Now()
	defer func() { e.obs.observe("search", start, err) }()

	scope, err := division.Resolve(division.Principal{Unrestricted: true}, req.Division)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search: %w", err)
	}
	r, err := request.New(req.Query, mode.Mode(strings.ToLower(string(req.Mode))), scope, req.FileType, req.Limit)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search: %w: %w", domain.ErrInvalidRequest, err)
	}

	set, err := e.searcher.Search(ctx, r)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search: %w", err)
	}

	out := SearchResponse{
		Results:        make([]Page, 0, len(set.Results)),
		Degraded:       set.Degraded,
		DegradedReason: set.DegradedReason,
		Took:           time.Since(start),
	}
	for _, res := range set.Results {
		out.Results = append(out.Results, pageFromResult(res))
	}
	return out, nil
}

// InitIndex creates missing backends and stamps an empty index with the
// configured model. A stamp of another model returns ErrConfigurationMismatch.
func (e *Engine) InitIndex(ctx context.Context) (stamp IndexStamp, err error) {
	start := time.Now()
	defer func() { e.obs.observe("init_index", start, err) }()

	if err := e.stamp.Init(ctx); err != nil {
		return stampFromDomain(e.stamp.Stamp()), fmt.Errorf("init index: %w", err)
	}
	return stampFromDomain(e.stamp.Stamp()), nil
}

// ResetIndex drops every backend and the catalog, then stamps the index with
// the configured model. Every document has to be indexed again.
func (e *Engine) ResetIndex(ctx context.Context) (stamp IndexStamp, err error) {
	start := time.Now()
	defer func() { e.obs.observe("reset_index", start, err) }()

	if err := e.stamp.Reset(ctx); err != nil {
		return IndexStamp{}, fmt.Errorf("reset index: %w", err)
	}
	return stampFromDomain(e.stamp.Stamp()), nil
}

// Status checks every component.
func (e *Engine) Status(ctx context.Context) Status {
	r := e.health.Check(ctx)
	return Status{
		Status:             string(r.Status),
		VectorBackend:      r.VectorBackend,
		KeywordBackend:     r.KeywordBackend,
		VectorConnected:    r.VectorConnected,
		KeywordConnected:   r.KeywordConnected,
		EmbeddingConnected: r.EmbeddingConnected,
		NumEntities:        r.NumEntities,
		WatcherActive:      r.WatcherActive,
		QueueDepth:         r.QueueDepth,
		Stamp:              stampFromDomain(r.Stamp),
		StampError:         r.StampError,
	}
}

// Stats aggregates the catalog.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	st, err := e.health.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return Stats{
		TotalPages:          st.TotalPages,
		TotalDocuments:      st.TotalDocuments,
		DocumentsByStatus:   st.ByStatus,
		DocumentsByDivision: st.ByDivision,
	}, nil
}

// resolve makes relative paths relative to the documents root.
func (e *Engine) resolve(path string) string {
	if path == "" {
		return e.root
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.root, path)
	}
	return filepath.Clean(path)
}

func indexResultFromDomain(path string, r indexing.Result) IndexResult {
	return IndexResult{
		Path:       path,
		DocumentID: r.DocumentID,
		Division:   r.Division,
		Pages:      r.Pages,
		Warnings:   r.Warnings,
		Skipped:    r.Skipped,
		Tokens:     r.EmbeddingTokens,
	}
}

func pageFromResult(r result.Result) Page {
	rec := r.Page()
	return Page{
		ID:          rec.ID,
		DocumentID:  rec.DocumentID,
		FilePath:    rec.FilePath,
		FileName:    rec.FileName,
		Division:    rec.Division,
		PageNumber:  rec.PageNumber,
		TotalPages:  rec.TotalPages,
		Text:        rec.Text,
		Snippet:     page.Snippet(rec.Text),
		Language:    rec.Language,
		Score:       r.Score(),
		IsFirstPage: rec.IsFirst(),
		IsLastPage:  rec.IsLast(),
	}
}

func stampFromDomain(s domain.IndexStamp) IndexStamp {
	return IndexStamp{
		Model:      s.Model,
		Dimensions: s.Dimensions,
		Version:    s.Version,
		CreatedAt:  s.CreatedAt,
	}
}
