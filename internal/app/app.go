// Package app is the composition root shared by the API server, the CLI and
// the embeddable engine. It owns every store and service of one pagedex
// instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/config"
	"github.com/kailas-cloud/pagedex/internal/db"
	dbredis "github.com/kailas-cloud/pagedex/internal/db/redis"
	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/division"
	"github.com/kailas-cloud/pagedex/internal/extract"
	"github.com/kailas-cloud/pagedex/internal/metrics"
	"github.com/kailas-cloud/pagedex/internal/repository/chromem"
	"github.com/kailas-cloud/pagedex/internal/repository/embcache"
	"github.com/kailas-cloud/pagedex/internal/repository/pages"
	"github.com/kailas-cloud/pagedex/internal/repository/qdrant"
	"github.com/kailas-cloud/pagedex/internal/repository/sqlite"
	chiTransport "github.com/kailas-cloud/pagedex/internal/transport/chi"
	openaiEmb "github.com/kailas-cloud/pagedex/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/pagedex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/indexing"
	"github.com/kailas-cloud/pagedex/internal/usecase/ingest"
	jobsuc "github.com/kailas-cloud/pagedex/internal/usecase/jobs"
	searchuc "github.com/kailas-cloud/pagedex/internal/usecase/search"
	stampuc "github.com/kailas-cloud/pagedex/internal/usecase/stamp"
	"github.com/kailas-cloud/pagedex/internal/usecase/watcher"
)

const (
	pagesCollection   = "pages"
	cachePurgeEvery   = time.Hour
	defaultReadyDelay = 10 * time.Second
)

// VectorBackend is a page index answering nearest-neighbour queries.
type VectorBackend interface {
	stampuc.Backend
	indexing.Index
	searchuc.VectorIndex
	healthuc.Backend
}

// KeywordBackend is a page index answering full-text queries. It also
// serves page lookups by id.
type KeywordBackend interface {
	stampuc.Backend
	indexing.Index
	indexing.PageLookup
	searchuc.KeywordIndex
	healthuc.Backend
}

// App is one wired pagedex instance.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Catalog   *sqlite.Catalog
	Vector    VectorBackend
	Keyword   KeywordBackend
	Divisions *division.Registry
	Embedder  *embeddinguc.Service
	Stamp     *stampuc.Guard
	Jobs      *jobsuc.Service
	Indexer   *indexing.Service
	Ingest    *ingest.Service
	Watcher   *watcher.Watcher // nil when disabled
	Search    *searchuc.Service
	Health    *healthuc.Service

	sqlite  *sqlite.Store
	cacheKV *sqlite.KV // set when the embedding cache lives in SQLite
	closers []func() error

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Build opens every store and wires the services. A stamp mismatch is kept
// by the guard, so the instance still starts and reports it. On error
// everything opened so far is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.sqlite, err = sqlite.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.closers = append(a.closers, a.sqlite.Close)
	a.Catalog = a.sqlite.Catalog()

	var redisStore *dbredis.Store
	if cfg.UsesRedis() {
		redisStore, err = a.connectRedis(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := a.buildBackends(redisStore); err != nil {
		return nil, err
	}

	a.Embedder = a.buildEmbedder(redisStore)

	a.Stamp = stampuc.NewGuard(
		a.sqlite.Meta(), a.Catalog,
		domain.NewIndexStamp(cfg.Embedding.Model, cfg.Embedding.Dimensions),
		logger, a.Vector, a.Keyword,
	)
	if err := a.Stamp.Init(ctx); err != nil {
		if !errors.Is(err, domain.ErrConfigurationMismatch) {
			return nil, fmt.Errorf("init index: %w", err)
		}
	}

	a.Divisions = division.NewRegistry(cfg.Documents.Divisions)
	a.Jobs = jobsuc.New(a.sqlite.Jobs(), jobsuc.Config{
		Retention:     cfg.Jobs.Retention,
		PruneInterval: cfg.Jobs.PruneInterval,
		MaxDuration:   cfg.Jobs.MaxDuration,
	}, logger.Named("jobs"))

	a.Indexer = indexing.New(indexing.Deps{
		Extractor: a.buildExtractor(),
		Embedder:  a.Embedder,
		Vector:    a.Vector,
		Keyword:   a.Keyword,
		Catalog:   a.Catalog,
		Lookup:    a.Keyword,
		Stamp:     a.Stamp,
		Divisions: a.Divisions,
	}, cfg.Documents.Root, logger.Named("indexing"))

	a.Ingest = ingest.New(a.Indexer, a.Jobs, ingest.Config{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	}, logger.Named("ingest"))

	if cfg.Watcher.Enabled {
		a.Watcher = watcher.New(watcher.Config{
			Root:        cfg.Documents.Root,
			Settle:      time.Duration(cfg.Watcher.SettleMS) * time.Millisecond,
			InitialScan: cfg.Watcher.InitialScan,
		}, a.Ingest, a.Catalog, a.Indexer.Supported, logger.Named("watcher"))
	}

	a.Search = searchuc.New(a.Vector, a.Keyword, a.Embedder, a.Stamp, searchuc.Config{
		KeywordWeight:  cfg.Search.KeywordWeight,
		SemanticWeight: cfg.Search.SemanticWeight,
		MinScore:       cfg.Search.MinScore,
		PhraseBoost:    cfg.Search.PhraseBoost,
	}, logger.Named("search"))

	// A nil *Watcher must not reach the interface field.
	var watcherState healthuc.WatcherState
	if a.Watcher != nil {
		watcherState = a.Watcher
	}
	a.Health = healthuc.New(healthuc.Deps{
		Vector:    a.Vector,
		Keyword:   a.Keyword,
		Embedding: a.Embedder,
		Stamp:     a.Stamp,
		Watcher:   watcherState,
		Queue:     a.Ingest,
		Catalog:   a.Catalog,
	}, logger.Named("health"))

	logger.Info("Engine wired",
		zap.String("vector_backend", a.Vector.Name()),
		zap.String("keyword_backend", a.Keyword.Name()),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Int("embedding_dimensions", cfg.Embedding.Dimensions),
		zap.String("documents_root", cfg.Documents.Root),
		zap.Bool("watcher", cfg.Watcher.Enabled),
	)
	return a, nil
}

// Config returns the configuration the instance was built with.
func (a *App) Config() config.Config { return a.cfg }

func (a *App) connectRedis(ctx context.Context) (*dbredis.Store, error) {
	flavor := db.FlavorValkey
	if a.cfg.Database.Driver == string(db.FlavorRedis) {
		flavor = db.FlavorRedis
	}
	store, err := dbredis.NewStore(dbredis.Config{
		Addrs:    a.cfg.Database.Addrs,
		Password: a.cfg.Database.Password,
		Flavor:   flavor,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", flavor, err)
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })

	timeout := time.Duration(a.cfg.Database.ReadinessTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultReadyDelay
	}
	if err := store.WaitForReady(ctx, timeout); err != nil {
		return nil, fmt.Errorf("%s not ready: %w", flavor, err)
	}
	a.logger.Info("Connected to database",
		zap.String("driver", string(flavor)),
		zap.Strings("addrs", a.cfg.Database.Addrs),
	)
	return store, nil
}

func (a *App) buildBackends(redisStore *dbredis.Store) error {
	var redisPages *pages.Repo
	if redisStore != nil {
		redisPages = pages.New(redisStore, pages.HNSWConfig{
			M:           a.cfg.Vector.HNSW.M,
			EFConstruct: a.cfg.Vector.HNSW.EFConstruct,
		})
	}

	switch a.cfg.Vector.Backend {
	case config.BackendChromem:
		repo, err := chromem.Open(chromem.Config{
			Path:       a.cfg.Vector.Chromem.Path,
			Compress:   a.cfg.Vector.Chromem.Compress,
			Collection: pagesCollection,
		}, a.logger.Named("chromem"))
		if err != nil {
			return fmt.Errorf("open chromem: %w", err)
		}
		a.Vector = repo
	case config.BackendQdrant:
		repo, err := qdrant.Dial(qdrant.Config{
			Host:       a.cfg.Vector.Qdrant.Host,
			Port:       a.cfg.Vector.Qdrant.Port,
			APIKey:     a.cfg.Vector.Qdrant.APIKey,
			UseTLS:     a.cfg.Vector.Qdrant.UseTLS,
			Collection: a.cfg.Vector.Qdrant.Collection,
		})
		if err != nil {
			return fmt.Errorf("dial qdrant: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		a.Vector = repo
	case config.BackendRedis:
		a.Vector = redisPages
	default:
		return fmt.Errorf("unknown vector backend %q", a.cfg.Vector.Backend)
	}

	switch a.cfg.Keyword.Backend {
	case config.BackendSQLite:
		a.Keyword = a.sqlite.Keyword()
	case config.BackendRedis:
		a.Keyword = redisPages
	default:
		return fmt.Errorf("unknown keyword backend %q", a.cfg.Keyword.Backend)
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Service.
func (a *App) buildEmbedder(redisStore *dbredis.Store) *embeddinguc.Service {
	ec := a.cfg.Embedding

	dims := 0
	if ec.SendDimension {
		dims = ec.Dimensions
	}
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     ec.APIKey,
		BaseURL:    ec.BaseURL,
		Model:      ec.Model,
		Dimensions: dims,
		Provider:   ec.Provider,
		Timeout:    time.Duration(ec.TimeoutSec) * time.Second,
		Logger:     a.logger,
	})

	var embedder embeddinguc.Embedder = base
	if ec.CacheTTLHours > 0 {
		ttl := time.Duration(ec.CacheTTLHours) * time.Hour
		cacheLogger := a.logger.Named("embcache")
		if redisStore != nil {
			embedder = embcache.New(base, redisStore, ec.Model, ttl, metrics.EmbeddingCacheTotal, cacheLogger)
		} else {
			a.cacheKV = a.sqlite.KV()
			embedder = embcache.New(base, a.cacheKV, ec.Model, ttl, metrics.EmbeddingCacheTotal, cacheLogger)
		}
	}

	instrumented := embeddinguc.NewInstrumentedEmbedder(embedder, ec.Provider, ec.Model, a.logger)

	return embeddinguc.NewService(instrumented, embeddinguc.Config{
		BatchSize:  ec.BatchSize,
		MaxRetries: uint64(max(ec.MaxRetries, 0)),
	}, a.logger.Named("embedding"))
}

func (a *App) buildExtractor() *extract.Registry {
	oc := a.cfg.OCR
	ecfg := extract.Config{
		MaxFileSize:    int64(a.cfg.Extract.MaxFileSizeMB) << 20,
		PageCharBudget: a.cfg.Extract.PageCharBudget,
		MinTextChars:   a.cfg.Extract.MinTextChars,
		MinDensity:     a.cfg.Extract.MinDensity,
		OCRLanguages:   oc.Languages,
		OCRDPI:         oc.DPI,
		OCRTimeout:     time.Duration(oc.TimeoutSec) * time.Second,
		MinConfidence:  oc.MinConfidence,
	}
	if !oc.Enabled {
		return extract.NewRegistry(ecfg, nil, nil)
	}

	// Untyped nils keep scanned pages as warnings when a tool is missing.
	var raster extract.Rasterizer
	if p := extract.NewPdftoppm(oc.Pdftoppm); p.Available() {
		raster = p
	} else {
		a.logger.Warn("pdftoppm not found, scanned PDF pages will not be OCRed")
	}
	return extract.NewRegistry(ecfg, extract.NewTesseract(oc.Languages), raster)
}

// Start recovers interrupted jobs and launches the background work: job
// pruning, the ingestion workers, the cache purge and the file watcher.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.started = true

	if _, err := a.Jobs.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Jobs.Run(runCtx)
	}()

	if a.cacheKV != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.purgeCache(runCtx)
		}()
	}

	a.Ingest.Start(runCtx)

	if a.Watcher != nil {
		if err := a.Watcher.Start(runCtx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	return nil
}

func (a *App) purgeCache(ctx context.Context) {
	ticker := time.NewTicker(cachePurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.cacheKV.PurgeExpired(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					a.logger.Warn("Embedding cache purge failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				a.logger.Debug("Purged expired embeddings", zap.Int("count", n))
			}
		}
	}
}

// Handler returns the HTTP API with its middleware stack.
func (a *App) Handler() http.Handler {
	keys := make([]chiTransport.APIKey, 0, len(a.cfg.Auth.Keys))
	for _, k := range a.cfg.Auth.Keys {
		keys = append(keys, chiTransport.APIKey{
			Key: k.Key,
			Principal: division.Principal{
				Name:         k.Name,
				Division:     division.Normalize(k.Division),
				Unrestricted: k.Unrestricted,
			},
			Delegate: k.Delegate,
		})
	}
	anon := a.cfg.Auth.Anonymous
	auth := chiTransport.NewAuthenticator(keys, division.Principal{
		Name:         anon.Name,
		Division:     division.Normalize(anon.Division),
		Unrestricted: anon.Unrestricted,
	})

	server := chiTransport.NewServer(chiTransport.Deps{
		Ingest:    a.Ingest,
		Jobs:      a.Jobs,
		Documents: a.Indexer,
		Search:    a.Search,
		Health:    a.Health,
		Divisions: a.Divisions,
	}, a.cfg.Documents.Root, a.logger)

	return chiTransport.NewRouter(server, auth, a.logger)
}

// Shutdown stops the watcher, drains the ingestion queue within ctx and
// stops the background loops. Stores stay open until Close.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil
	}

	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	err := a.Ingest.Shutdown(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	return err
}

// Close releases every store in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
