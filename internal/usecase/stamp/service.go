// Package stamp guards the index against mixing vectors from different
// embedding models.
package stamp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// Guard owns the index stamp and the lifecycle of the index backends.
type Guard struct {
	store      Store
	catalog    Catalog
	backends   []Backend
	configured domain.IndexStamp
	logger     *zap.Logger

	mu       sync.RWMutex
	stored   domain.IndexStamp
	mismatch error
}

// NewGuard creates a guard for the configured model. Backends that appear
// more than once (one store serving vectors and keywords) are ensured once.
func NewGuard(
	store Store, catalog Catalog, configured domain.IndexStamp, logger *zap.Logger, backends ...Backend,
) *Guard {
	uniq := make([]Backend, 0, len(backends))
	seen := make(map[Backend]struct{}, len(backends))
	for _, b := range backends {
		if b == nil {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		uniq = append(uniq, b)
	}
	return &Guard{
		store:      store,
		catalog:    catalog,
		backends:   uniq,
		configured: configured,
		logger:     logger,
	}
}

// Init ensures every backend and writes the stamp on first start. A stored
// stamp for another model is returned as *domain.MismatchError and remembered,
// so Check keeps failing until Reset.
func (g *Guard) Init(ctx context.Context) error {
	stored, ok, err := g.store.LoadStamp(ctx)
	if err != nil {
		return fmt.Errorf("load stamp: %w", err)
	}

	if ok {
		if err := g.configured.Verify(stored); err != nil {
			g.setState(stored, err)
			g.logger.Error("Index was built with another embedding model; run reset-index",
				zap.String("stored_model", stored.Model),
				zap.Int("stored_dimensions", stored.Dimensions),
				zap.String("configured_model", g.configured.Model),
				zap.Int("configured_dimensions", g.configured.Dimensions),
			)
			return err
		}
	}

	if err := g.ensure(ctx); err != nil {
		return err
	}

	if !ok {
		stored = g.configured
		if err := g.store.SaveStamp(ctx, stored); err != nil {
			return fmt.Errorf("save stamp: %w", err)
		}
		g.logger.Info("Index stamped",
			zap.String("model", stored.Model),
			zap.Int("dimensions", stored.Dimensions),
		)
	}
	g.setState(stored, nil)
	return nil
}

// Check returns the stamp mismatch, if any. Queries and indexing call it first.
func (g *Guard) Check(context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mismatch
}

// Stamp returns the stamp of the live index.
func (g *Guard) Stamp() domain.IndexStamp {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stored
}

// Configured returns the stamp the running process would write.
func (g *Guard) Configured() domain.IndexStamp { return g.configured }

// Reset drops every backend, forgets the catalog and re-stamps with the
// configured model. Every document must be re-indexed afterwards.
func (g *Guard) Reset(ctx context.Context) error {
	for _, b := range g.backends {
		if err := b.Drop(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", b.Name(), err)
		}
	}
	if g.catalog != nil {
		if err := g.catalog.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clear catalog: %w", err)
		}
	}
	if err := g.store.DeleteStamp(ctx); err != nil {
		return fmt.Errorf("delete stamp: %w", err)
	}
	g.setState(domain.IndexStamp{}, nil)

	g.logger.Warn("Index reset", zap.String("model", g.configured.Model))
	return g.Init(ctx)
}

func (g *Guard) ensure(ctx context.Context) error {
	for _, b := range g.backends {
		if err := b.Ensure(ctx, g.configured.Dimensions); err != nil {
			return fmt.Errorf("ensure %s: %w", b.Name(), err)
		}
	}
	return nil
}

func (g *Guard) setState(stored domain.IndexStamp, mismatch error) {
	g.mu.Lock()
	g.stored = stored
	g.mismatch = mismatch
	g.mu.Unlock()
}
