// Package watcher keeps the index in step with the documents tree. File
// events are debounced per path and handed to the ingestion scheduler once
// the file has stopped changing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/usecase/ingest"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
)

// Config tunes the watcher.
type Config struct {
	Root        string
	Settle      time.Duration
	InitialScan bool
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Settle <= 0 {
		c.Settle = 2 * time.Second
	}
}

// observation is the last seen size and mtime of a changing file.
type observation struct {
	size    int64
	modTime time.Time
	since   time.Time
}

// Watcher observes the documents root recursively.
type Watcher struct {
	mu      sync.Mutex
	pending map[string]observation
	dirs    map[string]struct{}

	fsw    *fsnotify.Watcher
	active atomic.Bool
	done   chan struct{}

	cfg       Config
	scheduler Scheduler
	catalog   Catalog
	supported func(path string) bool
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a watcher. supported filters paths by extension.
func New(cfg Config, scheduler Scheduler, catalog Catalog, supported func(string) bool, logger *zap.Logger) *Watcher {
	cfg.ApplyDefaults()
	cfg.Root = filepath.Clean(cfg.Root)
	return &Watcher{
		pending:   make(map[string]observation),
		dirs:      make(map[string]struct{}),
		cfg:       cfg,
		scheduler: scheduler,
		catalog:   catalog,
		supported: supported,
		now:       time.Now,
		logger:    logger,
	}
}

// Active reports whether the watcher is running.
func (w *Watcher) Active() bool { return w.active.Load() }

// Start registers the tree and processes events until ctx is done or Stop
// is called. The initial reconciliation runs in the background.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})

	if err := w.addTree(w.cfg.Root, false); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.cfg.Root, err)
	}

	w.active.Store(true)
	go w.loop(ctx)

	if w.cfg.InitialScan {
		go func() {
			queued, removed, err := w.Reconcile(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("Initial scan failed", zap.Error(err))
				return
			}
			w.logger.Info("Initial scan complete",
				zap.String("root", w.cfg.Root),
				zap.Int("queued", queued),
				zap.Int("removed", removed),
			)
		}()
	}

	w.logger.Info("File watcher started",
		zap.String("root", w.cfg.Root),
		zap.Duration("settle", w.cfg.Settle),
	)
	return nil
}

// Stop closes the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	if w.fsw == nil || !w.active.Load() {
		return
	}
	_ = w.fsw.Close()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.active.Store(false)

	tick := w.cfg.Settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		case <-ticker.C:
			w.settle(ctx, w.now())
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.ignoredPath(path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.removed(ctx, path)
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.addTree(path, true); err != nil {
				w.logger.Warn("Failed to watch new directory", zap.String("path", path), zap.Error(err))
			}
			return
		}
		w.observe(path)
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod):
		w.observe(path)
	}
}

// addTree watches dir and every non-ignored directory below it. With
// observeFiles set, files already present are debounced as new.
func (w *Watcher) addTree(dir string, observeFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && ingest.Ignored(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			w.mu.Lock()
			w.dirs[path] = struct{}{}
			w.mu.Unlock()
			return nil
		}
		if observeFiles {
			w.observe(path)
		}
		return nil
	})
}

// observe records the current size and mtime of path, restarting its settle
// window when either changed.
func (w *Watcher) observe(path string) {
	if !w.supported(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev, ok := w.pending[path]
	if ok && prev.size == info.Size() && prev.modTime.Equal(info.ModTime()) {
		return
	}
	w.pending[path] = observation{size: info.Size(), modTime: info.ModTime(), since: w.now()}
}

// settle queues every pending file whose size and mtime held still for the
// whole settle window.
func (w *Watcher) settle(ctx context.Context, now time.Time) {
	var ready []string

	w.mu.Lock()
	for path, obs := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != obs.size || !info.ModTime().Equal(obs.modTime) {
			w.pending[path] = observation{size: info.Size(), modTime: info.ModTime(), since: now}
			continue
		}
		if now.Sub(obs.since) >= w.cfg.Settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if _, err := w.scheduler.SubmitFile(ctx, jobs.Spec{Target: path}); err != nil {
			w.logger.Warn("Failed to queue changed file", zap.String("path", path), zap.Error(err))
			continue
		}
		w.logger.Debug("Queued changed file", zap.String("path", path))
	}
}

// removed handles a deleted or renamed-away path, file or directory.
func (w *Watcher) removed(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	_, wasDir := w.dirs[path]
	if wasDir {
		prefix := path + string(filepath.Separator)
		for d := range w.dirs {
			if d == path || strings.HasPrefix(d, prefix) {
				delete(w.dirs, d)
			}
		}
		for p := range w.pending {
			if strings.HasPrefix(p, prefix) {
				delete(w.pending, p)
			}
		}
	}
	w.mu.Unlock()

	if !wasDir {
		if w.supported(path) {
			w.submitRemove(ctx, path)
		}
		return
	}

	docs, err := w.catalog.List(ctx)
	if err != nil {
		w.logger.Warn("Failed to list documents under removed directory", zap.String("path", path), zap.Error(err))
		return
	}
	prefix := path + string(filepath.Separator)
	for i := range docs {
		if strings.HasPrefix(docs[i].Path(), prefix) {
			w.submitRemove(ctx, docs[i].Path())
		}
	}
}

func (w *Watcher) submitRemove(ctx context.Context, path string) {
	if _, err := w.scheduler.SubmitRemove(ctx, path); err != nil {
		w.logger.Warn("Failed to queue removal", zap.String("path", path), zap.Error(err))
	}
}

// Reconcile compares the tree with the catalog: new or changed files are
// queued and documents whose file is gone are removed.
func (w *Watcher) Reconcile(ctx context.Context) (queued, removed int, err error) {
	docs, err := w.catalog.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list documents: %w", err)
	}
	known := make(map[string]document.Document, len(docs))
	for _, d := range docs {
		known[d.Path()] = d
	}

	walkErr := filepath.WalkDir(w.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != w.cfg.Root && ingest.Ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if ingest.Ignored(d.Name()) || !w.supported(path) {
			return nil
		}

		doc, ok := known[path]
		delete(known, path)
		if ok && !changed(&doc, d) {
			return nil
		}
		if _, err := w.scheduler.SubmitFile(ctx, jobs.Spec{Target: path}); err != nil {
			w.logger.Warn("Failed to queue file", zap.String("path", path), zap.Error(err))
			return nil
		}
		queued++
		return nil
	})
	if walkErr != nil {
		return queued, removed, walkErr
	}

	for path := range known {
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if _, err := w.scheduler.SubmitRemove(ctx, path); err != nil {
			w.logger.Warn("Failed to queue removal", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return queued, removed, nil
}

func changed(doc *document.Document, d fs.DirEntry) bool {
	if doc.Status() != document.StatusIndexed {
		return true
	}
	info, err := d.Info()
	if err != nil {
		return true
	}
	return !doc.Fingerprint().SameStat(document.Fingerprint{Size: info.Size(), ModTime: info.ModTime().UTC()})
}

func (w *Watcher) ignoredPath(path string) bool {
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if ingest.Ignored(part) {
			return true
		}
	}
	return false
}
