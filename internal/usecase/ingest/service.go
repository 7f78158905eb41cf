// Package ingest schedules indexing work: a bounded queue feeding a fixed
// worker pool, one task per path at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/metrics"
	"github.com/kailas-cloud/pagedex/internal/usecase/indexing"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
)

// Config sizes the worker pool and its queue.
type Config struct {
	Workers   int
	QueueSize int
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

type op int

const (
	opIndex op = iota
	opRemove
)

// task is the pending work for one path. Submissions for a path that is
// already queued attach their job to the existing task.
type task struct {
	path     string
	op       op
	division string
	force    bool
	jobIDs   []string
}

// Service is the ingestion scheduler.
type Service struct {
	mu      sync.Mutex
	pending map[string]*task
	queue   chan string
	closed  bool
	started bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	locks   *pathLocks
	indexer Indexer
	tracker Tracker
	cfg     Config
	logger  *zap.Logger
}

// New creates a scheduler. Call Start to launch the workers.
func New(indexer Indexer, tracker Tracker, cfg Config, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	return &Service{
		pending: make(map[string]*task),
		queue:   make(chan string, cfg.QueueSize),
		locks:   newPathLocks(),
		indexer: indexer,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start launches the worker pool. Work runs under ctx until Shutdown.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			s.worker(workerID)
		}(i)
	}
	s.logger.Info("Ingestion workers started",
		zap.Int("workers", s.cfg.Workers),
		zap.Int("queue_size", s.cfg.QueueSize),
	)
}

// Shutdown stops accepting work and waits for queued tasks to drain. When ctx
// expires first, running tasks are canceled and their jobs fail as interrupted.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("drain ingestion queue: %w", ctx.Err())
	}
}

// QueueDepth returns the number of paths waiting for a worker.
func (s *Service) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SubmitFile creates a file job and queues it.
func (s *Service) SubmitFile(ctx context.Context, spec jobs.Spec) (*job.Job, error) {
	spec.Kind = job.KindFile
	return s.submit(ctx, spec, opIndex)
}

// SubmitRemove creates a job that drops the document indexed for path.
func (s *Service) SubmitRemove(ctx context.Context, path string) (*job.Job, error) {
	return s.submit(ctx, jobs.Spec{Kind: job.KindRemove, Target: path}, opRemove)
}

// Remove synchronously drops the document indexed for path. It waits for
// any queued or running work on the same path.
func (s *Service) Remove(ctx context.Context, path string) (bool, error) {
	path = filepath.Clean(path)
	s.locks.lock(path)
	defer s.locks.unlock(path)
	return s.indexer.RemovePath(ctx, path)
}

// Retry queues a forced re-run of a failed file job.
func (s *Service) Retry(ctx context.Context, id string) (*job.Job, error) {
	spec, err := s.tracker.RetrySpec(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SubmitFile(ctx, spec)
}

// SubmitDirectory queues one file job per supported file under dir and
// returns the running directory job with its fan-out size.
func (s *Service) SubmitDirectory(ctx context.Context, spec jobs.Spec) (*job.Job, error) {
	info, err := os.Stat(spec.Target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("directory %s: %w", spec.Target, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", spec.Target, domain.ErrInvalidRequest)
	}

	files, err := s.Enumerate(spec.Target, spec.Recursive)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", spec.Target, err)
	}

	spec.Kind = job.KindDirectory
	parent, err := s.tracker.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.Start(ctx, parent.ID); err != nil {
		return nil, err
	}
	// Children may finish before the loop below ends; the parent must know
	// its fan-out first.
	if err := s.tracker.SetFilesQueued(ctx, parent.ID, len(files)); err != nil {
		s.abandon(ctx, parent.ID, err.Error())
		return nil, err
	}

	for i, f := range files {
		child := jobs.Spec{
			Kind:     job.KindFile,
			Target:   f,
			Division: spec.Division,
			Force:    spec.Force,
			ParentID: parent.ID,
		}
		if _, err := s.submit(ctx, child, opIndex); err != nil && !errors.Is(err, domain.ErrQueueFull) {
			s.abandon(ctx, parent.ID, fmt.Sprintf("submitted %d of %d files: %v", i, len(files), err))
			return nil, err
		}
	}

	s.logger.Info("Directory queued",
		zap.String("job_id", parent.ID),
		zap.String("path", spec.Target),
		zap.Bool("recursive", spec.Recursive),
		zap.Int("files_queued", len(files)),
	)

	snapshot, err := s.tracker.Get(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// abandon fails a directory job whose fan-out stopped early. Children
// already queued still run; their results no longer roll up.
func (s *Service) abandon(ctx context.Context, parentID, reason string) {
	if err := s.tracker.Fail(context.WithoutCancel(ctx), parentID, job.CodeInterrupted, reason); err != nil {
		s.logger.Warn("Failed to record abandoned directory job", zap.String("job_id", parentID), zap.Error(err))
	}
}

// Enumerate lists the supported, non-ignored files under dir.
func (s *Service) Enumerate(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive || Ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || Ignored(d.Name()) || !s.indexer.Supported(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// Ignored reports whether a file or directory name is never indexed:
// hidden entries, office lock files and temp files.
func Ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasPrefix(name, "~$") ||
		strings.HasSuffix(strings.ToLower(name), ".tmp")
}

func (s *Service) submit(ctx context.Context, spec jobs.Spec, kind op) (*job.Job, error) {
	spec.Target = filepath.Clean(spec.Target)

	j, err := s.tracker.Create(ctx, spec)
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(spec, kind, j.ID); err != nil {
		code := job.CodeInterrupted
		if errors.Is(err, domain.ErrQueueFull) {
			code = job.CodeQueueFull
		}
		if ferr := s.tracker.Fail(ctx, j.ID, code, err.Error()); ferr != nil {
			s.logger.Warn("Failed to record rejected job", zap.String("job_id", j.ID), zap.Error(ferr))
		}
		return nil, err
	}
	return j, nil
}

func (s *Service) enqueue(spec jobs.Spec, kind op, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("scheduler is shutting down: %w", domain.ErrServiceUnavailable)
	}

	if t, ok := s.pending[spec.Target]; ok {
		t.op = kind
		t.force = t.force || spec.Force
		if spec.Division != "" {
			t.division = spec.Division
		}
		t.jobIDs = append(t.jobIDs, jobID)
		return nil
	}

	select {
	case s.queue <- spec.Target:
	default:
		return fmt.Errorf("%w: %d tasks pending", domain.ErrQueueFull, len(s.pending))
	}
	s.pending[spec.Target] = &task{
		path:     spec.Target,
		op:       kind,
		division: spec.Division,
		force:    spec.Force,
		jobIDs:   []string{jobID},
	}
	metrics.QueueDepth.Set(float64(len(s.pending)))
	return nil
}

func (s *Service) dequeue(path string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.pending[path]
	delete(s.pending, path)
	metrics.QueueDepth.Set(float64(len(s.pending)))
	return t
}

func (s *Service) worker(id int) {
	for path := range s.queue {
		t := s.dequeue(path)
		if t == nil {
			continue
		}
		s.locks.lock(path)
		s.process(id, t)
		s.locks.unlock(path)
	}
}

// process runs one task end to end. Errors and panics are recorded on the
// attached jobs and never leave the worker.
func (s *Service) process(workerID int, t *task) {
	ctx := s.runCtx
	// Job bookkeeping must land even when the run context is canceled.
	bg := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Ingestion worker panic",
				zap.Int("worker", workerID),
				zap.String("path", t.path),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			s.failAll(bg, t, job.CodeInternal, fmt.Sprintf("panic: %v", r))
		}
	}()

	for _, id := range t.jobIDs {
		if err := s.tracker.Start(bg, id); err != nil {
			s.logger.Warn("Failed to start job", zap.String("job_id", id), zap.Error(err))
		}
	}

	switch t.op {
	case opRemove:
		removed, err := s.indexer.RemovePath(ctx, t.path)
		if err != nil {
			s.failAll(bg, t, indexing.ErrorCode(err), err.Error())
			return
		}
		s.succeedAll(bg, t, indexing.Result{Skipped: !removed})
	default:
		res, err := s.indexer.IndexFile(ctx, indexing.Request{
			Path:     t.path,
			Division: t.division,
			Force:    t.force,
		})
		if err != nil {
			s.failAll(bg, t, indexing.ErrorCode(err), err.Error())
			return
		}
		s.succeedAll(bg, t, res)
	}
}

func (s *Service) succeedAll(ctx context.Context, t *task, res indexing.Result) {
	for _, id := range t.jobIDs {
		if err := s.tracker.Succeed(ctx, id, res.Pages, res.Warnings, res.Skipped); err != nil {
			s.logger.Warn("Failed to record job success", zap.String("job_id", id), zap.Error(err))
		}
	}
}

func (s *Service) failAll(ctx context.Context, t *task, code, reason string) {
	for _, id := range t.jobIDs {
		if err := s.tracker.Fail(ctx, id, code, reason); err != nil {
			s.logger.Warn("Failed to record job failure", zap.String("job_id", id), zap.Error(err))
		}
	}
}

// pathLocks hands out one mutex per path, dropped when nobody holds it.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{m: make(map[string]*pathLock)}
}

func (p *pathLocks) lock(path string) {
	p.mu.Lock()
	l, ok := p.m[path]
	if !ok {
		l = &pathLock{}
		p.m[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
}

func (p *pathLocks) unlock(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := p.m[path]
	l.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.m, path)
	}
}
