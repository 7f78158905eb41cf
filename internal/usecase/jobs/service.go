// Package jobs tracks indexing jobs from submission to completion.
//
// Live jobs are held in memory and written through to the store on every
// transition, so a restart only loses jobs that were queued or running;
// those are failed as interrupted on the next start.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// Config tunes retention and stale detection.
type Config struct {
	Retention     time.Duration
	PruneInterval time.Duration
	MaxDuration   time.Duration
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 5 * time.Minute
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * time.Minute
	}
}

// Spec describes a job to create.
type Spec struct {
	Kind      job.Kind
	Target    string
	Division  string
	Force     bool
	Recursive bool
	ParentID  string
}

// Service records job lifecycles.
type Service struct {
	mu     sync.Mutex
	active map[string]*job.Job

	store  Store
	cfg    Config
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// New creates a job tracker.
func New(store Store, cfg Config, logger *zap.Logger) *Service {
	cfg.ApplyDefaults()
	return &Service{
		active: make(map[string]*job.Job),
		store:  store,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: logger,
	}
}

// Create registers a queued job.
func (s *Service) Create(ctx context.Context, spec Spec) (*job.Job, error) {
	j := job.New(s.newID(), spec.Kind, spec.Target)
	j.QueuedAt = s.now()
	j.Division = spec.Division
	j.Force = spec.Force
	j.Recursive = spec.Recursive
	j.ParentID = spec.ParentID

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	s.active[j.ID] = j
	return j.Clone(), nil
}

// Start moves a queued job to running.
func (s *Service) Start(ctx context.Context, id string) error {
	return s.update(ctx, id, func(j *job.Job) error {
		return j.Start(s.now())
	})
}

// SetFilesQueued records the fan-out size of a directory job. A directory
// with nothing to do succeeds immediately.
func (s *Service) SetFilesQueued(ctx context.Context, id string, n int) error {
	return s.update(ctx, id, func(j *job.Job) error {
		j.FilesQueued = n
		if n == 0 && j.Status == job.StatusRunning {
			return j.Succeed(s.now(), 0, nil, false)
		}
		return nil
	})
}

// Succeed finishes a running job.
func (s *Service) Succeed(ctx context.Context, id string, pages int, warnings []string, skipped bool) error {
	return s.update(ctx, id, func(j *job.Job) error {
		return j.Succeed(s.now(), pages, warnings, skipped)
	})
}

// Fail finishes a queued or running job with an error code and reason.
func (s *Service) Fail(ctx context.Context, id, code, reason string) error {
	return s.update(ctx, id, func(j *job.Job) error {
		return j.Fail(s.now(), code, reason)
	})
}

// update applies fn to a live job, persists it and, once it is terminal,
// rolls it up into its parent.
func (s *Service) update(ctx context.Context, id string, fn func(*job.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.active[id]
	if !ok {
		return fmt.Errorf("job %s is not active: %w", id, domain.ErrJobNotFound)
	}
	if err := fn(j); err != nil {
		return err
	}
	if err := s.store.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	if !j.Status.IsTerminal() {
		return nil
	}

	s.finish(j)

	if parent, ok := s.active[j.ParentID]; ok && j.ParentID != "" {
		parent.Child(s.now(), j)
		if err := s.store.Save(ctx, parent); err != nil {
			return fmt.Errorf("save parent job: %w", err)
		}
		if parent.Status.IsTerminal() {
			s.finish(parent)
		}
	}
	return nil
}

// finish drops a terminal job from memory and records metrics. Caller holds mu.
func (s *Service) finish(j *job.Job) {
	delete(s.active, j.ID)

	metrics.JobsTotal.WithLabelValues(string(j.Kind), string(j.Status)).Inc()
	if j.Kind == job.KindFile {
		metrics.JobDuration.WithLabelValues(string(j.Status)).Observe(j.Duration(s.now()).Seconds())
	}

	fields := []zap.Field{
		zap.String("job_id", j.ID),
		zap.String("kind", string(j.Kind)),
		zap.String("path", j.Target),
		zap.String("status", string(j.Status)),
		zap.Int("pages", j.Pages),
		zap.Duration("duration", j.Duration(s.now())),
	}
	if j.Status == job.StatusFailed {
		s.logger.Warn("Job failed", append(fields, zap.String("error_code", j.ErrorCode), zap.String("error", j.Error))...)
		return
	}
	s.logger.Info("Job finished", fields...)
}

// Get returns a snapshot of a job.
func (s *Service) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	if j, ok := s.active[id]; ok {
		c := j.Clone()
		s.mu.Unlock()
		s.flagStale(c)
		return c, nil
	}
	s.mu.Unlock()

	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("invalid job status %q: %w", status, domain.ErrInvalidRequest)
	}
	list, err := s.store.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	s.mu.Lock()
	for i, j := range list {
		if live, ok := s.active[j.ID]; ok {
			list[i] = live.Clone()
		}
	}
	s.mu.Unlock()

	for _, j := range list {
		s.flagStale(j)
	}
	return list, nil
}

// RetrySpec returns the spec of a forced re-run of a failed file job.
func (s *Service) RetrySpec(ctx context.Context, id string) (Spec, error) {
	j, err := s.Get(ctx, id)
	if err != nil {
		return Spec{}, err
	}
	if j.Kind != job.KindFile {
		return Spec{}, fmt.Errorf("only file jobs can be retried: %w", domain.ErrInvalidRequest)
	}
	if j.Status != job.StatusFailed {
		return Spec{}, fmt.Errorf("job %s is %s, only failed jobs can be retried: %w",
			id, j.Status, domain.ErrInvalidRequest)
	}
	return Spec{Kind: job.KindFile, Target: j.Target, Division: j.Division, Force: true}, nil
}

// RecoverInterrupted fails every job the store still holds as queued or
// running. Call once at startup, before any job is created.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	var n int
	for _, st := range []job.Status{job.StatusQueued, job.StatusRunning} {
		list, err := s.store.List(ctx, st, 0)
		if err != nil {
			return n, fmt.Errorf("list %s jobs: %w", st, err)
		}
		for _, j := range list {
			if err := j.Fail(s.now(), job.CodeInterrupted, "interrupted by restart"); err != nil {
				continue
			}
			if err := s.store.Save(ctx, j); err != nil {
				return n, fmt.Errorf("save job: %w", err)
			}
			n++
		}
	}
	if n > 0 {
		s.logger.Warn("Marked interrupted jobs as failed", zap.Int("count", n))
	}
	return n, nil
}

// Prune deletes terminal jobs older than the retention window.
func (s *Service) Prune(ctx context.Context) (int, error) {
	n, err := s.store.PruneFinishedBefore(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	if n > 0 {
		s.logger.Debug("Pruned finished jobs", zap.Int("count", n))
	}
	return n, nil
}

// CheckStale flags running jobs older than the maximum duration. Stale jobs
// are reported, never killed. Returns the number of stale jobs.
func (s *Service) CheckStale(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, j := range s.active {
		if j.Status != job.StatusRunning || j.Kind != job.KindFile {
			continue
		}
		if j.Duration(s.now()) <= s.cfg.MaxDuration {
			continue
		}
		n++
		if j.Stale {
			continue
		}
		j.Stale = true
		s.logger.Warn("Job exceeded maximum duration",
			zap.String("job_id", j.ID),
			zap.String("path", j.Target),
			zap.Duration("running_for", j.Duration(s.now())),
			zap.Error(domain.ErrStaleJob),
		)
		if err := s.store.Save(ctx, j); err != nil {
			s.logger.Warn("Failed to persist stale flag", zap.String("job_id", j.ID), zap.Error(err))
		}
	}
	metrics.StaleJobs.Set(float64(n))
	return n
}

func (s *Service) flagStale(j *job.Job) {
	if j.Status == job.StatusRunning && j.Kind == job.KindFile && j.Duration(s.now()) > s.cfg.MaxDuration {
		j.Stale = true
	}
}

// Run prunes and checks for stale jobs until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Job pruning failed", zap.Error(err))
			}
			s.CheckStale(ctx)
		}
	}
}
