package pagedex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reindex indexes every supported file under opts.Dir with bounded
// parallelism. A failing file is recorded in the report and does not stop
// the run; only a canceled context or an unreadable directory returns an
// error.
func (e *Engine) Reindex(ctx context.Context, opts ReindexOptions) (report ReindexReport, err error) {
	start := time.Now()
	defer func() { e.obs.observe("reindex", start, err) }()

	dir := e.resolve(opts.Dir)
	info, err := os.Stat(dir)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("reindex %s: %w", dir, ErrNotFound)
	}
	if !info.IsDir() {
		return ReindexReport{}, fmt.Errorf("reindex %s: not a directory: %w", dir, ErrInvalidRequest)
	}

	files, err := e.enumerate(dir, opts.Recursive)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("list %s: %w", dir, err)
	}
	report.Files = files
	if opts.DryRun || len(files) == 0 {
		return report, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = e.workers
	}
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, ierr := e.IndexFile(gctx, path, opts.Force)
			fr := FileResult{Path: path, Result: res, Err: ierr}

			mu.Lock()
			switch {
			case ierr != nil:
				report.Failed = append(report.Failed, fr)
			case res.Skipped:
				report.Skipped++
			default:
				report.Indexed++
			}
			mu.Unlock()

			if opts.OnFile != nil {
				opts.OnFile(fr)
			}
			// Only cancellation aborts the run.
			if ierr != nil && errors.Is(ierr, context.Canceled) {
				return ierr
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("reindex: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("reindex: %w", err)
	}
	return report, nil
}
