package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/usecase/indexing"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
)

// --- Mocks ---

type memStore struct {
	mu         sync.Mutex
	jobs       map[string]*job.Job
	failTarget string // Save rejects jobs for this path
}

func (m *memStore) Save(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTarget != "" && j.Target == m.failTarget {
		return errors.New("disk full")
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (m *memStore) List(_ context.Context, status job.Status, _ int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Job
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Target < out[b].Target })
	return out, nil
}

func (m *memStore) PruneFinishedBefore(context.Context, time.Time) (int, error) { return 0, nil }

type fakeIndexer struct {
	mu      sync.Mutex
	calls   []indexing.Request
	removed []string
	errs    map[string]error
	panics  map[string]bool
	known   map[string]bool
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{errs: map[string]error{}, panics: map[string]bool{}, known: map[string]bool{}}
}

func (f *fakeIndexer) Supported(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".pdf" || ext == ".txt"
}

func (f *fakeIndexer) IndexFile(_ context.Context, req indexing.Request) (indexing.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.panics[req.Path] {
		panic("corrupt xref table")
	}
	if err := f.errs[req.Path]; err != nil {
		return indexing.Result{}, err
	}
	return indexing.Result{DocumentID: "doc", Pages: 3}, nil
}

func (f *fakeIndexer) RemovePath(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return f.known[path], nil
}

func (f *fakeIndexer) requests() []indexing.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]indexing.Request(nil), f.calls...)
}

type fixture struct {
	svc     *Service
	tracker *jobs.Service
	store   *memStore
	indexer *fakeIndexer
}

func newFixture(cfg Config) *fixture {
	store := &memStore{jobs: map[string]*job.Job{}}
	tracker := jobs.New(store, jobs.Config{}, zap.NewNop())
	idx := newFakeIndexer()
	return &fixture{
		svc:     New(idx, tracker, cfg, zap.NewNop()),
		tracker: tracker,
		store:   store,
		indexer: idx,
	}
}

// drain starts the workers and waits for every queued task.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	f.svc.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func (f *fixture) job(t *testing.T, id string) *job.Job {
	t.Helper()
	j, err := f.tracker.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return j
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// --- Tests ---

func TestSubmitFile_Succeeds(t *testing.T) {
	f := newFixture(Config{})
	j, err := f.svc.SubmitFile(context.Background(), jobs.Spec{Target: "/docs/DSI/a.pdf", Division: "DSI"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != job.StatusQueued || j.Kind != job.KindFile {
		t.Errorf("expected queued file job, got %s %s", j.Kind, j.Status)
	}

	f.drain(t)

	got := f.job(t, j.ID)
	if got.Status != job.StatusSucceeded || got.Pages != 3 {
		t.Errorf("expected succeeded with 3 pages, got %s / %d", got.Status, got.Pages)
	}
	reqs := f.indexer.requests()
	if len(reqs) != 1 || reqs[0].Division != "DSI" {
		t.Errorf("expected one request with division DSI, got %+v", reqs)
	}
}

func TestSubmitFile_CoalescesSamePath(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	var ids []string
	for _, force := range []bool{false, true, false} {
		j, err := f.svc.SubmitFile(ctx, jobs.Spec{Target: "/docs/a.pdf", Force: force})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, j.ID)
	}
	if d := f.svc.QueueDepth(); d != 1 {
		t.Fatalf("expected one pending task, got %d", d)
	}

	f.drain(t)

	reqs := f.indexer.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected a single indexing run, got %d", len(reqs))
	}
	if !reqs[0].Force {
		t.Error("force must survive coalescing")
	}
	for _, id := range ids {
		if st := f.job(t, id).Status; st != job.StatusSucceeded {
			t.Errorf("job %s: expected succeeded, got %s", id, st)
		}
	}
	if d := f.svc.QueueDepth(); d != 0 {
		t.Errorf("expected empty queue, got %d", d)
	}
}

func TestSubmitFile_QueueFull(t *testing.T) {
	f := newFixture(Config{QueueSize: 1})
	ctx := context.Background()

	if _, err := f.svc.SubmitFile(ctx, jobs.Spec{Target: "/docs/a.pdf"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.svc.SubmitFile(ctx, jobs.Spec{Target: "/docs/b.pdf"})
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	failed, _ := f.tracker.List(ctx, job.StatusFailed, 0)
	if len(failed) != 1 || failed[0].Target != "/docs/b.pdf" || failed[0].ErrorCode != job.CodeQueueFull {
		t.Errorf("expected rejected job recorded as queue_full, got %+v", failed)
	}
}

func TestSubmitFile_FailureCode(t *testing.T) {
	f := newFixture(Config{})
	f.indexer.errs["/docs/bad.pdf"] = domain.ErrExtractionFailure

	j, err := f.svc.SubmitFile(context.Background(), jobs.Spec{Target: "/docs/bad.pdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.drain(t)

	got := f.job(t, j.ID)
	if got.Status != job.StatusFailed || got.ErrorCode != job.CodeExtraction {
		t.Errorf("expected extraction failure, got %s / %q", got.Status, got.ErrorCode)
	}
}

func TestSubmitFile_PanicIsRecorded(t *testing.T) {
	f := newFixture(Config{Workers: 1})
	f.indexer.panics["/docs/boom.pdf"] = true

	bad, _ := f.svc.SubmitFile(context.Background(), jobs.Spec{Target: "/docs/boom.pdf"})
	good, _ := f.svc.SubmitFile(context.Background(), jobs.Spec{Target: "/docs/ok.pdf"})
	f.drain(t)

	if got := f.job(t, bad.ID); got.Status != job.StatusFailed || got.ErrorCode != job.CodeInternal {
		t.Errorf("expected internal failure, got %s / %q", got.Status, got.ErrorCode)
	}
	if got := f.job(t, good.ID); got.Status != job.StatusSucceeded {
		t.Errorf("worker must survive a panic, got %s", got.Status)
	}
}

func TestSubmitRemove(t *testing.T) {
	f := newFixture(Config{})
	f.indexer.known["/docs/a.pdf"] = true

	a, _ := f.svc.SubmitRemove(context.Background(), "/docs/a.pdf")
	b, _ := f.svc.SubmitRemove(context.Background(), "/docs/never-indexed.pdf")
	f.drain(t)

	if got := f.job(t, a.ID); got.Status != job.StatusSucceeded || got.Skipped || got.Kind != job.KindRemove {
		t.Errorf("unexpected remove job: %+v", got)
	}
	if got := f.job(t, b.ID); got.Status != job.StatusSucceeded || !got.Skipped {
		t.Errorf("removing an unknown path should be a skipped success: %+v", got)
	}
}

func TestRemove_Synchronous(t *testing.T) {
	f := newFixture(Config{})
	f.indexer.known["/docs/a.pdf"] = true

	ok, err := f.svc.Remove(context.Background(), "/docs/sub/../a.pdf")
	if err != nil || !ok {
		t.Fatalf("expected removal, got %v %v", ok, err)
	}
	if len(f.indexer.removed) != 1 || f.indexer.removed[0] != "/docs/a.pdf" {
		t.Errorf("expected cleaned path, got %v", f.indexer.removed)
	}
}

func TestSubmitDirectory_AggregatesChildren(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.pdf", "b.pdf", "c.txt", "d.pdf", "corrupt.pdf",
		".hidden.pdf", "~$lock.pdf", "draft.tmp", "tool.exe", "sub/nested.pdf"} {
		touch(t, filepath.Join(root, name))
	}

	f := newFixture(Config{})
	f.indexer.errs[filepath.Join(root, "corrupt.pdf")] = domain.ErrExtractionFailure

	dir, err := f.svc.SubmitDirectory(context.Background(), jobs.Spec{Target: root})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.FilesQueued != 5 || dir.Kind != job.KindDirectory {
		t.Fatalf("expected 5 files queued, got %d (%s)", dir.FilesQueued, dir.Kind)
	}

	f.drain(t)

	got := f.job(t, dir.ID)
	if got.Status != job.StatusSucceeded {
		t.Errorf("expected directory job succeeded, got %s", got.Status)
	}
	if got.FilesSucceeded != 4 || got.FilesFailed != 1 {
		t.Errorf("expected 4 succeeded / 1 failed, got %d / %d", got.FilesSucceeded, got.FilesFailed)
	}

	failed, _ := f.tracker.List(context.Background(), job.StatusFailed, 0)
	if len(failed) != 1 || failed[0].ErrorCode != job.CodeExtraction || failed[0].ParentID != dir.ID {
		t.Errorf("expected one extraction failure under the directory job, got %+v", failed)
	}
}

func TestSubmitDirectory_SubmitErrorFailsParent(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		touch(t, filepath.Join(root, name))
	}

	f := newFixture(Config{})
	f.store.failTarget = filepath.Join(root, "b.pdf")

	_, err := f.svc.SubmitDirectory(context.Background(), jobs.Spec{Target: root})
	if err == nil {
		t.Fatal("expected submit error")
	}
	f.drain(t)

	var dir *job.Job
	all, _ := f.store.List(context.Background(), "", 0)
	for _, j := range all {
		if j.Kind == job.KindDirectory {
			dir = j
		}
	}
	if dir == nil {
		t.Fatal("directory job not recorded")
	}
	if dir.Status != job.StatusFailed || dir.ErrorCode != job.CodeInterrupted {
		t.Errorf("expected failed directory job, got %s (%s)", dir.Status, dir.ErrorCode)
	}
	if !strings.Contains(dir.Error, "submitted 1 of 3 files") {
		t.Errorf("unexpected reason %q", dir.Error)
	}
	if reqs := f.indexer.requests(); len(reqs) != 1 || reqs[0].Path != filepath.Join(root, "a.pdf") {
		t.Errorf("expected only a.pdf indexed, got %+v", reqs)
	}
}

func TestSubmitDirectory_Recursive(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.pdf"))
	touch(t, filepath.Join(root, "sub", "b.pdf"))
	touch(t, filepath.Join(root, ".git", "c.txt"))

	f := newFixture(Config{})
	dir, err := f.svc.SubmitDirectory(context.Background(), jobs.Spec{Target: root, Recursive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.FilesQueued != 2 {
		t.Errorf("expected 2 files (hidden directory skipped), got %d", dir.FilesQueued)
	}
	f.drain(t)
}

func TestSubmitDirectory_Empty(t *testing.T) {
	f := newFixture(Config{})
	dir, err := f.svc.SubmitDirectory(context.Background(), jobs.Spec{Target: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.Status != job.StatusSucceeded || dir.FilesQueued != 0 {
		t.Errorf("expected immediate success, got %s / %d", dir.Status, dir.FilesQueued)
	}
}

func TestSubmitDirectory_Invalid(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	_, err := f.svc.SubmitDirectory(ctx, jobs.Spec{Target: filepath.Join(t.TempDir(), "missing")})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	file := filepath.Join(t.TempDir(), "a.pdf")
	touch(t, file)
	_, err = f.svc.SubmitDirectory(ctx, jobs.Spec{Target: file})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRetry(t *testing.T) {
	f := newFixture(Config{})
	f.indexer.errs["/docs/a.pdf"] = domain.ErrEmbeddingUnavailable
	ctx := context.Background()

	first, _ := f.svc.SubmitFile(ctx, jobs.Spec{Target: "/docs/a.pdf", Division: "DRH"})
	f.svc.Start(ctx)
	waitFor(t, func() bool { return f.job(t, first.ID).Status == job.StatusFailed })

	delete(f.indexer.errs, "/docs/a.pdf")
	retry, err := f.svc.Retry(ctx, first.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.ID == first.ID || !retry.Force || retry.Division != "DRH" {
		t.Errorf("expected a new forced job, got %+v", retry)
	}
	waitFor(t, func() bool { return f.job(t, retry.ID).Status == job.StatusSucceeded })

	if _, err := f.svc.Retry(ctx, retry.ID); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("retrying a succeeded job: expected ErrInvalidRequest, got %v", err)
	}
	_ = f.svc.Shutdown(ctx)
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	f := newFixture(Config{})
	f.drain(t)

	_, err := f.svc.SubmitFile(context.Background(), jobs.Spec{Target: "/docs/a.pdf"})
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestPathLocks_Exclusive(t *testing.T) {
	p := newPathLocks()
	p.lock("/a")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		p.lock("/a")
		close(acquired)
		p.unlock("/a")
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock must wait")
	case <-time.After(50 * time.Millisecond):
	}

	p.unlock("/a")
	<-acquired
	<-released

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.m) != 0 {
		t.Errorf("expected lock table cleaned up, got %d entries", len(p.m))
	}
}

func TestIgnored(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"report.pdf", false},
		{".DS_Store", true},
		{"~$budget.xlsx", true},
		{"upload.TMP", true},
		{"notes.tmp.txt", false},
	}
	for _, tt := range tests {
		if got := Ignored(tt.name); got != tt.want {
			t.Errorf("Ignored(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
