package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
)

type recorder struct {
	mu      sync.Mutex
	files   []string
	removes []string
}

func (r *recorder) SubmitFile(_ context.Context, spec jobs.Spec) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, spec.Target)
	return job.New("j", job.KindFile, spec.Target), nil
}

func (r *recorder) SubmitRemove(_ context.Context, path string) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, path)
	return job.New("j", job.KindRemove, path), nil
}

func (r *recorder) submitted() (files, removes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	files = append([]string(nil), r.files...)
	removes = append([]string(nil), r.removes...)
	sort.Strings(files)
	sort.Strings(removes)
	return files, removes
}

type staticCatalog struct{ docs []document.Document }

func (c *staticCatalog) List(context.Context) ([]document.Document, error) { return c.docs, nil }

func supportedPDF(path string) bool { return filepath.Ext(path) == ".pdf" }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func indexedDoc(t *testing.T, path string) document.Document {
	t.Helper()
	fp := document.Fingerprint{}
	if info, err := os.Stat(path); err == nil {
		fp = document.Fingerprint{Size: info.Size(), ModTime: info.ModTime().UTC()}
	}
	return document.Reconstruct(page.DocumentID(path), path, "DSI", "application/pdf",
		fp, 1, document.StatusIndexed, nil, "", time.Now(), time.Now())
}

func TestReconcile(t *testing.T) {
	root := t.TempDir()
	newFile := filepath.Join(root, "DSI", "new.pdf")
	same := filepath.Join(root, "DSI", "same.pdf")
	edited := filepath.Join(root, "DRH", "edited.pdf")
	gone := filepath.Join(root, "DRH", "gone.pdf")

	writeFile(t, same, "same")
	writeFile(t, edited, "v1")
	sameDoc := indexedDoc(t, same)
	editedDoc := indexedDoc(t, edited)
	goneDoc := indexedDoc(t, gone)

	writeFile(t, newFile, "new")
	writeFile(t, edited, "version two")
	writeFile(t, filepath.Join(root, ".trash", "old.pdf"), "x")
	writeFile(t, filepath.Join(root, "DSI", "~$lock.pdf"), "x")
	writeFile(t, filepath.Join(root, "DSI", "tool.exe"), "x")

	rec := &recorder{}
	cat := &staticCatalog{docs: []document.Document{sameDoc, editedDoc, goneDoc}}
	w := New(Config{Root: root}, rec, cat, supportedPDF, zap.NewNop())

	queued, removed, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, 1, removed)

	files, removes := rec.submitted()
	assert.Equal(t, []string{edited, newFile}, files)
	assert.Equal(t, []string{gone}, removes)
}

func TestReconcile_RetriesUnfinishedDocuments(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.pdf")
	writeFile(t, path, "x")

	info, err := os.Stat(path)
	require.NoError(t, err)
	doc := document.Reconstruct(page.DocumentID(path), path, "GENERAL", "",
		document.Fingerprint{Size: info.Size(), ModTime: info.ModTime().UTC()},
		0, document.StatusIndexing, nil, "", time.Time{}, time.Now())

	rec := &recorder{}
	w := New(Config{Root: root}, rec, &staticCatalog{docs: []document.Document{doc}}, supportedPDF, zap.NewNop())

	queued, _, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
}

func TestSettle_WaitsForStableFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "scan.pdf")
	writeFile(t, path, "part")

	rec := &recorder{}
	w := New(Config{Root: root, Settle: 2 * time.Second}, rec, &staticCatalog{}, supportedPDF, zap.NewNop())
	t0 := time.Now()
	w.now = func() time.Time { return t0 }
	ctx := context.Background()

	w.observe(path)
	w.settle(ctx, t0.Add(time.Second))
	files, _ := rec.submitted()
	assert.Empty(t, files, "settle window not elapsed")

	// still being written: the window restarts
	writeFile(t, path, "part, and more")
	w.settle(ctx, t0.Add(1500*time.Millisecond))
	w.settle(ctx, t0.Add(3*time.Second))
	files, _ = rec.submitted()
	assert.Empty(t, files, "window must restart after a size change")

	w.settle(ctx, t0.Add(3600*time.Millisecond))
	files, _ = rec.submitted()
	assert.Equal(t, []string{path}, files)

	w.settle(ctx, t0.Add(10*time.Second))
	files, _ = rec.submitted()
	assert.Len(t, files, 1, "a settled file is queued once")
}

func TestSettle_DropsVanishedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.pdf")
	writeFile(t, path, "x")

	rec := &recorder{}
	w := New(Config{Root: root}, rec, &staticCatalog{}, supportedPDF, zap.NewNop())
	w.observe(path)
	require.NoError(t, os.Remove(path))

	w.settle(context.Background(), time.Now().Add(time.Hour))
	files, _ := rec.submitted()
	assert.Empty(t, files)
	assert.Empty(t, w.pending)
}

func TestObserve_IgnoresUnsupported(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.exe")
	writeFile(t, path, "x")

	w := New(Config{Root: root}, &recorder{}, &staticCatalog{}, supportedPDF, zap.NewNop())
	w.observe(path)
	assert.Empty(t, w.pending)
}

func TestRemoved_Directory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "DRH")
	inside := filepath.Join(dir, "a.pdf")
	outside := filepath.Join(root, "DRH-archive", "b.pdf")

	rec := &recorder{}
	cat := &staticCatalog{docs: []document.Document{indexedDoc(t, inside), indexedDoc(t, outside)}}
	w := New(Config{Root: root}, rec, cat, supportedPDF, zap.NewNop())
	w.dirs[dir] = struct{}{}

	w.removed(context.Background(), dir)

	_, removes := rec.submitted()
	assert.Equal(t, []string{inside}, removes)
	assert.NotContains(t, w.dirs, dir)
}

func TestIgnoredPath(t *testing.T) {
	w := New(Config{Root: "/docs"}, &recorder{}, &staticCatalog{}, supportedPDF, zap.NewNop())

	assert.False(t, w.ignoredPath("/docs/DSI/report.pdf"))
	assert.True(t, w.ignoredPath("/docs/.git/config"))
	assert.True(t, w.ignoredPath("/docs/DSI/~$report.docx"))
	assert.False(t, w.ignoredPath("/docs"))
}

func TestWatcher_EndToEnd(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w := New(Config{Root: root, Settle: 50 * time.Millisecond}, rec, &staticCatalog{}, supportedPDF, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.True(t, w.Active())

	sub := filepath.Join(root, "DSI", "2024")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	path := filepath.Join(sub, "late.pdf")

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, ok := w.dirs[sub]
		return ok
	}, 5*time.Second, 10*time.Millisecond, "new directory must be watched")

	writeFile(t, path, "hello")

	require.Eventually(t, func() bool {
		files, _ := rec.submitted()
		return len(files) == 1 && files[0] == path
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, removes := rec.submitted()
		return len(removes) == 1 && removes[0] == path
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	assert.False(t, w.Active())
}
