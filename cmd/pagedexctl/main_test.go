package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	pagedex "github.com/kailas-cloud/pagedex/pkg/sdk"
)

type fakeEngine struct {
	reindexOpts pagedex.ReindexOptions
	report      pagedex.ReindexReport
	failures    []pagedex.FileResult
	searchReq   pagedex.SearchRequest
	search      pagedex.SearchResponse
	stamp       pagedex.IndexStamp
	initErr     error
	resets      int
	closed      bool
}

func (f *fakeEngine) Reindex(_ context.Context, opts pagedex.ReindexOptions) (pagedex.ReindexReport, error) {
	f.reindexOpts = opts
	if opts.OnFile != nil && !opts.DryRun {
		for _, p := range f.report.Files {
			opts.OnFile(pagedex.FileResult{Path: p, Result: pagedex.IndexResult{Pages: 2, Division: "DSI"}})
		}
		for _, fr := range f.failures {
			opts.OnFile(fr)
		}
	}
	r := f.report
	r.Failed = f.failures
	return r, nil
}

func (f *fakeEngine) InitIndex(context.Context) (pagedex.IndexStamp, error) {
	return f.stamp, f.initErr
}

func (f *fakeEngine) ResetIndex(context.Context) (pagedex.IndexStamp, error) {
	f.resets++
	return f.stamp, nil
}

func (f *fakeEngine) Search(_ context.Context, req pagedex.SearchRequest) (pagedex.SearchResponse, error) {
	f.searchReq = req
	return f.search, nil
}

func (f *fakeEngine) Status(context.Context) pagedex.Status {
	return pagedex.Status{Status: "ok", VectorBackend: "chromem", KeywordBackend: "sqlite", VectorConnected: true}
}

func (f *fakeEngine) Stats(context.Context) (pagedex.Stats, error) {
	return pagedex.Stats{TotalPages: 9, TotalDocuments: 3, DocumentsByDivision: map[string]int{"DSI": 2, "DRH": 1}}, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

// run executes the root command against fake with default flag values.
func run(t *testing.T, fake *fakeEngine, args ...string) (string, error) {
	t.Helper()
	configFile, envName, documentsRoot, logLevel = "", "test", "", "error"
	reindexWorkers, reindexDryRun, reindexForce, reindexRecursive = 0, false, false, true
	searchLimit, searchMode, searchDivision, searchFileType, searchJSON = 10, "hybrid", pagedex.AllDivisions, "", false
	statusJSON, resetYes = false, false

	orig := openEngine
	openEngine = func(context.Context, ...pagedex.Option) (engine, error) { return fake, nil }
	t.Cleanup(func() { openEngine = orig })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestReindex_Summary(t *testing.T) {
	fake := &fakeEngine{report: pagedex.ReindexReport{Files: []string{"/docs/DSI/a.pdf", "/docs/DSI/b.pdf"}, Indexed: 2}}

	out, err := run(t, fake, "reindex", "DSI", "--workers", "4", "--force")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.reindexOpts.Dir != "DSI" || fake.reindexOpts.Workers != 4 || !fake.reindexOpts.Force || !fake.reindexOpts.Recursive {
		t.Errorf("options = %+v", fake.reindexOpts)
	}
	if !strings.Contains(out, "indexed  /docs/DSI/a.pdf (2 pages, DSI)") {
		t.Errorf("missing progress line:\n%s", out)
	}
	if !strings.Contains(out, "2 files: 2 indexed, 0 skipped, 0 failed") {
		t.Errorf("missing summary:\n%s", out)
	}
	if !fake.closed {
		t.Error("engine not closed")
	}
}

func TestReindex_FailuresExitNonZero(t *testing.T) {
	fake := &fakeEngine{
		report:   pagedex.ReindexReport{Files: []string{"/docs/a.pdf"}, Indexed: 1},
		failures: []pagedex.FileResult{{Path: "/docs/corrupt.pdf", Err: errors.New("extraction failure")}},
	}

	out, err := run(t, fake, "reindex")
	if err == nil || !strings.Contains(err.Error(), "1 files failed") {
		t.Fatalf("expected failure error, got %v", err)
	}
	if !strings.Contains(out, "FAILED   /docs/corrupt.pdf: extraction failure") {
		t.Errorf("missing failure line:\n%s", out)
	}
}

func TestReindex_DryRun(t *testing.T) {
	fake := &fakeEngine{report: pagedex.ReindexReport{Files: []string{"/docs/a.pdf", "/docs/b.pdf", "/docs/c.pdf"}}}

	out, err := run(t, fake, "reindex", "--dry-run")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fake.reindexOpts.DryRun {
		t.Error("dry run not propagated")
	}
	if !strings.Contains(out, "/docs/b.pdf\n") || !strings.Contains(out, "3 files would be indexed") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestInitIndex(t *testing.T) {
	fake := &fakeEngine{stamp: pagedex.IndexStamp{Model: "minilm", Dimensions: 384, Version: 1}}

	out, err := run(t, fake, "init-index")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "model:      minilm") || !strings.Contains(out, "dimensions: 384") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestInitIndex_Mismatch(t *testing.T) {
	fake := &fakeEngine{
		stamp:   pagedex.IndexStamp{Model: "old", Dimensions: 768},
		initErr: fmt.Errorf("init index: %w", pagedex.ErrConfigurationMismatch),
	}

	_, err := run(t, fake, "init-index")
	if !errors.Is(err, pagedex.ErrConfigurationMismatch) {
		t.Fatalf("expected ErrConfigurationMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "reset-index") {
		t.Errorf("error should point at reset-index: %v", err)
	}
}

func TestResetIndex_RequiresConfirmation(t *testing.T) {
	fake := &fakeEngine{stamp: pagedex.IndexStamp{Model: "minilm", Dimensions: 384}}

	if _, err := run(t, fake, "reset-index"); err == nil {
		t.Fatal("expected error without --yes")
	}
	if fake.resets != 0 {
		t.Fatal("index reset without confirmation")
	}

	out, err := run(t, fake, "reset-index", "--yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.resets != 1 || !strings.Contains(out, "Index reset.") {
		t.Errorf("resets = %d output:\n%s", fake.resets, out)
	}
}

func TestSearch(t *testing.T) {
	fake := &fakeEngine{search: pagedex.SearchResponse{
		Results: []pagedex.Page{{
			FileName: "plan.pdf", FilePath: "/docs/DSI/plan.pdf", Division: "DSI",
			PageNumber: 2, TotalPages: 3, Score: 0.81, Snippet: "Plan de continuité",
		}},
		Degraded:       true,
		DegradedReason: "vector_backend_unavailable",
	}}

	out, err := run(t, fake, "search", "plan", "de", "continuité", "-m", "keyword", "-d", "DSI", "-n", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := pagedex.SearchRequest{Query: "plan de continuité", Mode: "keyword", Division: "DSI", Limit: 5}
	if fake.searchReq != want {
		t.Errorf("request = %+v, want %+v", fake.searchReq, want)
	}
	for _, s := range []string{"[1] plan.pdf p.2/3  DSI  (0.810)", "degraded results (vector_backend_unavailable)"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
}

func TestSearch_NoResults(t *testing.T) {
	out, err := run(t, &fakeEngine{}, "search", "rien")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No results found.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestStatus(t *testing.T) {
	out, err := run(t, &fakeEngine{}, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range []string{"status:     ok", "vector:     chromem (connected)", "keyword:    sqlite (unreachable)", "by division:"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
}
