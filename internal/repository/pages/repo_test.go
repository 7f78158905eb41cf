package pages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
)

func testRecord(path string, n int) page.Record {
	rec := page.New(path, n, 2)
	rec.Division = "DSI"
	rec.Text = "budget annuel"
	rec.Language = "fr"
	rec.Method = page.MethodText
	rec.IndexedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec.Vector = []float32{0.6, 0.8}
	return rec
}

func TestEnsure_CreatesIndexWithText(t *testing.T) {
	repo, ms := newTestRepo(t)
	var got *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		got = def
		return nil
	}

	if err := repo.Ensure(context.Background(), 768); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got == nil {
		t.Fatal("expected CreateIndex call")
	}
	if got.Name != indexName || got.Prefix != keyPrefix {
		t.Errorf("index = %s %s", got.Name, got.Prefix)
	}

	var hasText bool
	var vec db.IndexField
	for _, f := range got.Fields {
		if f.Type == db.FieldText && f.Name == page.FieldText {
			hasText = true
		}
		if f.Type == db.FieldVector {
			vec = f
		}
	}
	if !hasText {
		t.Error("expected TEXT field on text")
	}
	if vec.Vector == nil {
		t.Fatal("expected a vector field")
	}
	if p := vec.Vector; p.Dim != 768 || p.Distance != db.DistanceCosine || p.M != 16 || p.EFConstruct != 200 {
		t.Errorf("vector params = %+v", p)
	}
}

func TestEnsure_NoTextOnValkey(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.textSearch = false
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		for _, f := range def.Fields {
			if f.Type == db.FieldText {
				t.Errorf("unexpected TEXT field %s", f.Name)
			}
		}
		return nil
	}
	if err := repo.Ensure(context.Background(), 4); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}

func TestEnsure_ExistingIndexSkipsCreate(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(context.Context, string) (bool, error) { return true, nil }
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Fatal("CreateIndex should not be called")
		return nil
	}
	if err := repo.Ensure(context.Background(), 4); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}

func TestEnsure_RaceOnCreateIsIgnored(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }
	if err := repo.Ensure(context.Background(), 4); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}

func TestDrop_DeletesIndexAndKeys(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.dropIndexFn = func(context.Context, string) error { return db.ErrIndexNotFound }
	keys := make([]string, deleteChunk+3)
	for i := range keys {
		keys[i] = pageKey(page.ID("/a.pdf", i+1))
	}
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != keyPrefix+"*" {
			t.Errorf("pattern = %q", pattern)
		}
		return keys, nil
	}
	var calls, deleted int
	ms.delMultiFn = func(_ context.Context, k []string) error {
		calls++
		deleted += len(k)
		return nil
	}

	if err := repo.Drop(context.Background()); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if calls != 2 || deleted != len(keys) {
		t.Errorf("calls=%d deleted=%d", calls, deleted)
	}
}

func TestUpsert(t *testing.T) {
	repo, ms := newTestRepo(t)
	recs := []page.Record{testRecord("/srv/DSI/a.pdf", 1), testRecord("/srv/DSI/a.pdf", 2)}
	var got []db.HashSetItem
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		got = items
		return nil
	}

	if err := repo.Upsert(context.Background(), recs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("items = %d, want 2", len(got))
	}
	if got[0].Key != keyPrefix+recs[0].ID {
		t.Errorf("key = %q", got[0].Key)
	}
	f := got[1].Fields
	if f[page.FieldDivision] != "DSI" || f[page.FieldPageNumber] != "2" || f[page.FieldText] != "budget annuel" {
		t.Errorf("fields = %v", f)
	}
	if len(f[vectorField]) != 8 {
		t.Errorf("vector bytes = %d, want 8", len(f[vectorField]))
	}
}

func TestUpsert_RejectsMissingVector(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetMultiFn = func(context.Context, []db.HashSetItem) error {
		t.Fatal("HSetMulti should not be called")
		return nil
	}
	rec := testRecord("/a.pdf", 1)
	rec.Vector = nil
	if err := repo.Upsert(context.Background(), []page.Record{rec}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetMultiFn = func(context.Context, []db.HashSetItem) error { return errors.New("down") }
	if err := repo.Upsert(context.Background(), []page.Record{testRecord("/a.pdf", 1)}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete(t *testing.T) {
	repo, ms := newTestRepo(t)
	var got []string
	ms.delMultiFn = func(_ context.Context, keys []string) error {
		got = keys
		return nil
	}
	if err := repo.Delete(context.Background(), []string{"p1", "p2"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(got) != 2 || got[0] != keyPrefix+"p1" {
		t.Errorf("keys = %v", got)
	}

	got = nil
	if err := repo.Delete(context.Background(), nil); err != nil || got != nil {
		t.Errorf("empty delete: err=%v keys=%v", err, got)
	}
}

func TestCount(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchCountFn = func(_ context.Context, index, query string) (int, error) {
		if index != indexName || query != "*" {
			t.Errorf("count(%q, %q)", index, query)
		}
		return 42, nil
	}
	n, err := repo.Count(context.Background())
	if err != nil || n != 42 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestSearchVector(t *testing.T) {
	repo, ms := newTestRepo(t)
	rec := testRecord("/srv/DSI/a.pdf", 1)
	fields := rec.Fields(true)

	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != indexName || q.VectorField != vectorField || q.K != 30 {
			t.Errorf("query = %+v", q)
		}
		if q.Filters.IsEmpty() {
			t.Error("expected division filter")
		}
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{
			{Key: keyPrefix + rec.ID, Score: 0.91, Fields: fields},
		}}, nil
	}

	hits, err := repo.SearchVector(context.Background(), rec.Vector, divisionFilter(t, "DSI"), 30)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d", len(hits))
	}
	h := hits[0]
	if h.Page.ID != rec.ID || h.Page.Division != "DSI" || h.Page.PageNumber != 1 || h.Score != 0.91 {
		t.Errorf("hit = %+v", h)
	}
	if !h.Page.IndexedAt.Equal(rec.IndexedAt) {
		t.Errorf("indexed_at = %v", h.Page.IndexedAt)
	}
}

func TestSearchVector_Error(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, errors.New("timeout")
	}
	if _, err := repo.SearchVector(context.Background(), []float32{1}, filter.Expression{}, 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearchKeyword(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchBM25Fn = func(_ context.Context, q *db.TextQuery) (*db.SearchResult, error) {
		if q.TextField != page.FieldText || q.Query != "budget" || q.TopK != 10 {
			t.Errorf("query = %+v", q)
		}
		return &db.SearchResult{Entries: []db.SearchEntry{
			{Key: keyPrefix + "p1", Score: 7.5, Fields: map[string]string{page.FieldDivision: "DAF"}},
		}}, nil
	}
	hits, err := repo.SearchKeyword(context.Background(), "budget", filter.Expression{}, 10)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(hits) != 1 || hits[0].Page.ID != "p1" || hits[0].Score != 7.5 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestSearchKeyword_UnsupportedServer(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.textSearch = false
	if _, err := repo.SearchKeyword(context.Background(), "budget", filter.Expression{}, 10); err == nil {
		t.Fatal("expected error")
	}
	if repo.SupportsKeyword(context.Background()) {
		t.Error("SupportsKeyword = true")
	}
}

func TestPage(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hgetAllFn = func(_ context.Context, key string) (map[string]string, error) {
		if key != keyPrefix+"p1" {
			return map[string]string{}, nil
		}
		return map[string]string{
			page.FieldFilePath:   "/docs/DSI/a.pdf",
			page.FieldPageNumber: "2",
			vectorField:          "\x00\x00\x80?",
		}, nil
	}

	rec, ok, err := repo.Page(context.Background(), "p1")
	if err != nil || !ok {
		t.Fatalf("Page: ok=%v err=%v", ok, err)
	}
	if rec.ID != "p1" || rec.PageNumber != 2 || rec.FilePath != "/docs/DSI/a.pdf" {
		t.Errorf("record = %+v", rec)
	}

	if _, ok, err := repo.Page(context.Background(), "missing"); ok || err != nil {
		t.Errorf("missing page: ok=%v err=%v", ok, err)
	}
}
