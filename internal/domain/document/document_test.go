package document

import (
	"testing"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

func TestNew_Valid(t *testing.T) {
	doc, err := New("/documents/DSI/report.pdf", "DSI", "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID() != page.DocumentID("/documents/DSI/report.pdf") {
		t.Errorf("ID() = %q", doc.ID())
	}
	if doc.Name() != "report.pdf" {
		t.Errorf("Name() = %q", doc.Name())
	}
	if doc.Status() != StatusPending {
		t.Errorf("Status() = %q, want pending", doc.Status())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name, path, division string
	}{
		{"empty path", "", "DSI"},
		{"relative path", "DSI/report.pdf", "DSI"},
		{"no division", "/documents/report.pdf", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.path, tc.division, ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	doc, _ := New("/documents/DSI/report.pdf", "DSI", "application/pdf")

	doc.MarkIndexing()
	if doc.Status() != StatusIndexing {
		t.Fatalf("Status() = %q, want indexing", doc.Status())
	}

	fp := Fingerprint{Size: 10, ModTime: time.Unix(100, 0), ContentHash: "abc"}
	doc.MarkIndexed(fp, 3, []string{"page 2: ocr timeout"})
	if doc.Status() != StatusIndexed || doc.TotalPages() != 3 {
		t.Fatalf("unexpected state: %q pages=%d", doc.Status(), doc.TotalPages())
	}
	if doc.IndexedAt().IsZero() {
		t.Error("IndexedAt must be set")
	}

	doc.MarkFailed("extraction failure")
	if doc.Status() != StatusFailed || doc.LastError() != "extraction failure" {
		t.Errorf("unexpected failed state: %q %q", doc.Status(), doc.LastError())
	}
	if doc.TotalPages() != 3 {
		t.Error("failure must keep the last indexed page count")
	}
}

func TestPageIDs(t *testing.T) {
	doc := Reconstruct("id", "/d/a.pdf", "DSI", "", Fingerprint{}, 3, StatusIndexed, nil, "", time.Time{}, time.Time{})
	ids := doc.PageIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	if ids[0] != page.ID("/d/a.pdf", 1) || ids[2] != page.ID("/d/a.pdf", 3) {
		t.Error("ids must follow page order")
	}

	if got := PageIDs("/d/a.pdf", 4, 3); got != nil {
		t.Errorf("empty range must be nil, got %v", got)
	}
	if got := PageIDs("/d/a.pdf", 3, 5); len(got) != 3 {
		t.Errorf("expected 3 ids for pages 3..5, got %d", len(got))
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint{Size: 10, ModTime: time.Unix(100, 0), ContentHash: "h"}
	b := Fingerprint{Size: 10, ModTime: time.Unix(100, 0)}
	if !a.SameStat(b) {
		t.Error("same size and mtime must match")
	}
	if a.SameContent(b) {
		t.Error("unknown hash must not match")
	}
	b.ContentHash = "h"
	if !a.SameContent(b) {
		t.Error("equal hashes must match")
	}
}
