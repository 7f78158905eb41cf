package document

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

// Status is the indexing state of a document.
type Status string

// Document statuses.
const (
	StatusPending  Status = "pending"
	StatusIndexing Status = "indexing"
	StatusIndexed  Status = "indexed"
	StatusFailed   Status = "failed"
)

// IsValid checks if the status is one of the supported values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusIndexing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// Fingerprint identifies a file version. Size and mtime are a cheap first
// check; the content hash confirms a change when they differ.
type Fingerprint struct {
	Size        int64
	ModTime     time.Time
	ContentHash string
}

// SameStat reports whether size and mtime are unchanged.
func (f Fingerprint) SameStat(other Fingerprint) bool {
	return f.Size == other.Size && f.ModTime.Equal(other.ModTime)
}

// SameContent reports whether both hashes are known and equal.
func (f Fingerprint) SameContent(other Fingerprint) bool {
	return f.ContentHash != "" && f.ContentHash == other.ContentHash
}

// Document is the catalog entry for one source file.
type Document struct {
	id          string
	path        string
	name        string
	division    string
	contentType string
	fingerprint Fingerprint
	totalPages  int
	status      Status
	warnings    []string
	lastError   string
	indexedAt   time.Time
	updatedAt   time.Time
}

// New creates a pending document for path.
func New(path, division, contentType string) (Document, error) {
	if path == "" {
		return Document{}, fmt.Errorf("document path is required")
	}
	if !filepath.IsAbs(path) {
		return Document{}, fmt.Errorf("document path must be absolute: %q", path)
	}
	if division == "" {
		return Document{}, fmt.Errorf("division is required")
	}
	return Document{
		id:          page.DocumentID(path),
		path:        path,
		name:        filepath.Base(path),
		division:    division,
		contentType: contentType,
		status:      StatusPending,
		updatedAt:   time.Now().UTC(),
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(
	id, path, division, contentType string,
	fp Fingerprint, totalPages int, status Status,
	warnings []string, lastError string,
	indexedAt, updatedAt time.Time,
) Document {
	return Document{
		id: id, path: path, name: filepath.Base(path), division: division,
		contentType: contentType, fingerprint: fp, totalPages: totalPages,
		status: status, warnings: warnings, lastError: lastError,
		indexedAt: indexedAt, updatedAt: updatedAt,
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Path returns the absolute file path.
func (d *Document) Path() string { return d.path }

// Name returns the file name.
func (d *Document) Name() string { return d.name }

// Division returns the owning division.
func (d *Document) Division() string { return d.division }

// ContentType returns the MIME type.
func (d *Document) ContentType() string { return d.contentType }

// Fingerprint returns the file version recorded at last indexing.
func (d *Document) Fingerprint() Fingerprint { return d.fingerprint }

// TotalPages returns the page count of the last successful indexing.
func (d *Document) TotalPages() int { return d.totalPages }

// Status returns the indexing status.
func (d *Document) Status() Status { return d.status }

// Warnings returns page warnings of the last indexing.
func (d *Document) Warnings() []string { return d.warnings }

// LastError returns the last failure reason.
func (d *Document) LastError() string { return d.lastError }

// IndexedAt returns the time of the last successful indexing.
func (d *Document) IndexedAt() time.Time { return d.indexedAt }

// UpdatedAt returns the time of the last status change.
func (d *Document) UpdatedAt() time.Time { return d.updatedAt }

// PageIDs returns the IDs of pages 1..TotalPages.
func (d *Document) PageIDs() []string {
	return PageIDs(d.path, 1, d.totalPages)
}

// MarkIndexing moves the document into the indexing state.
func (d *Document) MarkIndexing() {
	d.status = StatusIndexing
	d.updatedAt = time.Now().UTC()
}

// MarkIndexed records a successful indexing.
func (d *Document) MarkIndexed(fp Fingerprint, totalPages int, warnings []string) {
	now := time.Now().UTC()
	d.status = StatusIndexed
	d.fingerprint = fp
	d.totalPages = totalPages
	d.warnings = warnings
	d.lastError = ""
	d.indexedAt = now
	d.updatedAt = now
}

// MarkFailed records a failed indexing. Previously indexed pages stay as they were.
func (d *Document) MarkFailed(reason string) {
	d.status = StatusFailed
	d.lastError = reason
	d.updatedAt = time.Now().UTC()
}

// SetDivision moves the document to another division (e.g. request hint).
func (d *Document) SetDivision(code string) { d.division = code }

// SetContentType updates the MIME type.
func (d *Document) SetContentType(ct string) { d.contentType = ct }

// PageIDs returns the page IDs of path for pages from..to inclusive.
func PageIDs(path string, from, to int) []string {
	if from < 1 {
		from = 1
	}
	if to < from {
		return nil
	}
	ids := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		ids = append(ids, page.ID(path, n))
	}
	return ids
}

// Stats aggregates the catalog.
type Stats struct {
	TotalDocuments int
	ByStatus       map[string]int
	ByDivision     map[string]int
}
