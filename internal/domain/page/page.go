package page

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Method tells how a page's text was obtained.
type Method string

// Extraction methods.
const (
	MethodText      Method = "text"
	MethodOCR       Method = "ocr"
	MethodSynthetic Method = "synthetic" // paginated by character budget
	MethodEmpty     Method = "empty"     // degraded page, no text
)

// MaxTextBytes caps stored page text.
const MaxTextBytes = 65000

// SnippetLength is the preview length in characters.
const SnippetLength = 300

// ID returns the stable identifier of page n of the file at path.
// It is the first 32 hex chars of sha256("<path>:<n>"), so re-indexing the
// same file always overwrites the same entries.
func ID(path string, n int) string {
	h := sha256.Sum256([]byte(path + ":" + strconv.Itoa(n)))
	return hex.EncodeToString(h[:])[:32]
}

// DocumentID returns the stable identifier of the file at path.
func DocumentID(path string) string {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:])[:32]
}

// Record is one indexed page: the unit written to both the vector and the
// keyword index under the same ID.
type Record struct {
	ID          string
	DocumentID  string
	FilePath    string
	FileName    string
	FileType    string // extension without dot, lower case
	ContentType string
	Division    string
	PageNumber  int
	TotalPages  int
	Text        string
	Language    string
	Method      Method
	Warning     string
	IndexedAt   time.Time
	Vector      []float32
}

// New builds a record for page n of total. The ID and document ID are derived from path.
func New(path string, n, total int) Record {
	return Record{
		ID:         ID(path, n),
		DocumentID: DocumentID(path),
		FilePath:   path,
		FileName:   filepath.Base(path),
		FileType:   FileType(path),
		PageNumber: n,
		TotalPages: total,
	}
}

// Validate checks page numbering.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("page id is required")
	}
	if r.TotalPages < 1 {
		return fmt.Errorf("total pages must be positive, got %d", r.TotalPages)
	}
	if r.PageNumber < 1 || r.PageNumber > r.TotalPages {
		return fmt.Errorf("page number %d out of range [1, %d]", r.PageNumber, r.TotalPages)
	}
	return nil
}

// IsFirst reports whether this is page 1.
func (r *Record) IsFirst() bool { return r.PageNumber == 1 }

// IsLast reports whether this is the final page.
func (r *Record) IsLast() bool { return r.PageNumber == r.TotalPages }

// FileType returns the lower-case extension of path without the dot.
func FileType(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Snippet returns at most SnippetLength characters of text, cut at the last
// word boundary, with "..." appended when truncated.
func Snippet(text string) string {
	if utf8.RuneCountInString(text) <= SnippetLength {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:SnippetLength])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// Truncate caps text at MaxTextBytes without splitting a UTF-8 sequence.
func Truncate(text string) string {
	if len(text) <= MaxTextBytes {
		return text
	}
	cut := text[:MaxTextBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// Placeholder is embedded for pages without text so that every page carries a
// usable vector.
func Placeholder(fileName string, n int) string {
	return fileName + " p." + strconv.Itoa(n)
}
