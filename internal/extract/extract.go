// Package extract turns files into ordered per-page plain text.
//
// Every extractor returns pages numbered 1..N without gaps. A page that could
// not be read comes back empty with a warning; only whole-document problems
// are returned as errors, wrapped in domain.ErrExtractionFailure.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

// Page is one extracted page.
type Page struct {
	Number  int
	Text    string
	Method  page.Method
	Warning string
}

// Document is the extraction output for one file.
type Document struct {
	ContentType string
	Pages       []Page
}

// Warnings returns the page warnings in page order.
func (d *Document) Warnings() []domain.PageWarning {
	var out []domain.PageWarning
	for _, p := range d.Pages {
		if p.Warning != "" {
			out = append(out, domain.PageWarning{Page: p.Number, Reason: p.Warning})
		}
	}
	return out
}

// Extractor reads one file format.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Page, error)
}

// Config tunes extraction.
type Config struct {
	MaxFileSize    int64   // bytes, 0 disables the check
	PageCharBudget int     // synthetic pagination budget in bytes
	MinTextChars   int     // below this a PDF page is treated as scanned
	MinDensity     float64 // non-space chars per square inch, below this a PDF page is scanned
	OCRLanguages   []string
	OCRDPI         int
	OCRTimeout     time.Duration
	MinConfidence  float64 // mean OCR word confidence in [0,1] below which a page is flagged
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.PageCharBudget <= 0 {
		c.PageCharBudget = 3000
	}
	if c.MinTextChars <= 0 {
		c.MinTextChars = 50
	}
	if c.OCRDPI <= 0 {
		c.OCRDPI = 300
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 120 * time.Second
	}
	if len(c.OCRLanguages) == 0 {
		c.OCRLanguages = []string{"fra", "eng"}
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.6
	}
}

type format struct {
	contentType string
	extractor   Extractor
}

// Registry dispatches files to extractors by extension.
type Registry struct {
	cfg     Config
	formats map[string]format
}

// NewRegistry builds the standard registry. ocr and raster may be nil, in
// which case scanned pages and images degrade to empty pages with a warning.
func NewRegistry(cfg Config, ocr OCR, raster Rasterizer) *Registry {
	cfg.ApplyDefaults()

	pdfx := &PDF{cfg: cfg, ocr: ocr, raster: raster}
	office := &Office{budget: cfg.PageCharBudget}
	img := &Image{ocr: ocr, timeout: cfg.OCRTimeout, minConfidence: cfg.MinConfidence}

	r := &Registry{cfg: cfg, formats: make(map[string]format)}
	r.Register(".pdf", "application/pdf", pdfx)
	r.Register(".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", office)
	r.Register(".doc", "application/msword", office)
	r.Register(".pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation", &Slides{})
	r.Register(".odt", "application/vnd.oasis.opendocument.text", office)
	r.Register(".rtf", "application/rtf", office)
	r.Register(".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", &Sheet{budget: cfg.PageCharBudget})
	r.Register(".txt", "text/plain", &Text{})
	r.Register(".png", "image/png", img)
	r.Register(".jpg", "image/jpeg", img)
	r.Register(".jpeg", "image/jpeg", img)
	r.Register(".tif", "image/tiff", img)
	r.Register(".tiff", "image/tiff", img)
	return r
}

// Register binds an extension (with leading dot) to an extractor.
func (r *Registry) Register(ext, contentType string, e Extractor) {
	r.formats[strings.ToLower(ext)] = format{contentType: contentType, extractor: e}
}

// Supported reports whether path has a registered extension.
func (r *Registry) Supported(path string) bool {
	_, ok := r.formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ContentType returns the MIME type for path, or "" when unsupported.
func (r *Registry) ContentType(path string) string {
	return r.formats[strings.ToLower(filepath.Ext(path))].contentType
}

// Extensions lists the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.formats))
	for ext := range r.formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads path with the matching extractor.
func (r *Registry) Extract(ctx context.Context, path string) (*Document, error) {
	f, ok := r.formats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailure, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrExtractionFailure, path)
	}
	if r.cfg.MaxFileSize > 0 && info.Size() > r.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: file is %d bytes, limit %d", domain.ErrExtractionFailure, info.Size(), r.cfg.MaxFileSize)
	}

	pages, err := f.extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		pages = []Page{{Number: 1, Method: page.MethodEmpty, Warning: "no text content"}}
	}
	for i := range pages {
		pages[i].Number = i + 1
		if pages[i].Text == "" && pages[i].Method == "" {
			pages[i].Method = page.MethodEmpty
		}
	}
	return &Document{ContentType: f.contentType, Pages: pages}, nil
}

// failure wraps a whole-document error.
func failure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrExtractionFailure, fmt.Sprintf(format, args...))
}

// synthetic paginates text by budget into synthetic pages.
func synthetic(pages []string) []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, Page{Text: p, Method: page.MethodSynthetic})
	}
	return out
}
