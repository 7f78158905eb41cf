package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/textproc"
)

// Letter size, used when a page carries no usable MediaBox.
const (
	defaultWidthPt  = 612
	defaultHeightPt = 792
)

// PDF extracts the text layer page by page and OCRs pages that look scanned.
type PDF struct {
	cfg    Config
	ocr    OCR
	raster Rasterizer
}

// Extract implements Extractor.
func (e *PDF) Extract(ctx context.Context, path string) (pages []Page, err error) {
	// the parser panics on some malformed containers
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, failure("corrupt pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, failure("open pdf: %v", err)
	}
	defer f.Close()

	n := r.NumPage()
	if n <= 0 {
		return nil, failure("pdf has no pages")
	}

	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, e.page(ctx, path, r, i))
	}
	return pages, nil
}

func (e *PDF) page(ctx context.Context, path string, r *pdf.Reader, n int) Page {
	text, w, h, readErr := readPage(r, n)
	text = strings.TrimSpace(text)

	if readErr == nil && !e.scanned(text, w, h) {
		return Page{Number: n, Text: text, Method: page.MethodText}
	}

	ocrText, warn := e.ocrPage(ctx, path, n)
	switch {
	case strings.TrimSpace(ocrText) != "":
		return Page{Number: n, Text: ocrText, Method: page.MethodOCR, Warning: warn}
	case text != "":
		// sparse text layer beats nothing
		return Page{Number: n, Text: text, Method: page.MethodText, Warning: warn}
	}

	if readErr != nil {
		warn = joinWarn("read page: "+readErr.Error(), warn)
	}
	if warn == "" {
		warn = "no text found"
	}
	return Page{Number: n, Method: page.MethodEmpty, Warning: warn}
}

func (e *PDF) scanned(text string, w, h float64) bool {
	if utf8.RuneCountInString(text) < e.cfg.MinTextChars {
		return true
	}
	return e.cfg.MinDensity > 0 && textproc.Density(text, w, h) < e.cfg.MinDensity
}

func (e *PDF) ocrPage(ctx context.Context, path string, n int) (string, string) {
	if e.ocr == nil || e.raster == nil {
		return "", "ocr disabled"
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.OCRTimeout)
	defer cancel()

	img, err := e.raster.Rasterize(ctx, path, n, e.cfg.OCRDPI)
	if err != nil {
		return "", "rasterize: " + err.Error()
	}
	text, conf, err := e.ocr.Recognize(ctx, img)
	if err != nil {
		return "", "ocr: " + err.Error()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	return text, confidenceWarning(conf, e.cfg.MinConfidence)
}

// readPage returns the text layer and the MediaBox size of page n.
func readPage(r *pdf.Reader, n int) (text string, w, h float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("corrupt page: %v", rec)
		}
	}()

	p := r.Page(n)
	if p.V.IsNull() {
		return "", 0, 0, fmt.Errorf("page %d not found", n)
	}
	w, h = mediaBox(p)

	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", w, h, err
	}
	return text, w, h, nil
}

func mediaBox(p pdf.Page) (float64, float64) {
	box := p.V.Key("MediaBox")
	for parent := p.V.Key("Parent"); box.IsNull() && !parent.IsNull(); parent = parent.Key("Parent") {
		box = parent.Key("MediaBox")
	}
	if box.Len() != 4 {
		return defaultWidthPt, defaultHeightPt
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return defaultWidthPt, defaultHeightPt
	}
	return w, h
}

// confidenceWarning flags OCR text whose mean word confidence is under floor.
// Zero confidence means the engine reported no word boxes and is not flagged.
func confidenceWarning(conf, floor float64) string {
	if conf <= 0 || conf >= floor {
		return ""
	}
	return fmt.Sprintf("low ocr confidence %.0f%%", conf*100)
}

func joinWarn(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "; " + b
}
