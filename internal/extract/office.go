package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/xuri/excelize/v2"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/textproc"
)

// Office converts word-processing documents to text and paginates the result
// by character budget. Form feeds in the converted text force page breaks.
type Office struct {
	budget int
}

// Extract implements Extractor.
func (e *Office) Extract(ctx context.Context, p string) ([]Page, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, failure("open: %v", err)
	}
	defer f.Close()

	res, err := docconv.Convert(f, docconv.MimeTypeByExtension(p), false)
	if err != nil {
		return nil, failure("convert %s: %v", path.Ext(p), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return synthetic(textproc.Paginate(res.Body, e.budget)), nil
}

// Slides reads PPTX decks, one page per slide.
type Slides struct{}

// Extract implements Extractor.
func (e *Slides) Extract(ctx context.Context, p string) ([]Page, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, failure("open pptx: %v", err)
	}
	defer zr.Close()

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		name := f.Name
		if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{n: n, f: f})
	}
	if len(slides) == 0 {
		return nil, failure("pptx has no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	pages := make([]Page, 0, len(slides))
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := slideText(s.f)
		if err != nil {
			pages = append(pages, Page{Method: page.MethodEmpty, Warning: "read slide: " + err.Error()})
			continue
		}
		pages = append(pages, Page{Text: text, Method: page.MethodText})
	}
	return pages, nil
}

// slideText collects <a:t> runs, one line per <a:p> paragraph.
func slideText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inText = t.Name.Local == "t"
		case xml.EndElement:
			if t.Name.Local == "p" && b.Len() > 0 {
				b.WriteByte('\n')
			}
			inText = false
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// Sheet reads XLSX workbooks. Each sheet is a section paginated by budget;
// rows become tab-separated lines.
type Sheet struct {
	budget int
}

// Extract implements Extractor.
func (e *Sheet) Extract(ctx context.Context, p string) ([]Page, error) {
	f, err := excelize.OpenFile(p)
	if err != nil {
		return nil, failure("open xlsx: %v", err)
	}
	defer f.Close()

	var pages []Page
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(name)
		if err != nil {
			pages = append(pages, Page{Method: page.MethodEmpty, Warning: "sheet " + name + ": " + err.Error()})
			continue
		}

		var b strings.Builder
		b.WriteString(name)
		b.WriteByte('\n')
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		pages = append(pages, synthetic(textproc.Paginate(b.String(), e.budget))...)
	}
	return pages, nil
}

// Text reads a plain text file as a single page.
type Text struct{}

// Extract implements Extractor.
func (e *Text) Extract(_ context.Context, p string) ([]Page, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, failure("read: %v", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return []Page{{Method: page.MethodEmpty}}, nil
	}
	return []Page{{Text: text, Method: page.MethodText}}, nil
}

// Image OCRs a single-page image.
type Image struct {
	ocr           OCR
	timeout       time.Duration
	minConfidence float64
}

// Extract implements Extractor.
func (e *Image) Extract(ctx context.Context, p string) ([]Page, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, failure("read: %v", err)
	}
	if e.ocr == nil {
		return []Page{{Method: page.MethodEmpty, Warning: "ocr disabled"}}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, conf, err := e.ocr.Recognize(ctx, data)
	if err != nil {
		return []Page{{Method: page.MethodEmpty, Warning: "ocr: " + err.Error()}}, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []Page{{Method: page.MethodEmpty, Warning: "no text found"}}, nil
	}
	return []Page{{Text: text, Method: page.MethodOCR, Warning: confidenceWarning(conf, e.minConfidence)}}, nil
}
