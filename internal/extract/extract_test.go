package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

type fakeOCR struct {
	text  string
	conf  float64 // 0.9 when unset
	err   error
	calls int
}

func (f *fakeOCR) Recognize(_ context.Context, _ []byte) (string, float64, error) {
	f.calls++
	conf := f.conf
	if conf == 0 {
		conf = 0.9
	}
	return f.text, conf, f.err
}

type fakeRaster struct {
	pages []int
}

func (f *fakeRaster) Rasterize(_ context.Context, _ string, n, _ int) ([]byte, error) {
	f.pages = append(f.pages, n)
	return []byte("png"), nil
}

// writePDF writes a minimal PDF with one Helvetica text line per page.
// An empty string produces a page without a content stream.
func writePDF(t *testing.T, path string, pages ...string) {
	t.Helper()

	var objs []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range pages {
		contentRef := fmt.Sprintf("%d 0 R", 5+2*i)
		if text == "" {
			objs = append(objs,
				"<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> >>",
				"<< /Length 0 >>\nstream\n\nendstream",
			)
			continue
		}
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 3 0 R >> >> /Contents %s >>", contentRef),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
}

const longLine = "Article premier de la loi de finances pour l exercice budgetaire 2024"

func TestRegistry_PDFTextAndScannedPages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loi.pdf")
	writePDF(t, path, longLine, "", longLine+" suite")

	ocr := &fakeOCR{text: "  texte reconnu sur la page numerisee  "}
	raster := &fakeRaster{}
	r := NewRegistry(Config{}, ocr, raster)

	doc, err := r.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.ContentType != "application/pdf" {
		t.Errorf("content type = %q", doc.ContentType)
	}
	if len(doc.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(doc.Pages))
	}
	for i, p := range doc.Pages {
		if p.Number != i+1 {
			t.Errorf("page %d numbered %d", i+1, p.Number)
		}
	}
	if doc.Pages[0].Method != page.MethodText || !strings.Contains(doc.Pages[0].Text, "loi de finances") {
		t.Errorf("page 1 = %+v", doc.Pages[0])
	}
	if doc.Pages[1].Method != page.MethodOCR || doc.Pages[1].Text != "texte reconnu sur la page numerisee" {
		t.Errorf("page 2 = %+v", doc.Pages[1])
	}
	if len(raster.pages) != 1 || raster.pages[0] != 2 {
		t.Errorf("rasterized pages = %v, want [2]", raster.pages)
	}
}

func TestRegistry_PDFWithoutOCR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	writePDF(t, path, "", longLine)

	doc, err := NewRegistry(Config{}, nil, nil).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(doc.Pages))
	}
	if doc.Pages[0].Method != page.MethodEmpty || doc.Pages[0].Warning == "" {
		t.Errorf("page 1 = %+v, want empty with warning", doc.Pages[0])
	}
	w := doc.Warnings()
	if len(w) != 1 || w[0].Page != 1 {
		t.Errorf("warnings = %v", w)
	}
}

func TestRegistry_PDFOCRFailureKeepsSparseText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.pdf")
	writePDF(t, path, "Annexe 3")

	ocr := &fakeOCR{err: errors.New("tesseract crashed")}
	doc, err := NewRegistry(Config{}, ocr, &fakeRaster{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	p := doc.Pages[0]
	if p.Text != "Annexe 3" || p.Method != page.MethodText {
		t.Errorf("page = %+v, want sparse text kept", p)
	}
	if !strings.Contains(p.Warning, "tesseract crashed") {
		t.Errorf("warning = %q", p.Warning)
	}
}

func TestRegistry_CorruptPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewRegistry(Config{}, nil, nil).Extract(context.Background(), path)
	if !errors.Is(err, domain.ErrExtractionFailure) {
		t.Fatalf("expected ErrExtractionFailure, got %v", err)
	}
}

func TestRegistry_Errors(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(Config{MaxFileSize: 10}, nil, nil)
	ctx := context.Background()

	if _, err := r.Extract(ctx, filepath.Join(dir, "a.exe")); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("unsupported: got %v", err)
	}
	if _, err := r.Extract(ctx, filepath.Join(dir, "missing.txt")); !errors.Is(err, domain.ErrExtractionFailure) {
		t.Errorf("missing: got %v", err)
	}

	big := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(big, []byte("more than ten bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Extract(ctx, big); !errors.Is(err, domain.ErrExtractionFailure) {
		t.Errorf("too large: got %v", err)
	}
}

func TestRegistry_Supported(t *testing.T) {
	r := NewRegistry(Config{}, nil, nil)
	for _, p := range []string{"a.PDF", "b.docx", "c.pptx", "d.xlsx", "e.txt", "f.jpeg", "g.TIF"} {
		if !r.Supported(p) {
			t.Errorf("%s should be supported", p)
		}
	}
	if r.Supported("notes.md") {
		t.Error("notes.md should not be supported")
	}
	if r.ContentType("x.txt") != "text/plain" {
		t.Errorf("content type = %q", r.ContentType("x.txt"))
	}
}

func TestRegistry_TextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("\n  Note de service  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	doc, err := NewRegistry(Config{}, nil, nil).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Pages) != 1 || doc.Pages[0].Text != "Note de service" {
		t.Errorf("pages = %+v", doc.Pages)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	doc, err = NewRegistry(Config{}, nil, nil).Extract(context.Background(), empty)
	if err != nil {
		t.Fatalf("Extract empty: %v", err)
	}
	if len(doc.Pages) != 1 || doc.Pages[0].Method != page.MethodEmpty {
		t.Errorf("empty pages = %+v", doc.Pages)
	}
}

func TestRegistry_Slides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	slide := func(name, body string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(w, `<p:sld xmlns:a="a" xmlns:p="p"><p:cSld><p:spTree><p:sp><p:txBody>%s</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`, body)
	}
	// written out of order on purpose
	slide("ppt/slides/slide10.xml", `<a:p><a:r><a:t>Conclusion</a:t></a:r></a:p>`)
	slide("ppt/slides/slide2.xml", `<a:p><a:r><a:t>Budget</a:t></a:r><a:r><a:t> 2024</a:t></a:r></a:p><a:p><a:r><a:t>Recettes</a:t></a:r></a:p>`)
	slide("ppt/slides/slide1.xml", `<a:p><a:r><a:t>Titre</a:t></a:r></a:p>`)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	doc, err := NewRegistry(Config{}, nil, nil).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got := make([]string, len(doc.Pages))
	for i, p := range doc.Pages {
		got[i] = p.Text
	}
	want := []string{"Titre", "Budget 2024\nRecettes", "Conclusion"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("slides = %q, want %q", got, want)
	}
}

func TestRegistry_Sheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.xlsx")
	x := excelize.NewFile()
	if err := x.SetCellValue("Sheet1", "A1", "Ligne"); err != nil {
		t.Fatal(err)
	}
	if err := x.SetCellValue("Sheet1", "B1", "Montant"); err != nil {
		t.Fatal(err)
	}
	if _, err := x.NewSheet("Recettes"); err != nil {
		t.Fatal(err)
	}
	if err := x.SetCellValue("Recettes", "A1", "Impots"); err != nil {
		t.Fatal(err)
	}
	if err := x.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	doc, err := NewRegistry(Config{}, nil, nil).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want one per sheet", len(doc.Pages))
	}
	if doc.Pages[0].Text != "Sheet1\nLigne\tMontant" || doc.Pages[0].Method != page.MethodSynthetic {
		t.Errorf("page 1 = %+v", doc.Pages[0])
	}
	if !strings.HasPrefix(doc.Pages[1].Text, "Recettes") {
		t.Errorf("page 2 = %+v", doc.Pages[1])
	}
}

func TestRegistry_LowOCRConfidenceIsFlagged(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "scan.pdf")
	writePDF(t, pdfPath, "", longLine)
	imgPath := filepath.Join(dir, "scan.png")
	if err := os.WriteFile(imgPath, []byte("png"), 0o600); err != nil {
		t.Fatal(err)
	}

	ocr := &fakeOCR{text: "Arrete ministeriel", conf: 0.42}
	r := NewRegistry(Config{MinConfidence: 0.6}, ocr, &fakeRaster{})

	doc, err := r.Extract(context.Background(), pdfPath)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	p := doc.Pages[0]
	if p.Method != page.MethodOCR || p.Text != "Arrete ministeriel" {
		t.Errorf("page = %+v, want ocr text kept", p)
	}
	if p.Warning != "low ocr confidence 42%" {
		t.Errorf("pdf warning = %q", p.Warning)
	}
	if doc.Pages[1].Warning != "" {
		t.Errorf("text layer page must not be flagged: %q", doc.Pages[1].Warning)
	}

	doc, err = r.Extract(context.Background(), imgPath)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Pages[0].Warning != "low ocr confidence 42%" {
		t.Errorf("image warning = %q", doc.Pages[0].Warning)
	}
}

func TestConfidenceWarning(t *testing.T) {
	if w := confidenceWarning(0, 0.6); w != "" {
		t.Errorf("unknown confidence flagged: %q", w)
	}
	if w := confidenceWarning(0.6, 0.6); w != "" {
		t.Errorf("confidence at the floor flagged: %q", w)
	}
	if w := confidenceWarning(0.157, 0.6); w != "low ocr confidence 16%" {
		t.Errorf("got %q", w)
	}
}

func TestRegistry_ImageOCR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("png"), 0o600); err != nil {
		t.Fatal(err)
	}
	ocr := &fakeOCR{text: "Arrete ministeriel"}
	doc, err := NewRegistry(Config{}, ocr, nil).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Pages[0].Method != page.MethodOCR || doc.Pages[0].Text != "Arrete ministeriel" {
		t.Errorf("page = %+v", doc.Pages[0])
	}
}
