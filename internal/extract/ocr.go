package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/otiai10/gosseract/v2"
)

// OCR recognizes text in an encoded image.
type OCR interface {
	Recognize(ctx context.Context, img []byte) (text string, confidence float64, err error)
}

// Rasterizer renders one PDF page to PNG.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, page, dpi int) ([]byte, error)
}

// Tesseract runs OCR through libtesseract with automatic page segmentation
// and orientation detection.
type Tesseract struct {
	languages []string
}

// NewTesseract creates a Tesseract OCR for the given language models.
func NewTesseract(languages []string) *Tesseract {
	return &Tesseract{languages: languages}
}

type ocrResult struct {
	text       string
	confidence float64
	err        error
}

// Recognize returns the recognized text and the mean word confidence in [0,1].
// A gosseract client is not safe for concurrent use, so one is created per call.
func (t *Tesseract) Recognize(ctx context.Context, img []byte) (string, float64, error) {
	done := make(chan ocrResult, 1)
	go func() {
		text, conf, err := t.recognize(img)
		done <- ocrResult{text: text, confidence: conf, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", 0, fmt.Errorf("ocr: %w", ctx.Err())
	case r := <-done:
		return r.text, r.confidence, r.err
	}
}

func (t *Tesseract) recognize(img []byte) (string, float64, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", 0, fmt.Errorf("ocr language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO_OSD); err != nil {
		return "", 0, fmt.Errorf("ocr page seg mode: %w", err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", 0, fmt.Errorf("ocr image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("ocr text: %w", err)
	}

	var conf float64
	if boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
		var sum float64
		for _, b := range boxes {
			sum += b.Confidence
		}
		conf = sum / float64(len(boxes)) / 100
	}
	return text, conf, nil
}

// Pdftoppm rasterizes pages with poppler's pdftoppm binary.
type Pdftoppm struct {
	bin string
}

// NewPdftoppm returns a rasterizer using bin, or "pdftoppm" from PATH.
func NewPdftoppm(bin string) *Pdftoppm {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &Pdftoppm{bin: bin}
}

// Available reports whether the binary can be found.
func (p *Pdftoppm) Available() bool {
	_, err := exec.LookPath(p.bin)
	return err == nil
}

// Rasterize renders a single page as PNG to stdout.
func (p *Pdftoppm) Rasterize(ctx context.Context, path string, page, dpi int) ([]byte, error) {
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, p.bin,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(dpi),
		"-png", "-singlefile",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, msg)
		}
		return nil, fmt.Errorf("pdftoppm page %d: %w", page, err)
	}
	if stdout.Len() == 0 {
		return nil, errors.New("pdftoppm produced no image")
	}
	return stdout.Bytes(), nil
}
