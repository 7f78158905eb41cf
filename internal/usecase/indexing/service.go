// Package indexing runs one file through extraction, cleaning, embedding and
// both page indexes, and keeps the document catalog in step.
package indexing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/division"
	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/extract"
	"github.com/kailas-cloud/pagedex/internal/metrics"
	"github.com/kailas-cloud/pagedex/internal/textproc"
)

const warnEmbeddingFailed = "embedding failed, indexed as empty page"

// Request asks for one file to be indexed.
type Request struct {
	Path     string
	Division string // overrides the division derived from the path
	Force    bool   // re-index even when the file is unchanged
}

// Result describes a finished indexing run.
type Result struct {
	DocumentID string
	Division   string
	Pages      int
	Warnings   []string
	Skipped    bool
	// EmbeddingTokens is what the provider billed; zero when every page hit the cache.
	EmbeddingTokens int
}

// Service indexes files. It is safe for concurrent use on different paths;
// callers serialize work on the same path.
type Service struct {
	extractor Extractor
	embedder  Embedder
	vector    Index
	keyword   Index
	catalog   Catalog
	lookup    PageLookup
	stamp     StampChecker
	divisions DivisionResolver
	root      string
	now       func() time.Time
	logger    *zap.Logger
}

// Deps groups the collaborators of the service.
type Deps struct {
	Extractor Extractor
	Embedder  Embedder
	Vector    Index
	Keyword   Index // may be the same store as Vector
	Catalog   Catalog
	Lookup    PageLookup // optional, resolves page ids
	Stamp     StampChecker
	Divisions DivisionResolver
}

// New creates an indexing service for files under root.
func New(d Deps, root string, logger *zap.Logger) *Service {
	keyword := d.Keyword
	if keyword == d.Vector {
		keyword = nil
	}
	return &Service{
		extractor: d.Extractor,
		embedder:  d.Embedder,
		vector:    d.Vector,
		keyword:   keyword,
		catalog:   d.Catalog,
		lookup:    d.Lookup,
		stamp:     d.Stamp,
		divisions: d.Divisions,
		root:      root,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Supported reports whether path has an extractor.
func (s *Service) Supported(path string) bool {
	return s.extractor.Supported(path)
}

// IndexFile brings the index in line with the file at req.Path. An unchanged
// file is skipped unless forced. Pages beyond a shrunk page count are removed.
func (s *Service) IndexFile(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	path := filepath.Clean(req.Path)

	if s.stamp != nil {
		if err := s.stamp.Check(ctx); err != nil {
			return Result{}, err
		}
	}
	if !s.extractor.Supported(path) {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailure, err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is a directory", domain.ErrExtractionFailure, path)
	}

	div := division.Normalize(req.Division)
	if div == "" {
		div = s.divisions.FromPath(s.root, path)
	}

	existing, err := s.catalog.GetByPath(ctx, path)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return Result{}, fmt.Errorf("load document: %w", err)
	}

	fp := document.Fingerprint{Size: info.Size(), ModTime: info.ModTime().UTC()}

	if found && !req.Force && existing.Status() == document.StatusIndexed && existing.Division() == div {
		if existing.Fingerprint().SameStat(fp) {
			return s.skipped(&existing), nil
		}
		if fp.ContentHash, err = contentHash(path); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailure, err)
		}
		if existing.Fingerprint().SameContent(fp) {
			// touched but not modified
			existing.MarkIndexed(fp, existing.TotalPages(), existing.Warnings())
			if err := s.catalog.Save(ctx, &existing); err != nil {
				return Result{}, fmt.Errorf("save document: %w", err)
			}
			return s.skipped(&existing), nil
		}
	}
	if fp.ContentHash == "" {
		if fp.ContentHash, err = contentHash(path); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailure, err)
		}
	}

	doc := existing
	if !found {
		if doc, err = document.New(path, div, ""); err != nil {
			return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
	}
	doc.SetDivision(div)
	doc.MarkIndexing()
	if err := s.catalog.Save(ctx, &doc); err != nil {
		return Result{}, fmt.Errorf("save document: %w", err)
	}

	ctx, usage := domain.NewContextWithUsage(ctx)
	res, err := s.index(ctx, &doc, fp, existing.TotalPages())
	if err != nil {
		doc.MarkFailed(err.Error())
		if saveErr := s.catalog.Save(context.WithoutCancel(ctx), &doc); saveErr != nil {
			s.logger.Warn("Failed to record document failure", zap.String("path", path), zap.Error(saveErr))
		}
		return Result{}, err
	}
	res.EmbeddingTokens = usage.Tokens()

	s.logger.Info("Document indexed",
		zap.String("path", path),
		zap.String("division", div),
		zap.Int("pages", res.Pages),
		zap.Int("warnings", len(res.Warnings)),
		zap.Int("embedding_tokens", res.EmbeddingTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *Service) index(ctx context.Context, doc *document.Document, fp document.Fingerprint, oldTotal int) (Result, error) {
	ed, err := s.extractor.Extract(ctx, doc.Path())
	if err != nil {
		return Result{}, err
	}
	doc.SetContentType(ed.ContentType)

	recs := s.buildRecords(doc, ed)
	if err := s.embed(ctx, recs); err != nil {
		return Result{}, err
	}

	if err := s.upsert(ctx, recs); err != nil {
		return Result{}, err
	}

	total := len(recs)
	if oldTotal > total {
		stale := document.PageIDs(doc.Path(), total+1, oldTotal)
		if err := s.deletePages(ctx, stale); err != nil {
			return Result{}, err
		}
	}

	var warnings []string
	for i := range recs {
		metrics.PagesIndexedTotal.WithLabelValues(string(recs[i].Method)).Inc()
		if recs[i].Warning != "" {
			warnings = append(warnings, domain.PageWarning{Page: recs[i].PageNumber, Reason: recs[i].Warning}.Error())
		}
	}
	metrics.PageWarningsTotal.Add(float64(len(warnings)))

	doc.MarkIndexed(fp, total, warnings)
	if err := s.catalog.Save(ctx, doc); err != nil {
		return Result{}, fmt.Errorf("save document: %w", err)
	}

	return Result{
		DocumentID: doc.ID(),
		Division:   doc.Division(),
		Pages:      total,
		Warnings:   warnings,
	}, nil
}

func (s *Service) buildRecords(doc *document.Document, ed *extract.Document) []page.Record {
	total := len(ed.Pages)
	now := s.now()
	recs := make([]page.Record, total)

	for i, p := range ed.Pages {
		rec := page.New(doc.Path(), i+1, total)
		rec.ContentType = ed.ContentType
		rec.Division = doc.Division()
		rec.Method = p.Method
		rec.Warning = p.Warning
		rec.IndexedAt = now
		rec.Text = page.Truncate(textproc.Clean(p.Text))

		if rec.Text == "" {
			rec.Method = page.MethodEmpty
			rec.Language = textproc.LangUnknown
			if rec.Warning == "" {
				rec.Warning = "no text found"
			}
		} else {
			rec.Language = textproc.DetectLanguage(rec.Text)
		}
		recs[i] = rec
	}
	return recs
}

// embed fills every record's vector. Pages whose text cannot be embedded are
// degraded to empty pages carried by their placeholder.
func (s *Service) embed(ctx context.Context, recs []page.Record) error {
	texts := make([]string, len(recs))
	for i := range recs {
		texts[i] = embeddingText(&recs[i])
	}

	vecs, errs, err := s.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return err
	}

	for i := range recs {
		if errs[i] == nil {
			recs[i].Vector = vecs[i]
			continue
		}

		rec := &recs[i]
		if rec.Text == "" {
			return fmt.Errorf("%w: page %d placeholder: %v", domain.ErrEmbeddingUnavailable, rec.PageNumber, errs[i])
		}

		s.logger.Warn("Page embedding failed, degrading to empty page",
			zap.String("path", rec.FilePath),
			zap.Int("page", rec.PageNumber),
			zap.Error(errs[i]),
		)
		rec.Text = ""
		rec.Method = page.MethodEmpty
		rec.Language = textproc.LangUnknown
		rec.Warning = joinWarn(rec.Warning, warnEmbeddingFailed)

		vec, err := s.embedder.EmbedOne(ctx, embeddingText(rec))
		if err != nil {
			return fmt.Errorf("%w: page %d placeholder: %v", domain.ErrEmbeddingUnavailable, rec.PageNumber, err)
		}
		rec.Vector = vec
	}
	return nil
}

func (s *Service) upsert(ctx context.Context, recs []page.Record) error {
	if err := s.vector.Upsert(ctx, recs); err != nil {
		return fmt.Errorf("%w: %s upsert: %v", domain.ErrVectorUnavailable, s.vector.Name(), err)
	}
	if s.keyword != nil {
		if err := s.keyword.Upsert(ctx, recs); err != nil {
			s.rollback(ctx, recs)
			return fmt.Errorf("%w: %s upsert: %v", domain.ErrKeywordUnavailable, s.keyword.Name(), err)
		}
	}
	return nil
}

// rollback drops pages whose keyword write failed from both indexes, so no
// page is served by one index with text the other does not have. The
// document is then marked failed and fully re-indexed on the next pass.
func (s *Service) rollback(ctx context.Context, recs []page.Record) {
	ctx = context.WithoutCancel(ctx)
	ids := make([]string, len(recs))
	for i := range recs {
		ids[i] = recs[i].ID
	}
	if err := s.vector.Delete(ctx, ids); err != nil {
		s.logger.Error("Failed to roll back vector entries",
			zap.String("backend", s.vector.Name()),
			zap.Int("pages", len(ids)),
			zap.Error(err),
		)
	}
	if err := s.keyword.Delete(ctx, ids); err != nil {
		s.logger.Warn("Failed to drop keyword entries after failed upsert",
			zap.String("backend", s.keyword.Name()),
			zap.Int("pages", len(ids)),
			zap.Error(err),
		)
	}
}

func (s *Service) deletePages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.vector.Delete(ctx, ids); err != nil {
		return fmt.Errorf("%w: %s delete: %v", domain.ErrVectorUnavailable, s.vector.Name(), err)
	}
	if s.keyword != nil {
		if err := s.keyword.Delete(ctx, ids); err != nil {
			return fmt.Errorf("%w: %s delete: %v", domain.ErrKeywordUnavailable, s.keyword.Name(), err)
		}
	}
	return nil
}

func (s *Service) skipped(d *document.Document) Result {
	s.logger.Debug("Document unchanged, skipping", zap.String("path", d.Path()))
	return Result{
		DocumentID: d.ID(),
		Division:   d.Division(),
		Pages:      d.TotalPages(),
		Warnings:   d.Warnings(),
		Skipped:    true,
	}
}

// Resolve finds a document by document id or by the id of one of its pages.
func (s *Service) Resolve(ctx context.Context, id string) (document.Document, error) {
	d, err := s.catalog.Get(ctx, id)
	if err == nil || !errors.Is(err, domain.ErrDocumentNotFound) || s.lookup == nil {
		return d, err
	}

	rec, ok, lerr := s.lookup.Page(ctx, id)
	if lerr != nil {
		return document.Document{}, fmt.Errorf("lookup page: %w", lerr)
	}
	if !ok {
		return document.Document{}, domain.ErrDocumentNotFound
	}
	return s.catalog.Get(ctx, rec.DocumentID)
}

// DocumentByPath returns the catalog entry for path.
func (s *Service) DocumentByPath(ctx context.Context, path string) (document.Document, error) {
	return s.catalog.GetByPath(ctx, filepath.Clean(path))
}

// Remove deletes every page of d from both indexes and drops it from the catalog.
func (s *Service) Remove(ctx context.Context, d *document.Document) error {
	if err := s.deletePages(ctx, d.PageIDs()); err != nil {
		return err
	}
	if err := s.catalog.Delete(ctx, d.ID()); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.logger.Info("Document removed",
		zap.String("path", d.Path()),
		zap.String("division", d.Division()),
		zap.Int("pages", d.TotalPages()),
	)
	return nil
}

// RemovePath removes the document indexed for path, if any.
func (s *Service) RemovePath(ctx context.Context, path string) (bool, error) {
	d, err := s.catalog.GetByPath(ctx, filepath.Clean(path))
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load document: %w", err)
	}
	if err := s.Remove(ctx, &d); err != nil {
		return false, err
	}
	return true, nil
}

// ErrorCode maps an indexing error to the code recorded on its job.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfigurationMismatch):
		return job.CodeConfigMismatch
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return job.CodeUnsupported
	case errors.Is(err, domain.ErrExtractionFailure):
		return job.CodeExtraction
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return job.CodeEmbedding
	case errors.Is(err, domain.ErrVectorUnavailable):
		return job.CodeVector
	case errors.Is(err, domain.ErrKeywordUnavailable):
		return job.CodeKeyword
	case errors.Is(err, context.Canceled):
		return job.CodeInterrupted
	}
	return job.CodeInternal
}

func embeddingText(rec *page.Record) string {
	if rec.Text != "" {
		return rec.Text
	}
	return page.Placeholder(rec.FileName, rec.PageNumber)
}

func contentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
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
