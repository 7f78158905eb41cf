package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/division"
	"github.com/kailas-cloud/pagedex/internal/domain/document"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/mode"
	"github.com/kailas-cloud/pagedex/internal/domain/search/request"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/pagedex/internal/logger"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/jobs"
	searchuc "github.com/kailas-cloud/pagedex/internal/usecase/search"
)

const (
	maxBodyBytes     = 1 << 20
	defaultJobsLimit = 50
	maxJobsLimit     = 500
	queueRetryAfter  = "5"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Deps groups the services behind the API.
type Deps struct {
	Ingest    Ingestor
	Jobs      JobReader
	Documents Documents
	Search    Searcher
	Health    Health
	Divisions DivisionResolver
}

// Server serves the pagedex HTTP API.
type Server struct {
	ingest        Ingestor
	jobs          JobReader
	documents     Documents
	search        Searcher
	health        Health
	divisions     DivisionResolver
	root          string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server for documents under root.
func NewServer(d Deps, root string, logger *zap.Logger) *Server {
	s := &Server{
		ingest:    d.Ingest,
		jobs:      d.Jobs,
		documents: d.Documents,
		search:    d.Search,
		health:    d.Health,
		divisions: d.Divisions,
		root:      filepath.Clean(root),
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		serviceUnavailableHandler,
		queueFullHandler,
		sentinelHandler(domain.ErrConfigurationMismatch, http.StatusConflict, CodeConfigMismatch),
		sentinelHandler(domain.ErrForbidden, http.StatusForbidden, CodeForbidden),
		sentinelHandler(domain.ErrJobNotFound, http.StatusNotFound, CodeJobNotFound),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, CodeDocumentNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, CodeValidationFailed),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrExtractionFailure, http.StatusUnprocessableEntity, CodeExtractionFailure),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, CodeEmbeddingUnavailable),
		sentinelHandler(domain.ErrVectorUnavailable, http.StatusServiceUnavailable, CodeVectorUnavailable),
		sentinelHandler(domain.ErrKeywordUnavailable, http.StatusServiceUnavailable, CodeKeywordUnavailable),
	}
	return s
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/status", s.Status)
	r.Get("/stats", s.Stats)
	r.Post("/search", s.Search)

	r.Post("/index/file", s.IndexFile)
	r.Delete("/index/file", s.RemoveFile)
	r.Post("/index/directory", s.IndexDirectory)

	r.Get("/document/{id}", s.GetDocument)
	r.Delete("/document/{id}", s.DeleteDocument)

	r.Get("/jobs", s.ListJobs)
	r.Get("/jobs/{id}", s.GetJob)
	r.Post("/jobs/{id}/retry", s.RetryJob)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status)})
}

// Status handles GET /status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	writeJSON(w, http.StatusOK, statusToDTO(&report))
}

// Stats handles GET /stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.health.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalPages:          st.TotalPages,
		TotalDocuments:      st.TotalDocuments,
		DocumentsByStatus:   nonNil(st.ByStatus),
		DocumentsByDivision: nonNil(st.ByDivision),
	})
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m := req.SearchMode
	if m == "" {
		m = req.Mode
	}

	scope, err := division.Resolve(PrincipalFromContext(r.Context()), req.Division)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	sreq, err := request.New(req.Query, mode.Mode(strings.ToLower(m)), scope, req.FileType, req.Limit)
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err))
		return
	}

	start := time.Now()
	set, err := s.search.Search(r.Context(), sreq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]SearchResultItem, len(set.Results))
	for i := range set.Results {
		items[i] = searchResultToDTO(&set.Results[i])
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Query:          sreq.Query(),
		Mode:           string(sreq.Mode()),
		Results:        items,
		TotalResults:   len(items),
		Degraded:       set.Degraded,
		DegradedReason: set.DegradedReason,
		SearchTimeMS:   float64(time.Since(start).Microseconds()) / 1000,
	})
}

// IndexFile handles POST /index/file.
func (s *Server) IndexFile(w http.ResponseWriter, r *http.Request) {
	var req IndexFileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	path, err := s.resolvePath(req.FilePath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.handleDomainError(w, r, fmt.Errorf("file %s: %w", req.FilePath, domain.ErrNotFound))
		return
	case err != nil:
		s.handleDomainError(w, r, fmt.Errorf("stat file: %w", err))
		return
	case !info.Mode().IsRegular():
		s.handleDomainError(w, r, fmt.Errorf("%w: %s is not a regular file", domain.ErrInvalidRequest, req.FilePath))
		return
	}
	if !s.documents.Supported(path) {
		s.handleDomainError(w, r, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path)))
		return
	}

	// A restricted caller must own both the folder and the target division.
	owner := s.divisions.FromPath(s.root, path)
	div := division.Normalize(req.Division)
	if div == "" {
		div = owner
	}
	p := PrincipalFromContext(r.Context())
	if !division.CanAccess(p, owner) || !division.CanAccess(p, div) {
		s.handleDomainError(w, r, fmt.Errorf("division %s: %w", div, domain.ErrForbidden))
		return
	}

	j, err := s.ingest.SubmitFile(r.Context(), jobs.Spec{
		Kind:     job.KindFile,
		Target:   path,
		Division: div,
		Force:    req.Force,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, IndexFileResponse{JobID: j.ID, Status: j.Status})
}

// IndexDirectory handles POST /index/directory.
func (s *Server) IndexDirectory(w http.ResponseWriter, r *http.Request) {
	var req IndexDirectoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !PrincipalFromContext(r.Context()).Unrestricted {
		s.handleDomainError(w, r, fmt.Errorf("directory indexing requires an unrestricted caller: %w", domain.ErrForbidden))
		return
	}

	dir, err := s.resolvePath(req.DirectoryPath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	j, err := s.ingest.SubmitDirectory(r.Context(), jobs.Spec{
		Kind:      job.KindDirectory,
		Target:    dir,
		Force:     req.Force,
		Recursive: req.Recursive,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, IndexDirectoryResponse{JobID: j.ID, FilesQueued: j.FilesQueued})
}

// GetDocument handles GET /document/{id}. The id may be a document id or
// the id of any of its pages.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	d, err := s.accessibleDocument(r, id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	// The file may have been swapped for a link since it was indexed.
	if _, err := s.resolvePath(d.Path()); err != nil {
		s.handleDomainError(w, r, fmt.Errorf("file %s: %w", d.Path(), domain.ErrForbidden))
		return
	}

	f, err := os.Open(d.Path())
	if errors.Is(err, fs.ErrNotExist) {
		s.handleDomainError(w, r, fmt.Errorf("file %s is gone: %w", d.Path(), domain.ErrDocumentNotFound))
		return
	}
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("open document: %w", err))
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("stat document: %w", err))
		return
	}

	ct := d.ContentType()
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", d.Name()))
	http.ServeContent(w, r, d.Name(), info.ModTime(), f)
}

// DeleteDocument handles DELETE /document/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	d, err := s.accessibleDocument(r, id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	s.remove(w, r, &d)
}

// RemoveFile handles DELETE /index/file?file_path=.
func (s *Server) RemoveFile(w http.ResponseWriter, r *http.Request) {
	var raw string
	if err := runtime.BindQueryParameter("form", true, true, "file_path", r.URL.Query(), &raw); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid format for parameter file_path: "+err.Error())
		return
	}

	path, err := s.resolvePath(raw)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	d, err := s.documents.DocumentByPath(r.Context(), path)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !division.CanAccess(PrincipalFromContext(r.Context()), d.Division()) {
		s.handleDomainError(w, r, fmt.Errorf("division %s: %w", d.Division(), domain.ErrForbidden))
		return
	}
	s.remove(w, r, &d)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request, d *document.Document) {
	removed, err := s.ingest.Remove(r.Context(), d.Path())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !removed {
		s.handleDomainError(w, r, domain.ErrDocumentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, DeleteDocumentResponse{
		DocumentID:   d.ID(),
		FilePath:     d.Path(),
		PagesRemoved: d.TotalPages(),
	})
}

// GetJob handles GET /jobs/{id}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !jobVisible(PrincipalFromContext(r.Context()), j) {
		s.handleDomainError(w, r, domain.ErrJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ListJobs handles GET /jobs.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	var params ListJobsParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "status", q, &params.Status); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid format for parameter status: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &params.Limit); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid format for parameter limit: "+err.Error())
		return
	}

	limit := defaultJobsLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	if limit < 1 || limit > maxJobsLimit {
		s.handleDomainError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidRequest, maxJobsLimit))
		return
	}
	var status job.Status
	if params.Status != nil {
		status = job.Status(*params.Status)
	}

	list, err := s.jobs.List(r.Context(), status, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	p := PrincipalFromContext(r.Context())
	visible := make([]*job.Job, 0, len(list))
	for _, j := range list {
		if jobVisible(p, j) {
			visible = append(visible, j)
		}
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: visible, Total: len(visible)})
}

// RetryJob handles POST /jobs/{id}/retry.
func (s *Server) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	if !PrincipalFromContext(r.Context()).Unrestricted {
		s.handleDomainError(w, r, fmt.Errorf("job retry requires an unrestricted caller: %w", domain.ErrForbidden))
		return
	}

	j, err := s.ingest.Retry(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, IndexFileResponse{JobID: j.ID, Status: j.Status})
}

func (s *Server) accessibleDocument(r *http.Request, id string) (document.Document, error) {
	d, err := s.documents.Resolve(r.Context(), id)
	if err != nil {
		return document.Document{}, err
	}
	if !division.CanAccess(PrincipalFromContext(r.Context()), d.Division()) {
		return document.Document{}, fmt.Errorf("division %s: %w", d.Division(), domain.ErrForbidden)
	}
	return d, nil
}

// resolvePath makes raw absolute under the documents root and rejects
// anything that escapes it.
func (s *Server) resolvePath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: path is required", domain.ErrInvalidRequest)
	}
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)

	outside := fmt.Errorf("%w: %s is outside the documents root", domain.ErrInvalidRequest, raw)
	if !within(s.root, p) {
		return "", outside
	}
	// Symlinks under the root may point anywhere.
	root, err := evalExisting(s.root)
	if err != nil {
		return "", fmt.Errorf("resolve documents root: %w", err)
	}
	resolved, err := evalExisting(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrInvalidRequest, raw, err)
	}
	if !within(root, resolved) {
		return "", outside
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// appends the missing tail unchanged, so paths of deleted files still resolve.
func evalExisting(p string) (string, error) {
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		tail = append([]string{filepath.Base(p)}, tail...)
		p = parent
	}
}

func jobVisible(p division.Principal, j *job.Job) bool {
	return p.Unrestricted || (j.Division != "" && division.CanAccess(p, j.Division))
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
		return "", false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// clientErrors carry caller-supplied detail that is safe to echo back.
var clientErrors = []error{
	domain.ErrInvalidRequest,
	domain.ErrUnsupportedFormat,
	domain.ErrForbidden,
	domain.ErrNotFound,
}

// safeDomainMessage returns a message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, s := range clientErrors {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrJobNotFound,
		domain.ErrConfigurationMismatch,
		domain.ErrQueueFull,
		domain.ErrExtractionFailure,
		domain.ErrServiceUnavailable,
		domain.ErrEmbeddingUnavailable,
		domain.ErrVectorUnavailable,
		domain.ErrKeywordUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// serviceUnavailableHandler reports which backend made a query impossible.
func serviceUnavailableHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
		Code:    CodeServiceUnavailable,
		Message: msg,
		Reason:  searchuc.ReasonCode(err),
	})
	return true
}

func queueFullHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrQueueFull) {
		return false
	}
	w.Header().Set("Retry-After", queueRetryAfter)
	writeError(w, http.StatusServiceUnavailable, CodeQueueFull, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	msg := safeDomainMessage(err)
	noteFailure(r.Context(), msg)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Debug("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func statusToDTO(r *healthuc.Report) StatusResponse {
	return StatusResponse{
		Status:                    string(r.Status),
		VectorBackend:             r.VectorBackend,
		KeywordBackend:            r.KeywordBackend,
		VectorBackendConnected:    r.VectorConnected,
		KeywordBackendConnected:   r.KeywordConnected,
		EmbeddingBackendConnected: r.EmbeddingConnected,
		CollectionStats:           CollectionStats{NumEntities: r.NumEntities},
		FileWatcherActive:         r.WatcherActive,
		IndexStamp: IndexStamp{
			Model:      r.Stamp.Model,
			Dimensions: r.Stamp.Dimensions,
			Version:    r.Stamp.Version,
			CreatedAt:  r.Stamp.CreatedAt,
			Error:      r.StampError,
		},
		QueueDepth: r.QueueDepth,
	}
}

func searchResultToDTO(r *result.Result) SearchResultItem {
	p := r.Page()
	return SearchResultItem{
		ID:          p.ID,
		FilePath:    p.FilePath,
		FileName:    p.FileName,
		PageNumber:  p.PageNumber,
		TotalPages:  p.TotalPages,
		TextContent: p.Text,
		TextSnippet: page.Snippet(p.Text),
		Language:    p.Language,
		Division:    p.Division,
		Score:       r.Score(),
		IsFirstPage: p.IsFirst(),
		IsLastPage:  p.IsLast(),
	}
}

func nonNil(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
