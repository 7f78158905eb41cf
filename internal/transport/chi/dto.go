package chi

import (
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain/job"
)

// ErrorCode is the machine-readable error identifier of an API response.
type ErrorCode string

// API error codes.
const (
	CodeBadRequest           ErrorCode = "bad_request"
	CodeValidationFailed     ErrorCode = "validation_failed"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeForbidden            ErrorCode = "forbidden"
	CodeNotFound             ErrorCode = "not_found"
	CodeDocumentNotFound     ErrorCode = "document_not_found"
	CodeJobNotFound          ErrorCode = "job_not_found"
	CodeExtractionFailure    ErrorCode = "extraction_failure"
	CodeEmbeddingUnavailable ErrorCode = "embedding_backend_unavailable"
	CodeVectorUnavailable    ErrorCode = "vector_backend_unavailable"
	CodeKeywordUnavailable   ErrorCode = "keyword_backend_unavailable"
	CodeServiceUnavailable   ErrorCode = "service_unavailable"
	CodeConfigMismatch       ErrorCode = "configuration_mismatch"
	CodeQueueFull            ErrorCode = "queue_full"
	CodeInternalError        ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Reason  string    `json:"reason,omitempty"`
}

// IndexFileRequest is the body of POST /index/file.
type IndexFileRequest struct {
	FilePath string `json:"file_path"`
	Division string `json:"division,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

// IndexFileResponse acknowledges a queued file job.
type IndexFileResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// IndexDirectoryRequest is the body of POST /index/directory.
type IndexDirectoryRequest struct {
	DirectoryPath string `json:"directory_path"`
	Recursive     bool   `json:"recursive"`
	Force         bool   `json:"force,omitempty"`
}

// IndexDirectoryResponse acknowledges a directory fan-out.
type IndexDirectoryResponse struct {
	JobID       string `json:"job_id"`
	FilesQueued int    `json:"files_queued"`
}

// SearchRequest is the body of POST /search. Mode is an alias of SearchMode.
type SearchRequest struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit,omitempty"`
	SearchMode string `json:"search_mode,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Division   string `json:"division,omitempty"`
	FileType   string `json:"file_type,omitempty"`
}

// SearchResultItem is one ranked page.
type SearchResultItem struct {
	ID          string  `json:"id"`
	FilePath    string  `json:"file_path"`
	FileName    string  `json:"file_name"`
	PageNumber  int     `json:"page_number"`
	TotalPages  int     `json:"total_pages"`
	TextContent string  `json:"text_content"`
	TextSnippet string  `json:"text_snippet"`
	Language    string  `json:"language,omitempty"`
	Division    string  `json:"division"`
	Score       float64 `json:"score"`
	IsFirstPage bool    `json:"is_first_page"`
	IsLastPage  bool    `json:"is_last_page"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Query          string             `json:"query"`
	Mode           string             `json:"mode"`
	Results        []SearchResultItem `json:"results"`
	TotalResults   int                `json:"total_results"`
	Degraded       bool               `json:"degraded"`
	DegradedReason string             `json:"degraded_reason,omitempty"`
	SearchTimeMS   float64            `json:"search_time_ms"`
}

// CollectionStats summarizes the vector collection.
type CollectionStats struct {
	NumEntities int `json:"num_entities"`
}

// IndexStamp identifies the embedding model the index was built with.
type IndexStamp struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status                    string          `json:"status"`
	VectorBackend             string          `json:"vector_backend"`
	KeywordBackend            string          `json:"keyword_backend"`
	VectorBackendConnected    bool            `json:"vector_backend_connected"`
	KeywordBackendConnected   bool            `json:"keyword_backend_connected"`
	EmbeddingBackendConnected bool            `json:"embedding_backend_connected"`
	CollectionStats           CollectionStats `json:"collection_stats"`
	FileWatcherActive         bool            `json:"file_watcher_active"`
	IndexStamp                IndexStamp      `json:"index_stamp"`
	QueueDepth                int             `json:"queue_depth"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	TotalPages          int            `json:"total_pages"`
	TotalDocuments      int            `json:"total_documents"`
	DocumentsByStatus   map[string]int `json:"documents_by_status"`
	DocumentsByDivision map[string]int `json:"documents_by_division"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DeleteDocumentResponse reports a removed document.
type DeleteDocumentResponse struct {
	DocumentID   string `json:"document_id"`
	FilePath     string `json:"file_path"`
	PagesRemoved int    `json:"pages_removed"`
}

// JobListResponse is the body of GET /jobs.
type JobListResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Total int        `json:"total"`
}

// ListJobsParams are the query parameters of GET /jobs.
type ListJobsParams struct {
	Status *string
	Limit  *int
}
