package request

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/pagedex/internal/domain/division"
	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
	"github.com/kailas-cloud/pagedex/internal/domain/search/mode"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultLimit   = 20
	MaxLimit       = 100
	// CandidateFactor multiplies the limit to size per-backend candidate lists.
	CandidateFactor = 3
	MaxCandidates   = 300
)

// Request is a validated search query with its effective access scope.
type Request struct {
	query      string
	searchMode mode.Mode
	scope      division.Scope
	fileType   string
	limit      int
}

// New validates and normalizes search parameters.
// Defaults: mode=hybrid, limit=20. fileType is an extension with or without the dot.
func New(query string, m mode.Mode, scope division.Scope, fileType string, limit int) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if m == "" {
		m = mode.Hybrid
	}
	if !m.IsValid() {
		return Request{}, fmt.Errorf("invalid search mode: %q", m)
	}
	if limit < 0 || limit > MaxLimit {
		return Request{}, fmt.Errorf("limit must be between 1 and %d", MaxLimit)
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	return Request{
		query:      query,
		searchMode: m,
		scope:      scope,
		fileType:   strings.TrimPrefix(strings.ToLower(strings.TrimSpace(fileType)), "."),
		limit:      limit,
	}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// Mode returns the search strategy.
func (r *Request) Mode() mode.Mode { return r.searchMode }

// Scope returns the effective division scope.
func (r *Request) Scope() division.Scope { return r.scope }

// FileType returns the extension filter, empty for any.
func (r *Request) FileType() string { return r.fileType }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// Candidates returns how many hits to request from each backend before fusion.
func (r *Request) Candidates() int {
	return min(r.limit*CandidateFactor, MaxCandidates)
}

// Filters returns the backend pre-filter for this request.
func (r *Request) Filters() filter.Expression {
	return filter.ForPages(r.scope.Division, r.fileType)
}
