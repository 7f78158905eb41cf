package result

import "github.com/kailas-cloud/pagedex/internal/domain/page"

// Result is a single ranked page hit.
type Result struct {
	page     page.Record
	score    float64
	semantic float64
	keyword  float64
}

// New creates a search result. Sub-scores are normalized to [0,1].
func New(rec page.Record, score, semantic, keyword float64) Result {
	return Result{page: rec, score: score, semantic: semantic, keyword: keyword}
}

// ID returns the page identifier.
func (r Result) ID() string { return r.page.ID }

// Page returns the page metadata and text.
func (r Result) Page() page.Record { return r.page }

// Score returns the final relevance score.
func (r Result) Score() float64 { return r.score }

// SemanticScore returns the normalized vector similarity, 0 when absent.
func (r Result) SemanticScore() float64 { return r.semantic }

// KeywordScore returns the normalized keyword score, 0 when absent.
func (r Result) KeywordScore() float64 { return r.keyword }

// WithScore returns a copy with the final score replaced.
func (r Result) WithScore(score float64) Result {
	r.score = score
	return r
}

// Set is the outcome of one query.
type Set struct {
	Results        []Result
	Degraded       bool
	DegradedReason string
}

// Hit is a raw backend match before normalization and fusion. Score is the
// backend's native value: cosine similarity for vector indexes, BM25 for
// keyword indexes.
type Hit struct {
	Page  page.Record
	Score float64
}
