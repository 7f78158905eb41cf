package db

import "github.com/kailas-cloud/pagedex/internal/domain/search/filter"

// KNNQuery is a pre-filtered vector similarity query.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// TextQuery is a BM25 query over one TEXT field. Query terms are OR-ed.
type TextQuery struct {
	IndexName    string
	TextField    string
	Query        string
	Filters      filter.Expression
	TopK         int
	ReturnFields []string
}

// SearchResult holds the hits of one query in server order.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is one hit. Score is similarity for KNN and BM25 for text.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
