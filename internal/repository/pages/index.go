package pages

import (
	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

// HNSWConfig tunes the vector field.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

const (
	keyPrefix   = "pagedex:pages:"
	indexName   = keyPrefix + "idx"
	vectorField = "vector"
)

func pageKey(id string) string { return keyPrefix + id }

// buildIndex describes the page index: TAG fields for every filterable key,
// a TEXT field over the page text when the server supports BM25, and an
// HNSW cosine vector field.
func buildIndex(dim int, textSearch bool, hnsw HNSWConfig) (*db.IndexDefinition, error) {
	b := db.NewIndex(indexName, keyPrefix).
		Tag(page.FieldDivision, page.FieldFileType, page.FieldDocumentID, page.FieldLanguage).
		Numeric(page.FieldPageNumber)
	if textSearch {
		b = b.Text(page.FieldText)
	}
	return b.HNSW(vectorField, db.HNSW{
		Dim:         dim,
		Distance:    db.DistanceCosine,
		M:           hnsw.M,
		EFConstruct: hnsw.EFConstruct,
	}).Build()
}
