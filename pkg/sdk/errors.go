package pagedex

import "github.com/kailas-cloud/pagedex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound              = domain.ErrNotFound
	ErrDocumentNotFound      = domain.ErrDocumentNotFound
	ErrInvalidRequest        = domain.ErrInvalidRequest
	ErrUnsupportedFormat     = domain.ErrUnsupportedFormat
	ErrExtractionFailure     = domain.ErrExtractionFailure
	ErrEmbeddingUnavailable  = domain.ErrEmbeddingUnavailable
	ErrVectorUnavailable     = domain.ErrVectorUnavailable
	ErrKeywordUnavailable    = domain.ErrKeywordUnavailable
	ErrServiceUnavailable    = domain.ErrServiceUnavailable
	ErrConfigurationMismatch = domain.ErrConfigurationMismatch
)
