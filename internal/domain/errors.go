package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrJobNotFound signals a missing indexing job.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidRequest signals a malformed or out-of-range request parameter.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrForbidden signals that the caller's scope does not cover the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrUnsupportedFormat signals a file extension with no registered extractor.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrQueueFull signals that the ingestion queue rejected a task.
	ErrQueueFull = errors.New("ingestion queue full")

	// ErrExtractionFailure signals that a whole document could not be read.
	ErrExtractionFailure = errors.New("extraction failure")
	// ErrEmbeddingUnavailable signals an embedding backend failure.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
	// ErrVectorUnavailable signals a vector index backend failure.
	ErrVectorUnavailable = errors.New("vector backend unavailable")
	// ErrKeywordUnavailable signals a keyword index backend failure.
	ErrKeywordUnavailable = errors.New("keyword backend unavailable")
	// ErrServiceUnavailable signals that no backend could answer a query.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrConfigurationMismatch signals that the configured embedding model differs from the index stamp.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	// ErrStaleJob signals a running job that exceeded its maximum duration.
	ErrStaleJob = errors.New("stale lock timeout")
)

// PageWarning is a non-fatal problem on a single page. The page is indexed with empty text.
type PageWarning struct {
	Page   int
	Reason string
}

func (w PageWarning) Error() string {
	return fmt.Sprintf("page %d: %s", w.Page, w.Reason)
}

// MismatchError describes which stamp fields differ.
type MismatchError struct {
	Stored     IndexStamp
	Configured IndexStamp
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: index built with %s (dim %d), configured %s (dim %d)",
		ErrConfigurationMismatch.Error(),
		e.Stored.Model, e.Stored.Dimensions,
		e.Configured.Model, e.Configured.Dimensions,
	)
}

func (e *MismatchError) Unwrap() error { return ErrConfigurationMismatch }
