package domain

import "time"

// StampVersion is bumped whenever the page record layout changes incompatibly.
const StampVersion = 1

// Default embedding model settings.
const (
	DefaultEmbeddingModel      = "paraphrase-multilingual-MiniLM-L12-v2"
	DefaultEmbeddingDimensions = 384
)

// IndexStamp records which embedding model built the index.
// Vectors from different models are not comparable, so a mismatch blocks
// queries and writes until the index is rebuilt.
type IndexStamp struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewIndexStamp creates a stamp for the configured model.
func NewIndexStamp(model string, dimensions int) IndexStamp {
	return IndexStamp{
		Model:      model,
		Dimensions: dimensions,
		Version:    StampVersion,
		CreatedAt:  time.Now().UTC(),
	}
}

// Matches reports whether two stamps describe the same vector space.
func (s IndexStamp) Matches(other IndexStamp) bool {
	return s.Model == other.Model && s.Dimensions == other.Dimensions && s.Version == other.Version
}

// Verify returns a *MismatchError when stored differs from s.
func (s IndexStamp) Verify(stored IndexStamp) error {
	if s.Matches(stored) {
		return nil
	}
	return &MismatchError{Stored: stored, Configured: s}
}
