package mode

// Mode is the search strategy.
type Mode string

// Search mode constants.
const (
	// Hybrid fuses semantic and keyword scores.
	Hybrid   Mode = "hybrid"
	Semantic Mode = "semantic"
	Keyword  Mode = "keyword"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Semantic || m == Keyword
}

// UsesVector reports whether the mode queries the vector index.
func (m Mode) UsesVector() bool { return m == Hybrid || m == Semantic }

// UsesKeyword reports whether the mode queries the keyword index.
func (m Mode) UsesKeyword() bool { return m == Hybrid || m == Keyword }
