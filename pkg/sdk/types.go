package pagedex

import "time"

// SearchMode controls the search algorithm.
type SearchMode string

// Search mode constants.
const (
	ModeHybrid   SearchMode = "hybrid"
	ModeSemantic SearchMode = "semantic"
	ModeKeyword  SearchMode = "keyword"
)

// AllDivisions searches every division.
const AllDivisions = "all"

// SearchRequest is one query. Empty Mode means hybrid, zero Limit means 20
// and empty Division means every division.
type SearchRequest struct {
	Query    string
	Mode     SearchMode
	Division string
	FileType string
	Limit    int
}

// Page is a single ranked page hit.
type Page struct {
	ID          string
	DocumentID  string
	FilePath    string
	FileName    string
	Division    string
	PageNumber  int
	TotalPages  int
	Text        string
	Snippet     string
	Language    string
	Score       float64
	IsFirstPage bool
	IsLastPage  bool
}

// SearchResponse holds the ranked pages of a query. Degraded is set when one
// backend failed during a hybrid query and the other answered alone.
type SearchResponse struct {
	Results        []Page
	Degraded       bool
	DegradedReason string
	Took           time.Duration
}

// IndexResult describes one indexed file.
type IndexResult struct {
	Path       string
	DocumentID string
	Division   string
	Pages      int
	Warnings   []string
	Skipped    bool // unchanged since the last run
	Tokens     int  // embedding tokens billed for this file
}

// ReindexOptions controls a bulk run over a directory.
type ReindexOptions struct {
	// Dir defaults to the documents root. Relative paths resolve under it.
	Dir       string
	Recursive bool
	Force     bool
	// Workers bounds parallel files. Zero uses the engine's worker count.
	Workers int
	// DryRun lists the files without indexing them.
	DryRun bool
	// OnFile, when set, is called after each file from the worker goroutine.
	OnFile func(FileResult)
}

// FileResult is the outcome of one file of a bulk run.
type FileResult struct {
	Path   string
	Result IndexResult
	Err    error
}

// ReindexReport summarizes a bulk run.
type ReindexReport struct {
	Files   []string
	Indexed int
	Skipped int
	Failed  []FileResult
}

// IndexStamp identifies the embedding model the index was built with.
type IndexStamp struct {
	Model      string
	Dimensions int
	Version    int
	CreatedAt  time.Time
}

// Status reports the health of every component.
type Status struct {
	Status             string // "ok", "degraded", "error"
	VectorBackend      string
	KeywordBackend     string
	VectorConnected    bool
	KeywordConnected   bool
	EmbeddingConnected bool
	NumEntities        int
	WatcherActive      bool
	QueueDepth         int
	Stamp              IndexStamp
	StampError         string
}

// Stats aggregates the catalog.
type Stats struct {
	TotalPages          int
	TotalDocuments      int
	DocumentsByStatus   map[string]int
	DocumentsByDivision map[string]int
}
