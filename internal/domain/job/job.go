package job

import (
	"fmt"
	"time"
)

// Kind distinguishes file jobs from directory fan-out jobs.
type Kind string

// Job kinds.
const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindRemove    Kind = "remove"
)

// Status is the job lifecycle state: queued -> running -> succeeded|failed.
type Status string

// Job statuses.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// IsValid checks if the status is one of the supported values.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Error codes recorded on failed jobs.
const (
	CodeExtraction     = "extraction_failure"
	CodeEmbedding      = "embedding_backend_unavailable"
	CodeVector         = "vector_backend_unavailable"
	CodeKeyword        = "keyword_backend_unavailable"
	CodeConfigMismatch = "configuration_mismatch"
	CodeUnsupported    = "unsupported_format"
	CodeInterrupted    = "interrupted"
	CodeQueueFull      = "queue_full"
	CodeInternal       = "internal_error"
)

// Job is one unit of indexing work.
type Job struct {
	ID         string    `json:"job_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Kind       Kind      `json:"kind"`
	Target     string    `json:"target"`
	Division   string    `json:"division,omitempty"`
	Force      bool      `json:"force"`
	Recursive  bool      `json:"recursive,omitempty"`
	Status     Status    `json:"status"`
	Stale      bool      `json:"stale"`
	Skipped    bool      `json:"skipped"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Pages      int       `json:"pages_processed"`
	Warnings   []string  `json:"warnings,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// Directory jobs only.
	FilesQueued    int `json:"files_queued,omitempty"`
	FilesSucceeded int `json:"files_succeeded,omitempty"`
	FilesFailed    int `json:"files_failed,omitempty"`
	FilesSkipped   int `json:"files_skipped,omitempty"`
}

// New creates a queued job.
func New(id string, kind Kind, target string) *Job {
	return &Job{
		ID:       id,
		Kind:     kind,
		Target:   target,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
}

// Start moves a queued job to running.
func (j *Job) Start(now time.Time) error {
	if j.Status != StatusQueued {
		return fmt.Errorf("cannot start job in status %q", j.Status)
	}
	j.Status = StatusRunning
	j.StartedAt = now
	return nil
}

// Succeed finishes a running job.
func (j *Job) Succeed(now time.Time, pages int, warnings []string, skipped bool) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("cannot complete job in status %q", j.Status)
	}
	j.Status = StatusSucceeded
	j.Pages = pages
	j.Warnings = warnings
	j.Skipped = skipped
	j.FinishedAt = now
	return nil
}

// Fail finishes a queued or running job with an error.
func (j *Job) Fail(now time.Time, code, reason string) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("cannot fail job in status %q", j.Status)
	}
	j.Status = StatusFailed
	j.ErrorCode = code
	j.Error = reason
	j.FinishedAt = now
	return nil
}

// Child records a finished child file job on a directory job. The directory
// job succeeds once every queued file is accounted for.
func (j *Job) Child(now time.Time, child *Job) {
	switch {
	case child.Status == StatusFailed:
		j.FilesFailed++
	case child.Skipped:
		j.FilesSkipped++
		j.FilesSucceeded++
	default:
		j.FilesSucceeded++
	}
	j.Pages += child.Pages
	if j.Status == StatusRunning && j.FilesSucceeded+j.FilesFailed >= j.FilesQueued {
		j.Status = StatusSucceeded
		j.FinishedAt = now
	}
}

// Duration returns how long the job has been (or was) running.
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if !j.FinishedAt.IsZero() {
		return j.FinishedAt.Sub(j.StartedAt)
	}
	return now.Sub(j.StartedAt)
}

// Expired reports whether a terminal job is older than retention.
func (j *Job) Expired(now time.Time, retention time.Duration) bool {
	return j.Status.IsTerminal() && now.Sub(j.FinishedAt) > retention
}

// Clone returns a deep copy safe to hand out of a lock.
func (j *Job) Clone() *Job {
	c := *j
	if j.Warnings != nil {
		c.Warnings = append([]string(nil), j.Warnings...)
	}
	return &c
}
