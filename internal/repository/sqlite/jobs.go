package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/job"
)

// Jobs persists job records so they survive restarts within retention.
type Jobs struct {
	store *Store
}

// Save inserts or replaces a job.
func (j *Jobs) Save(ctx context.Context, jb *job.Job) error {
	data, err := json.Marshal(jb)
	if err != nil {
		return fmt.Errorf("marshalling job %s: %w", jb.ID, err)
	}
	_, err = j.store.db.ExecContext(ctx, `
		INSERT INTO jobs (id, parent_id, status, queued_at, finished_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			data = excluded.data`,
		jb.ID, jb.ParentID, string(jb.Status), toNanos(jb.QueuedAt), toNanos(jb.FinishedAt), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", jb.ID, err)
	}
	return nil
}

// Get returns a job or domain.ErrJobNotFound.
func (j *Jobs) Get(ctx context.Context, id string) (*job.Job, error) {
	var data string
	err := j.store.db.QueryRowContext(ctx, "SELECT data FROM jobs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return decodeJob(data)
}

// List returns jobs newest first. An empty status lists every status;
// limit <= 0 lists all.
func (j *Jobs) List(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	q := "SELECT data FROM jobs"
	var args []any
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY queued_at DESC, id"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jb, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		out = append(out, jb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return out, nil
}

// PruneFinishedBefore deletes terminal jobs finished before cutoff and
// returns how many were removed.
func (j *Jobs) PruneFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := j.store.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE status IN (?, ?) AND finished_at > 0 AND finished_at < ?",
		string(job.StatusSucceeded), string(job.StatusFailed), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func decodeJob(data string) (*job.Job, error) {
	var jb job.Job
	if err := json.Unmarshal([]byte(data), &jb); err != nil {
		return nil, fmt.Errorf("unmarshalling job: %w", err)
	}
	return &jb, nil
}
