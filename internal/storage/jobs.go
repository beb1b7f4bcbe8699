package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobRecord is the persisted state of one ingestion job.
type JobRecord struct {
	ID         string    `json:"id"`
	SourceType string    `json:"source_type"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SaveJob inserts or updates a job record. Called on every status transition
// so job state survives restarts.
func (d *DB) SaveJob(ctx context.Context, job *JobRecord) error {
	job.UpdatedAt = time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO jobs (id, source_type, filename, status, error, document_id, chunk_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   error = excluded.error,
		   document_id = excluded.document_id,
		   chunk_count = excluded.chunk_count,
		   updated_at = excluded.updated_at`,
		job.ID, job.SourceType, job.Filename, job.Status, job.Error, job.DocumentID,
		job.ChunkCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns a job record by ID.
func (d *DB) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	var job JobRecord
	var jobErr, docID sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, source_type, filename, status, error, document_id, chunk_count, created_at, updated_at
		 FROM jobs WHERE id = ?`, id).
		Scan(&job.ID, &job.SourceType, &job.Filename, &job.Status, &jobErr, &docID,
			&job.ChunkCount, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	job.Error = jobErr.String
	job.DocumentID = docID.String
	return &job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (d *DB) ListJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, source_type, filename, status, error, document_id, chunk_count, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*JobRecord, 0, limit)
	for rows.Next() {
		var job JobRecord
		var jobErr, docID sql.NullString
		if err := rows.Scan(&job.ID, &job.SourceType, &job.Filename, &job.Status, &jobErr, &docID,
			&job.ChunkCount, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		job.Error = jobErr.String
		job.DocumentID = docID.String
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
