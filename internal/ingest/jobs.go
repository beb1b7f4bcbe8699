// Package ingest runs the document ingestion pipeline as cancellable
// background jobs: extract, tag, chunk, embed, index.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/storage"
)

// Job statuses, in pipeline order followed by the terminal states.
const (
	StatusQueued    = "queued"
	StatusParsing   = "parsing"
	StatusTagging   = "tagging"
	StatusEmbedding = "embedding"
	StatusIndexing  = "indexing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job is one running or finished ingestion. Active jobs live in memory for
// cancellation; every status transition is also persisted so job history
// survives restarts.
type Job struct {
	mu     sync.Mutex
	record storage.JobRecord
	cancel context.CancelFunc
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() storage.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.record
}

// Manager tracks active jobs and persists their state.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Job
	db     *storage.DB
	logger *zap.Logger
}

// NewManager returns a job manager backed by the application database.
func NewManager(db *storage.DB, logger *zap.Logger) *Manager {
	return &Manager{
		active: make(map[string]*Job),
		db:     db,
		logger: logger,
	}
}

// begin registers a new queued job and returns it with its cancellable
// context.
func (m *Manager) begin(sourceType, filename string) (*Job, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		record: storage.JobRecord{
			ID:         uuid.NewString(),
			SourceType: sourceType,
			Filename:   filename,
			Status:     StatusQueued,
			CreatedAt:  time.Now(),
		},
		cancel: cancel,
	}
	m.mu.Lock()
	m.active[job.record.ID] = job
	m.mu.Unlock()
	m.persist(job)
	return job, ctx
}

// setStatus transitions the job and persists the new state.
func (m *Manager) setStatus(job *Job, status string) {
	job.mu.Lock()
	job.record.Status = status
	job.mu.Unlock()
	m.persist(job)
}

// finish moves the job to a terminal state and drops it from the active set.
func (m *Manager) finish(job *Job, status, errMsg, documentID string, chunkCount int) {
	job.mu.Lock()
	job.record.Status = status
	job.record.Error = errMsg
	job.record.DocumentID = documentID
	job.record.ChunkCount = chunkCount
	id := job.record.ID
	job.mu.Unlock()
	m.persist(job)

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *Manager) persist(job *Job) {
	record := job.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.db.SaveJob(ctx, &record); err != nil {
		m.logger.Warn("failed to persist job", zap.String("job_id", record.ID), zap.Error(err))
	}
}

// Get returns a job's current state, preferring the live in-memory job.
func (m *Manager) Get(ctx context.Context, id string) (*storage.JobRecord, error) {
	m.mu.Lock()
	job, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		record := job.Snapshot()
		return &record, nil
	}
	return m.db.GetJob(ctx, id)
}

// List returns recent jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*storage.JobRecord, error) {
	return m.db.ListJobs(ctx, limit)
}

// Cancel requests cancellation of an active job. Returns false when the job
// is not active (unknown or already finished).
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	job, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	return true
}
