package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
)

// Tagger generates descriptive tags for a document. It never fails; a tagger
// that cannot produce tags returns none.
type Tagger interface {
	GenerateTags(ctx context.Context, content, filename string) []string
}

// Metrics records pipeline measurements. May be nil.
type Metrics interface {
	Record(eventType string, duration time.Duration, metadata map[string]string)
}

// Config holds the ingestion tunables.
type Config struct {
	EmbedBatchSize int
	// DocumentPrefix is prepended to each chunk before embedding
	// (nomic-style task prefix).
	DocumentPrefix string
	AutoTag        bool
}

// Pipeline ingests documents in the background. Re-ingesting a source with
// the same filename and type replaces the earlier document.
type Pipeline struct {
	store     *store.Store
	embedder  llm.Embedder
	tagger    Tagger
	splitter  *chunker.Chunker
	extractor *extract.Extractor
	jobs      *Manager
	metrics   Metrics
	cfg       Config
	logger    *zap.Logger
}

// NewPipeline returns an ingestion pipeline. tagger and metrics may be nil.
func NewPipeline(st *store.Store, embedder llm.Embedder, tagger Tagger, splitter *chunker.Chunker, jobs *Manager, metrics Metrics, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	return &Pipeline{
		store:     st,
		embedder:  embedder,
		tagger:    tagger,
		splitter:  splitter,
		extractor: extract.NewExtractor(),
		jobs:      jobs,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// Jobs returns the job manager for status queries and cancellation.
func (p *Pipeline) Jobs() *Manager {
	return p.jobs
}

// IngestText ingests pasted text under the given name. Returns the queued job.
func (p *Pipeline) IngestText(name, text string, tags []string) storage.JobRecord {
	return p.startJob("text", name, tags, func(ctx context.Context) (string, error) {
		return text, nil
	})
}

// IngestFile ingests a file from disk. Returns the queued job.
func (p *Pipeline) IngestFile(path string, tags []string) storage.JobRecord {
	filename := filepath.Base(path)
	return p.startJob("file", filename, tags, func(ctx context.Context) (string, error) {
		return p.extractor.Extract(path)
	})
}

// IngestFileBytes ingests uploaded file content. Returns the queued job.
func (p *Pipeline) IngestFileBytes(filename string, content []byte, tags []string) storage.JobRecord {
	return p.startJob("file", filename, tags, func(ctx context.Context) (string, error) {
		return p.extractor.ExtractBytes(content, strings.ToLower(filepath.Ext(filename)))
	})
}

// IngestURL fetches and ingests a web page. Returns the queued job.
func (p *Pipeline) IngestURL(url string, tags []string) storage.JobRecord {
	return p.startJob("url", url, tags, func(ctx context.Context) (string, error) {
		_, content, err := extract.FetchURL(ctx, url)
		return content, err
	})
}

func (p *Pipeline) startJob(sourceType, filename string, tags []string, fetch func(ctx context.Context) (string, error)) storage.JobRecord {
	job, ctx := p.jobs.begin(sourceType, filename)
	go p.run(ctx, job, sourceType, filename, tags, fetch)
	return job.Snapshot()
}

// run executes the pipeline stages for one job. Cancellation is checked
// between stages and between embedding batches; a cancelled job leaves no
// partial document behind.
func (p *Pipeline) run(ctx context.Context, job *Job, sourceType, filename string, tags []string, fetch func(ctx context.Context) (string, error)) {
	start := time.Now()

	p.jobs.setStatus(job, StatusParsing)
	text, err := fetch(ctx)
	if err != nil {
		p.fail(ctx, job, fmt.Errorf("extract text: %w", err))
		return
	}
	if strings.TrimSpace(text) == "" {
		p.fail(ctx, job, fmt.Errorf("no text extracted from %s", filename))
		return
	}
	if p.cancelled(ctx, job) {
		return
	}

	if p.cfg.AutoTag && len(tags) == 0 && p.tagger != nil {
		p.jobs.setStatus(job, StatusTagging)
		tags = p.tagger.GenerateTags(ctx, text, filename)
		if p.cancelled(ctx, job) {
			return
		}
	}

	docID := uuid.NewString()
	chunks := p.splitter.Split(docID, text)
	if len(chunks) == 0 {
		p.fail(ctx, job, fmt.Errorf("no chunks produced from %s", filename))
		return
	}

	p.jobs.setStatus(job, StatusEmbedding)
	embeddings, err := p.embedChunks(ctx, job, chunks)
	if err != nil {
		p.fail(ctx, job, err)
		return
	}
	if embeddings == nil {
		// Cancelled mid-embedding.
		return
	}

	p.jobs.setStatus(job, StatusIndexing)
	doc := &models.Document{
		ID:         docID,
		Filename:   filename,
		SourceType: sourceType,
		Tags:       tags,
	}
	if err := p.replaceExisting(ctx, filename, sourceType); err != nil {
		p.fail(ctx, job, err)
		return
	}
	if err := p.store.IndexChunks(ctx, doc, chunks, embeddings); err != nil {
		p.fail(ctx, job, fmt.Errorf("index document: %w", err))
		return
	}
	if err := p.store.SaveVectors(); err != nil {
		p.logger.Warn("failed to persist vector index", zap.Error(err))
	}

	p.jobs.finish(job, StatusCompleted, "", docID, len(chunks))
	p.logger.Info("document ingested",
		zap.String("document_id", docID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)),
		zap.Strings("tags", tags))
	if p.metrics != nil {
		p.metrics.Record("ingest", time.Since(start), map[string]string{
			"filename":    filename,
			"source_type": sourceType,
			"chunks":      fmt.Sprintf("%d", len(chunks)),
		})
	}
}

// embedChunks embeds chunk texts in batches. Returns (nil, nil) when the job
// was cancelled between batches.
func (p *Pipeline) embedChunks(ctx context.Context, job *Job, chunks []models.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(chunks))
	for from := 0; from < len(chunks); from += p.cfg.EmbedBatchSize {
		if p.cancelled(ctx, job) {
			return nil, nil
		}
		to := from + p.cfg.EmbedBatchSize
		if to > len(chunks) {
			to = len(chunks)
		}
		texts := make([]string, 0, to-from)
		for _, ch := range chunks[from:to] {
			texts = append(texts, p.cfg.DocumentPrefix+ch.Text)
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", from, to-1, err)
		}
		embeddings = append(embeddings, vectors...)
	}
	return embeddings, nil
}

// replaceExisting deletes a previously ingested document with the same
// filename and source type so re-ingestion replaces rather than duplicates.
func (p *Pipeline) replaceExisting(ctx context.Context, filename, sourceType string) error {
	existing, err := p.store.FindDocumentBySource(ctx, filename, sourceType)
	if err != nil {
		return fmt.Errorf("look up existing document: %w", err)
	}
	if existing == nil {
		return nil
	}
	p.logger.Info("replacing existing document",
		zap.String("document_id", existing.ID),
		zap.String("filename", filename))
	if err := p.store.DeleteDocument(ctx, existing.ID); err != nil {
		return fmt.Errorf("delete existing document: %w", err)
	}
	return nil
}

func (p *Pipeline) cancelled(ctx context.Context, job *Job) bool {
	if ctx.Err() == nil {
		return false
	}
	p.jobs.finish(job, StatusCancelled, "", "", 0)
	p.logger.Info("ingestion cancelled", zap.String("job_id", job.Snapshot().ID))
	return true
}

func (p *Pipeline) fail(ctx context.Context, job *Job, err error) {
	if ctx.Err() != nil {
		p.jobs.finish(job, StatusCancelled, "", "", 0)
		return
	}
	p.jobs.finish(job, StatusFailed, err.Error(), "", 0)
	p.logger.Error("ingestion failed", zap.String("job_id", job.Snapshot().ID), zap.Error(err))
}
