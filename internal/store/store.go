// Package store persists documents and chunks and serves the two retrieval
// legs: BM25 keyword search over Bleve and cosine similarity over an
// in-memory vector index. SQLite is the source of truth; the indices are
// derived and rebuilt from it on demand.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
)

// Options configures Open.
type Options struct {
	DatabasePath    string
	BleveIndexPath  string
	VectorIndexPath string
	Dimensions      int
}

// Store is the combined chunk store and search index facade.
type Store struct {
	chunks  *ChunkDB
	keyword *KeywordIndex
	vectors *VectorIndex
	vecPath string
	logger  *zap.Logger
}

// Open opens the SQLite database, the Bleve index, and the vector index,
// loading persisted vectors when present.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	chunks, err := NewChunkDB(opts.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open chunk database: %w", err)
	}
	keyword, err := NewKeywordIndex(opts.BleveIndexPath)
	if err != nil {
		_ = chunks.Close()
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	vectors, err := NewVectorIndex(opts.Dimensions)
	if err != nil {
		_ = chunks.Close()
		_ = keyword.Close()
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	if err := vectors.Load(opts.VectorIndexPath); err != nil {
		_ = chunks.Close()
		_ = keyword.Close()
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	logger.Info("store opened",
		zap.String("database", opts.DatabasePath),
		zap.Int("vectors", vectors.Count()))
	return &Store{
		chunks:  chunks,
		keyword: keyword,
		vectors: vectors,
		vecPath: opts.VectorIndexPath,
		logger:  logger,
	}, nil
}

// Close persists the vector index and closes the underlying stores.
func (s *Store) Close() error {
	var firstErr error
	if err := s.vectors.Save(s.vecPath); err != nil {
		firstErr = err
	}
	if err := s.keyword.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.chunks.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SaveVectors persists the vector index without closing. Called after
// ingestion so a crash does not lose embeddings.
func (s *Store) SaveVectors() error {
	return s.vectors.Save(s.vecPath)
}

// chunkKey builds the cross-index chunk identifier.
func chunkKey(documentID string, index int) string {
	return documentID + ":" + strconv.Itoa(index)
}

// parseChunkKey splits a chunk key back into document ID and chunk index.
func parseChunkKey(key string) (string, int, error) {
	pos := strings.LastIndexByte(key, ':')
	if pos < 0 {
		return "", 0, fmt.Errorf("malformed chunk key: %s", key)
	}
	index, err := strconv.Atoi(key[pos+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk key: %s", key)
	}
	return key[:pos], index, nil
}

// IndexChunks stores a document with its chunks and embeddings across all
// three stores. SQLite commits first; if a derived index write fails
// afterwards the document is rolled back from all stores.
func (s *Store) IndexChunks(ctx context.Context, doc *models.Document, chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if err := s.chunks.InsertDocument(ctx, doc, chunks); err != nil {
		return err
	}

	keys := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		keys[i] = chunkKey(ch.DocumentID, ch.ChunkIndex)
		texts[i] = ch.Text
	}
	if err := s.keyword.IndexChunks(keys, texts, doc.Tags); err != nil {
		_, _ = s.chunks.DeleteDocument(ctx, doc.ID)
		return fmt.Errorf("index chunks in keyword index: %w", err)
	}
	if err := s.vectors.Add(keys, embeddings); err != nil {
		_ = s.keyword.DeleteChunks(keys)
		_, _ = s.chunks.DeleteDocument(ctx, doc.ID)
		return fmt.Errorf("index chunks in vector index: %w", err)
	}
	return nil
}

// DeleteDocument removes a document from all three stores.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	count, err := s.chunks.DeleteDocument(ctx, id)
	if err != nil {
		return err
	}
	keys := make([]string, count)
	for i := 0; i < count; i++ {
		keys[i] = chunkKey(id, i)
	}
	if err := s.keyword.DeleteChunks(keys); err != nil {
		return fmt.Errorf("delete from keyword index: %w", err)
	}
	s.vectors.Remove(keys)
	return nil
}

// UpdateDocumentTags replaces the tags of a document and re-indexes its
// chunks so the keyword tag filter sees the new tags.
func (s *Store) UpdateDocumentTags(ctx context.Context, id string, tags []string) error {
	if err := s.chunks.UpdateDocumentTags(ctx, id, tags); err != nil {
		return err
	}
	chunks, err := s.chunks.GetDocumentChunks(ctx, id)
	if err != nil {
		return err
	}
	keys := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		keys[i] = chunkKey(ch.DocumentID, ch.ChunkIndex)
		texts[i] = ch.Text
	}
	if err := s.keyword.IndexChunks(keys, texts, tags); err != nil {
		return fmt.Errorf("re-index chunks with new tags: %w", err)
	}
	return nil
}

// SearchKeyword runs the keyword leg and hydrates hits with chunk text and
// document filename.
func (s *Store) SearchKeyword(ctx context.Context, query string, limit int, tags []string) ([]models.ScoredChunk, error) {
	hits, err := s.keyword.Search(query, limit, tags)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, hits, models.SourceKeyword)
}

// SearchVector runs the vector leg with an optional tag filter and hydrates
// hits with chunk text and document filename.
func (s *Store) SearchVector(ctx context.Context, vector []float32, limit int, tags []string) ([]models.ScoredChunk, error) {
	keep, err := s.tagPredicate(ctx, tags)
	if err != nil {
		return nil, err
	}
	hits, err := s.vectors.Search(vector, limit, keep)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, hits, models.SourceVector)
}

// tagPredicate builds the vector-leg filter from document tags. Returns nil
// (no filtering) when the tag list is empty.
func (s *Store) tagPredicate(ctx context.Context, tags []string) (func(id string) bool, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	docs, err := s.chunks.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents for tag filter: %w", err)
	}
	allowed := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if matchesTags(doc.Tags, tags) {
			allowed[doc.ID] = true
		}
	}
	return func(id string) bool {
		docID, _, err := parseChunkKey(id)
		if err != nil {
			return false
		}
		return allowed[docID]
	}, nil
}

// hydrate turns index hits into scored chunks with text and filename.
// Hits whose chunk has disappeared from SQLite are dropped with a warning.
func (s *Store) hydrate(ctx context.Context, hits []indexHit, source models.CandidateSource) ([]models.ScoredChunk, error) {
	out := make([]models.ScoredChunk, 0, len(hits))
	filenames := make(map[string]string)
	for _, hit := range hits {
		docID, index, err := parseChunkKey(hit.ID)
		if err != nil {
			return nil, err
		}
		ch, err := s.chunks.GetChunk(ctx, docID, index)
		if err != nil {
			s.logger.Warn("stale index hit", zap.String("key", hit.ID), zap.Error(err))
			continue
		}
		filename, ok := filenames[docID]
		if !ok {
			doc, err := s.chunks.GetDocument(ctx, docID)
			if err != nil {
				s.logger.Warn("stale index hit", zap.String("key", hit.ID), zap.Error(err))
				continue
			}
			filename = doc.Filename
			filenames[docID] = filename
		}
		out = append(out, models.ScoredChunk{
			Chunk:    *ch,
			Score:    hit.Score,
			Source:   source,
			Filename: filename,
		})
	}
	return out, nil
}

// FetchChunkRange returns the chunks of a document with index in [from, to].
func (s *Store) FetchChunkRange(ctx context.Context, documentID string, from, to int) ([]models.Chunk, error) {
	return s.chunks.GetChunkRange(ctx, documentID, from, to)
}

// GetDocument returns a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.chunks.GetDocument(ctx, id)
}

// GetDocumentChunks returns all chunks of a document in index order.
func (s *Store) GetDocumentChunks(ctx context.Context, id string) ([]models.Chunk, error) {
	return s.chunks.GetDocumentChunks(ctx, id)
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	return s.chunks.ListDocuments(ctx)
}

// FindDocumentBySource returns the document with the given filename and
// source type, or nil when none exists.
func (s *Store) FindDocumentBySource(ctx context.Context, filename, sourceType string) (*models.Document, error) {
	return s.chunks.FindDocumentBySource(ctx, filename, sourceType)
}

// Stats reports document, chunk, and vector counts.
func (s *Store) Stats(ctx context.Context) (documents, chunks, vectors int, err error) {
	documents, err = s.chunks.CountDocuments(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	chunks, err = s.chunks.CountChunks(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	return documents, chunks, s.vectors.Count(), nil
}
