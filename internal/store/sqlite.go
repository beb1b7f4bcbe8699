package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// ChunkDB is the SQLite store of documents and their chunks. It is the source
// of truth for chunk text and byte offsets; the keyword and vector indices
// hold only derived data.
type ChunkDB struct {
	db *sql.DB
}

// NewChunkDB opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewChunkDB(dbPath string) (*ChunkDB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initChunkSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &ChunkDB{db: db}, nil
}

func initChunkSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		source_type TEXT NOT NULL,
		tags TEXT,
		metadata TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_filename ON documents(filename);

	CREATE TABLE IF NOT EXISTS chunks (
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		PRIMARY KEY (document_id, chunk_index),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (c *ChunkDB) Close() error {
	return c.db.Close()
}

// InsertDocument stores a document and its chunks in one transaction.
func (c *ChunkDB) InsertDocument(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.ChunkCount = len(chunks)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, filename, source_type, tags, metadata, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.SourceType, string(tagsJSON), string(metadataJSON), doc.ChunkCount, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (document_id, chunk_index, content, char_start, char_end)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()
	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.DocumentID, ch.ChunkIndex, ch.Text, ch.CharStart, ch.CharEnd); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

// GetDocument returns a document by ID.
func (c *ChunkDB) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, filename, source_type, tags, metadata, chunk_count, created_at
		 FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	return doc, err
}

// FindDocumentBySource returns the document with the given filename and source
// type, or nil if none exists. Used to replace documents on re-ingestion.
func (c *ChunkDB) FindDocumentBySource(ctx context.Context, filename, sourceType string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, filename, source_type, tags, metadata, chunk_count, created_at
		 FROM documents WHERE filename = ? AND source_type = ?`, filename, sourceType)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// ListDocuments returns all documents ordered by creation time, newest first.
func (c *ChunkDB) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, filename, source_type, tags, metadata, chunk_count, created_at
		 FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and all of its chunks. Returns the number
// of chunks removed so the caller can purge the derived indices.
func (c *ChunkDB) DeleteDocument(ctx context.Context, id string) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx,
		`SELECT chunk_count FROM documents WHERE id = ?`, id).Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("document not found: %s", id)
		}
		return 0, err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}
	return count, tx.Commit()
}

// UpdateDocumentTags replaces the tags of a document.
func (c *ChunkDB) UpdateDocumentTags(ctx context.Context, id string, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `UPDATE documents SET tags = ? WHERE id = ?`, string(tagsJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// GetChunkRange returns the chunks of a document with index in [from, to],
// ordered by index. Indices outside the document are silently omitted.
func (c *ChunkDB) GetChunkRange(ctx context.Context, documentID string, from, to int) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT document_id, chunk_index, content, char_start, char_end
		 FROM chunks WHERE document_id = ? AND chunk_index BETWEEN ? AND ?
		 ORDER BY chunk_index`, documentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk range: %w", err)
	}
	defer rows.Close()

	chunks := make([]models.Chunk, 0, to-from+1)
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.DocumentID, &ch.ChunkIndex, &ch.Text, &ch.CharStart, &ch.CharEnd); err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// GetDocumentChunks returns all chunks of a document in index order.
func (c *ChunkDB) GetDocumentChunks(ctx context.Context, documentID string) ([]models.Chunk, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT document_id, chunk_index, content, char_start, char_end
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(&ch.DocumentID, &ch.ChunkIndex, &ch.Text, &ch.CharStart, &ch.CharEnd); err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// GetChunk returns one chunk by document ID and index.
func (c *ChunkDB) GetChunk(ctx context.Context, documentID string, index int) (*models.Chunk, error) {
	var ch models.Chunk
	err := c.db.QueryRowContext(ctx,
		`SELECT document_id, chunk_index, content, char_start, char_end
		 FROM chunks WHERE document_id = ? AND chunk_index = ?`, documentID, index).
		Scan(&ch.DocumentID, &ch.ChunkIndex, &ch.Text, &ch.CharStart, &ch.CharEnd)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk not found: %s/%d", documentID, index)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// CountDocuments returns the number of stored documents.
func (c *ChunkDB) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// CountChunks returns the number of stored chunks.
func (c *ChunkDB) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var tagsJSON, metadataJSON sql.NullString
	err := row.Scan(&doc.ID, &doc.Filename, &doc.SourceType, &tagsJSON, &metadataJSON, &doc.ChunkCount, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &doc.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}
