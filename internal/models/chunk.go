// Package models defines the shared data types of the document store and
// query pipeline.
package models

import "time"

// Chunk is one contiguous piece of a document's extracted text. CharStart and
// CharEnd are byte offsets into the original text such that
// text[CharStart:CharEnd] equals Text exactly.
type Chunk struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
}

// Ref returns the chunk's identity.
func (c Chunk) Ref() ChunkRef {
	return ChunkRef{DocumentID: c.DocumentID, ChunkIndex: c.ChunkIndex}
}

// ChunkRef identifies a chunk by document and position. Two chunks with the
// same ref are the same chunk regardless of which search leg produced them.
type ChunkRef struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// CandidateSource names the pipeline stage that produced a score.
type CandidateSource string

const (
	SourceKeyword CandidateSource = "keyword"
	SourceVector  CandidateSource = "vector"
	SourceFused   CandidateSource = "fused"
	SourceRerank  CandidateSource = "rerank"
)

// ScoredChunk is a chunk with a relevance score from one pipeline stage.
// Scores from different sources are not comparable with each other.
type ScoredChunk struct {
	Chunk
	Score    float64         `json:"score"`
	Source   CandidateSource `json:"source"`
	Filename string          `json:"filename,omitempty"`
}

// ExpandedContext is a winning chunk merged with its stored neighbors.
type ExpandedContext struct {
	Ref             ChunkRef `json:"ref"`
	MergedText      string   `json:"merged_text"`
	NeighborIndices []int    `json:"neighbor_indices"`
	Score           float64  `json:"score"`
}

// Passage is one piece of answer context handed to generation.
type Passage struct {
	DocumentID string          `json:"document_id"`
	ChunkIndex int             `json:"chunk_index"`
	Text       string          `json:"text"`
	Score      float64         `json:"score"`
	Source     CandidateSource `json:"source"`
	Filename   string          `json:"filename,omitempty"`
}

// Document is an ingested source file, URL, or pasted text.
type Document struct {
	ID         string            `json:"id"`
	Filename   string            `json:"filename"`
	SourceType string            `json:"source_type"` // "file", "url", or "text"
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ChunkCount int               `json:"chunk_count"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Prompt is an editable prompt template. Placeholders of the form {name}
// are substituted at render time.
type Prompt struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Variables   []string  `json:"variables,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
