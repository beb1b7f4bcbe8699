package models

// Source is a context passage cited in an answer.
type Source struct {
	Content    string          `json:"content"`
	Score      float64         `json:"score"`
	Source     CandidateSource `json:"source"`
	Filename   string          `json:"filename"`
	DocumentID string          `json:"document_id"`
	ChunkIndex int             `json:"chunk_index"`
}

// QueryResponse is the answer to a QueryRequest.
type QueryResponse struct {
	Answer     string   `json:"answer"`
	Model      string   `json:"model"`
	DurationMs float64  `json:"duration_ms"`
	Sources    []Source `json:"sources,omitempty"`
}

// StreamEvent is one server-sent event of a streaming query. Type is one of
// "sources", "token", "done", or "error".
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
