package models

import "fmt"

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// QueryRequest is a question against the ingested documents.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
	// Model overrides the configured generation model for this request.
	Model string `json:"model,omitempty"`
	// Tags filters retrieval to chunks whose document tags match any of the
	// given tags (token partial match, applied to both search legs).
	Tags []string `json:"tags,omitempty"`
	// Rerank and ExpandContext override the configured defaults when set.
	Rerank        *bool         `json:"rerank,omitempty"`
	ExpandContext *bool         `json:"expand_context,omitempty"`
	History       []ChatMessage `json:"history,omitempty"`
	ReturnSources bool          `json:"return_sources,omitempty"`
}

// Validate checks required fields and normalizes TopK.
func (q *QueryRequest) Validate() error {
	if q.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	if q.TopK > 50 {
		q.TopK = 50
	}
	return nil
}
