// Package llm provides the embedding and generation capability contracts and
// their Ollama-backed implementations.
package llm

import "context"

// Embedder produces one vector per input text, order preserving.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerationResult is a generated answer plus usage metadata.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// TokenFunc receives incremental output tokens during streaming generation.
// Returning an error aborts the stream.
type TokenFunc func(token string) error

// Generator produces an answer from a system prompt and a user prompt.
// An empty model selects the configured default.
type Generator interface {
	Generate(ctx context.Context, model, systemPrompt, prompt string) (*GenerationResult, error)
	GenerateStream(ctx context.Context, model, systemPrompt, prompt string, onToken TokenFunc) (*GenerationResult, error)
}
