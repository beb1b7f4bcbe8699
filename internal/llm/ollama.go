package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// OllamaClient implements Embedder and Generator against an Ollama server.
// It is safe for concurrent callers.
type OllamaClient struct {
	embedder *embeddings.EmbedderImpl
	genLLM   *ollama.LLM
	genModel string
	logger   *zap.Logger
}

// NewOllamaClient connects to the Ollama server at serverURL, using
// embeddingModel for vectors and generationModel as the default for answers.
func NewOllamaClient(serverURL, embeddingModel, generationModel string, logger *zap.Logger) (*OllamaClient, error) {
	embedLLM, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(embeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("init embedding model: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	genLLM, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(generationModel),
	)
	if err != nil {
		return nil, fmt.Errorf("init generation model: %w", err)
	}
	return &OllamaClient{
		embedder: embedder,
		genLLM:   genLLM,
		genModel: generationModel,
		logger:   logger,
	}, nil
}

// Embed returns one vector per text, in input order.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

// Generate produces a complete answer.
func (c *OllamaClient) Generate(ctx context.Context, model, systemPrompt, prompt string) (*GenerationResult, error) {
	return c.generate(ctx, model, systemPrompt, prompt, nil)
}

// GenerateStream produces an answer while forwarding tokens to onToken as
// they arrive. The full result is still returned once the stream ends.
func (c *OllamaClient) GenerateStream(ctx context.Context, model, systemPrompt, prompt string, onToken TokenFunc) (*GenerationResult, error) {
	return c.generate(ctx, model, systemPrompt, prompt, onToken)
}

func (c *OllamaClient) generate(ctx context.Context, model, systemPrompt, prompt string, onToken TokenFunc) (*GenerationResult, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
	opts := make([]llms.CallOption, 0, 2)
	if model != "" && model != c.genModel {
		opts = append(opts, llms.WithModel(model))
	}
	if onToken != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return onToken(string(chunk))
		}))
	}
	resp, err := c.genLLM.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generate: empty response")
	}
	choice := resp.Choices[0]
	result := &GenerationResult{
		Text:             choice.Content,
		PromptTokens:     infoInt(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: infoInt(choice.GenerationInfo, "CompletionTokens"),
	}
	return result, nil
}

// infoInt reads a numeric field from GenerationInfo; providers disagree on
// the concrete type.
func infoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
