// Package rag answers questions over the ingested documents: it retrieves
// context through the staged pipeline, renders the prompt templates, and
// generates the answer with the configured LLM.
package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/pkg/utils"
)

// emptyAnswer is returned without calling the LLM when retrieval found
// nothing; generating from an empty context only invites hallucination.
const emptyAnswer = "I couldn't find anything relevant to your question in the indexed documents."

// tagContentLimit bounds how much document text the auto-tagger sees.
const tagContentLimit = 8000

// Retriever runs the retrieval pipeline for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, opts retrieval.Options) (*retrieval.Result, error)
}

// Metrics records pipeline measurements. May be nil.
type Metrics interface {
	Record(eventType string, duration time.Duration, metadata map[string]string)
}

// Service is the question answering and tagging service.
type Service struct {
	retriever    Retriever
	generator    llm.Generator
	prompts      PromptStore
	metrics      Metrics
	defaultModel string
	maxTags      int
	logger       *zap.Logger
}

// New returns a Service. prompts and metrics may be nil.
func New(retriever Retriever, generator llm.Generator, prompts PromptStore, metrics Metrics, defaultModel string, maxTags int, logger *zap.Logger) *Service {
	if maxTags <= 0 {
		maxTags = 5
	}
	return &Service{
		retriever:    retriever,
		generator:    generator,
		prompts:      prompts,
		metrics:      metrics,
		defaultModel: defaultModel,
		maxTags:      maxTags,
		logger:       logger,
	}
}

// Answer runs the full pipeline for one question and returns the complete
// answer.
func (s *Service) Answer(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	result, err := s.retriever.Retrieve(ctx, req.Question, retrievalOptions(req))
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	resp := &models.QueryResponse{Model: model}
	if req.ReturnSources {
		resp.Sources = sourcesOf(result.Passages)
	}
	if result.Empty() {
		resp.Answer = emptyAnswer
		resp.DurationMs = durationMs(start)
		return resp, nil
	}

	systemPrompt, prompt := s.buildPrompts(ctx, req.Question, result.Passages, req.History)
	gen, err := s.generator.Generate(ctx, model, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	resp.Answer = gen.Text
	resp.DurationMs = durationMs(start)
	s.record("query", start, model, gen, req)
	return resp, nil
}

// AnswerStream runs the pipeline and emits events as generation progresses:
// one "sources" event after retrieval, "token" events while the answer
// streams, and a final "done" event.
func (s *Service) AnswerStream(ctx context.Context, req *models.QueryRequest, emit func(models.StreamEvent) error) error {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return err
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	result, err := s.retriever.Retrieve(ctx, req.Question, retrievalOptions(req))
	if err != nil {
		return fmt.Errorf("retrieve context: %w", err)
	}

	if err := emit(models.StreamEvent{
		Type: "sources",
		Data: map[string]any{"sources": sourcesOf(result.Passages)},
	}); err != nil {
		return err
	}

	if result.Empty() {
		if err := emit(models.StreamEvent{Type: "token", Data: map[string]any{"token": emptyAnswer}}); err != nil {
			return err
		}
		return emit(models.StreamEvent{
			Type: "done",
			Data: map[string]any{"model": model, "duration_ms": durationMs(start)},
		})
	}

	systemPrompt, prompt := s.buildPrompts(ctx, req.Question, result.Passages, req.History)
	gen, err := s.generator.GenerateStream(ctx, model, systemPrompt, prompt, func(token string) error {
		return emit(models.StreamEvent{Type: "token", Data: map[string]any{"token": token}})
	})
	if err != nil {
		return fmt.Errorf("generate answer: %w", err)
	}

	s.record("query_stream", start, model, gen, req)
	return emit(models.StreamEvent{
		Type: "done",
		Data: map[string]any{"model": model, "duration_ms": durationMs(start)},
	})
}

// GenerateTags asks the LLM for descriptive document tags. It never returns
// an error: tagging failures are logged and yield no tags so ingestion is
// never blocked.
func (s *Service) GenerateTags(ctx context.Context, content, filename string) []string {
	start := time.Now()
	truncated := utils.Truncate(content, tagContentLimit)
	filenameHint := ""
	if filename != "" {
		filenameHint = "Filename: " + filename + "\n\n"
	}

	systemPrompt := s.promptContent(ctx, "autotag_system")
	prompt := renderPrompt(s.promptContent(ctx, "autotag_user"), map[string]string{
		"max_tags":      strconv.Itoa(s.maxTags),
		"filename_hint": filenameHint,
		"truncated":     truncated,
	})

	gen, err := s.generator.Generate(ctx, "", systemPrompt, prompt)
	if err != nil {
		s.logger.Warn("auto-tag generation failed", zap.String("filename", filename), zap.Error(err))
		return nil
	}

	tags := make([]string, 0, s.maxTags)
	for _, part := range strings.Split(gen.Text, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == s.maxTags {
			break
		}
	}
	if s.metrics != nil {
		s.metrics.Record("tag_generation", time.Since(start), map[string]string{
			"filename":       filename,
			"content_length": strconv.Itoa(len(content)),
		})
	}
	return tags
}

func retrievalOptions(req *models.QueryRequest) retrieval.Options {
	return retrieval.Options{
		TopK:          req.TopK,
		Tags:          req.Tags,
		Rerank:        req.Rerank,
		ExpandContext: req.ExpandContext,
	}
}

// buildPrompts renders the system and user prompts from the retrieved
// passages and the optional conversation history.
func (s *Service) buildPrompts(ctx context.Context, question string, passages []models.Passage, history []models.ChatMessage) (systemPrompt, prompt string) {
	contextParts := make([]string, len(passages))
	for i, p := range passages {
		source := p.Filename
		if source == "" {
			source = "unknown"
		}
		contextParts[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, source, p.Text)
	}

	historyBlock := ""
	if len(history) > 0 {
		lines := make([]string, len(history))
		for i, msg := range history {
			label := "Assistant"
			if msg.Role == "user" {
				label = "User"
			}
			lines[i] = label + ": " + msg.Content
		}
		historyBlock = "\n\nConversation history:\n" + strings.Join(lines, "\n") + "\n"
	}

	systemPrompt = s.promptContent(ctx, "rag_system")
	prompt = renderPrompt(s.promptContent(ctx, "rag_user"), map[string]string{
		"context":       strings.Join(contextParts, "\n\n---\n\n"),
		"history_block": historyBlock,
		"question":      question,
	})
	return systemPrompt, prompt
}

func sourcesOf(passages []models.Passage) []models.Source {
	sources := make([]models.Source, len(passages))
	for i, p := range passages {
		sources[i] = models.Source{
			Content:    p.Text,
			Score:      p.Score,
			Source:     p.Source,
			Filename:   p.Filename,
			DocumentID: p.DocumentID,
			ChunkIndex: p.ChunkIndex,
		}
	}
	return sources
}

func (s *Service) record(eventType string, start time.Time, model string, gen *llm.GenerationResult, req *models.QueryRequest) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(eventType, time.Since(start), map[string]string{
		"model":             model,
		"question_length":   strconv.Itoa(len(req.Question)),
		"top_k":             strconv.Itoa(req.TopK),
		"prompt_tokens":     strconv.Itoa(gen.PromptTokens),
		"completion_tokens": strconv.Itoa(gen.CompletionTokens),
	})
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
