package rag

import (
	"context"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// DefaultPrompts are the built-in prompt templates. Stored overrides take
// precedence; deleting an override falls back here.
var DefaultPrompts = map[string]models.Prompt{
	"rag_system": {
		Key:         "rag_system",
		Name:        "RAG System Prompt",
		Description: "Instructions for how the LLM answers RAG queries",
		Content: "You are a helpful assistant that answers questions based on the provided context.\n" +
			"Use ONLY the context below to answer the question. If the context doesn't contain " +
			"enough information to answer, say so clearly.\n" +
			"Always cite which source(s) you used in your answer.",
		Variables: []string{},
	},
	"rag_user": {
		Key:         "rag_user",
		Name:        "RAG User Template",
		Description: "Template for the user message sent to the LLM during RAG queries",
		Content: "Context:\n{context}\n{history_block}\n" +
			"Question: {question}\n\n" +
			"Answer based on the context above:",
		Variables: []string{"context", "history_block", "question"},
	},
	"autotag_system": {
		Key:         "autotag_system",
		Name:        "Auto-Tag System Prompt",
		Description: "Instructions for LLM-based automatic document tagging",
		Content: "You are a tagging assistant for car manuals and automotive documents. " +
			"Return ONLY a comma-separated list of short, lowercase tags. " +
			"No numbering, no explanation, no extra text. " +
			"ALWAYS include the vehicle make (e.g. ford, toyota, bmw) and model " +
			"(e.g. f-150, camry, 3 series) as separate tags if they can be identified. " +
			"Also include the model year if present. " +
			"Fill remaining tags with other useful descriptors like document type " +
			"(e.g. owners manual, service manual, wiring diagram) or key topics.",
		Variables: []string{},
	},
	"autotag_user": {
		Key:         "autotag_user",
		Name:        "Auto-Tag User Template",
		Description: "Template for the user message sent to the LLM during auto-tagging",
		Content: "Generate up to {max_tags} short descriptive tags for this automotive " +
			"document:\n\n{filename_hint}{truncated}",
		Variables: []string{"max_tags", "filename_hint", "truncated"},
	},
}

// PromptStore looks up stored prompt overrides. A nil prompt with a nil error
// means no override exists for the key.
type PromptStore interface {
	GetPrompt(ctx context.Context, key string) (*models.Prompt, error)
}

// promptContent returns the stored override for key, falling back to the
// built-in default. Store errors also fall back: a broken prompt store must
// not break answering.
func (s *Service) promptContent(ctx context.Context, key string) string {
	if s.prompts != nil {
		p, err := s.prompts.GetPrompt(ctx, key)
		if err == nil && p != nil {
			return p.Content
		}
	}
	return DefaultPrompts[key].Content
}

// renderPrompt substitutes {name} placeholders.
func renderPrompt(template string, vars map[string]string) string {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}
