package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
)

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.db.CreateChat(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.db.ListChats(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, chats)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.db.GetChat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "chat not found")
		return
	}
	s.respondJSON(w, http.StatusOK, chat)
}

type appendMessagesRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

func (s *Server) handleAppendMessages(w http.ResponseWriter, r *http.Request) {
	var req appendMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.respondError(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.db.AppendMessages(r.Context(), id, req.Messages); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	chat, err := s.db.GetChat(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, chat)
}

type renameChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var req renameChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		s.respondError(w, http.StatusBadRequest, "title cannot be empty")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.db.RenameChat(r.Context(), id, req.Title); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "title": req.Title})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteChat(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListPrompts returns every prompt key with its effective content:
// stored overrides where present, built-in defaults otherwise.
func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.db.ListPrompts(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byKey := make(map[string]*models.Prompt, len(overrides))
	for _, p := range overrides {
		byKey[p.Key] = p
	}
	prompts := make([]models.Prompt, 0, len(rag.DefaultPrompts))
	for key, def := range rag.DefaultPrompts {
		if p, ok := byKey[key]; ok {
			prompts = append(prompts, *p)
			continue
		}
		prompts = append(prompts, def)
	}
	s.respondJSON(w, http.StatusOK, prompts)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	p, err := s.db.GetPrompt(r.Context(), key)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p != nil {
		s.respondJSON(w, http.StatusOK, p)
		return
	}
	def, ok := rag.DefaultPrompts[key]
	if !ok {
		s.respondError(w, http.StatusNotFound, "prompt not found")
		return
	}
	s.respondJSON(w, http.StatusOK, def)
}

type updatePromptRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	def, ok := rag.DefaultPrompts[key]
	if !ok {
		s.respondError(w, http.StatusNotFound, "prompt not found")
		return
	}
	var req updatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "content cannot be empty")
		return
	}
	p := def
	p.Content = req.Content
	if err := s.db.UpsertPrompt(r.Context(), &p); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

// handleResetPrompt removes the stored override so the key reverts to its
// built-in default.
func (s *Server) handleResetPrompt(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	def, ok := rag.DefaultPrompts[key]
	if !ok {
		s.respondError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if err := s.db.DeletePrompt(r.Context(), key); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.db.ListMetrics(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.db.SummarizeMetrics(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summaries)
}
