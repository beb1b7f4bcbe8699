// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

// QueryService answers questions over the ingested documents.
type QueryService interface {
	Answer(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error)
	AnswerStream(ctx context.Context, req *models.QueryRequest, emit func(models.StreamEvent) error) error
}

// Ingestor queues ingestion jobs.
type Ingestor interface {
	IngestText(name, text string, tags []string) storage.JobRecord
	IngestFileBytes(filename string, content []byte, tags []string) storage.JobRecord
	IngestURL(url string, tags []string) storage.JobRecord
	Jobs() *ingest.Manager
}

// DocumentStore serves the document management endpoints.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentChunks(ctx context.Context, id string) ([]models.Chunk, error)
	UpdateDocumentTags(ctx context.Context, id string, tags []string) error
	DeleteDocument(ctx context.Context, id string) error
	Stats(ctx context.Context) (documents, chunks, vectors int, err error)
}

// WatchService manages the drop folders watched for auto-ingestion.
type WatchService interface {
	Directories() []string
	AddDirectory(path string) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Kotae API.
type Server struct {
	query    QueryService
	ingestor Ingestor
	docs     DocumentStore
	db       *storage.DB
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server

	// Watch directory changes are persisted back to the config file so they
	// survive restarts. Nil watch disables the endpoints.
	watch      WatchService
	configPath string
	fullConfig *config.Config
	configMu   sync.Mutex
}

// NewServer creates a server with the given dependencies. watch, configPath
// and fullCfg wire the watch directory endpoints; pass nil/"" to disable them.
func NewServer(
	query QueryService,
	ingestor Ingestor,
	docs DocumentStore,
	db *storage.DB,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
	fullCfg *config.Config,
) *Server {
	return &Server{
		query:      query,
		ingestor:   ingestor,
		docs:       docs,
		db:         db,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
		fullConfig: fullCfg,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Generation against a local model can be slow; the stream endpoint
	// needs headroom.
	r.Use(middleware.Timeout(300 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/query", s.handleQuery)
		r.Post("/query/stream", s.handleQueryStream)

		r.Post("/ingest/text", s.handleIngestText)
		r.Post("/ingest/file", s.handleIngestFile)
		r.Post("/ingest/url", s.handleIngestURL)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)

		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/documents/{id}/chunks", s.handleGetDocumentChunks)
		r.Put("/documents/{id}/tags", s.handleUpdateDocumentTags)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Post("/chats", s.handleCreateChat)
		r.Get("/chats", s.handleListChats)
		r.Get("/chats/{id}", s.handleGetChat)
		r.Post("/chats/{id}/messages", s.handleAppendMessages)
		r.Patch("/chats/{id}", s.handleRenameChat)
		r.Delete("/chats/{id}", s.handleDeleteChat)

		r.Get("/prompts", s.handleListPrompts)
		r.Get("/prompts/{key}", s.handleGetPrompt)
		r.Put("/prompts/{key}", s.handleUpdatePrompt)
		r.Delete("/prompts/{key}", s.handleResetPrompt)

		r.Get("/metrics", s.handleListMetrics)
		r.Get("/metrics/summary", s.handleMetricsSummary)

		r.Get("/watch/directories", s.handleListWatchDirectories)
		r.Post("/watch/directories", s.handleAddWatchDirectory)
		r.Delete("/watch/directories", s.handleRemoveWatchDirectory)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
