// Package main is the Kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/expand"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/rerank"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence (for development), so that
// "kotae server" from the project dir uses the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// Start the watcher even with no configured directories: the watch API
	// can add them at runtime.
	pipeline := components.Pipeline
	st := components.Store
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			pipeline.IngestFile(path, nil)
		},
		func(path string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			doc, err := st.FindDocumentBySource(ctx, filepath.Base(path), "file")
			if err != nil || doc == nil {
				return
			}
			if err := st.DeleteDocument(ctx, doc.ID); err != nil {
				logger.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
			}
		},
		logger,
	)
	if err := watchSvc.Start(); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	srv := server.NewServer(
		components.RAG,
		components.Pipeline,
		components.Store,
		components.AppDB,
		&cfg.Server,
		logger,
		watchSvc,
		resolvedConfigPath,
		cfg,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tagsFlag := fs.String("tags", "", "comma-separated tags for the document")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae ingest [flags] <file-or-url>")
		os.Exit(1)
	}
	source := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	tags := parseTags(*tagsFlag)

	var job storage.JobRecord
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		job = components.Pipeline.IngestURL(source, tags)
	} else {
		if _, err := os.Stat(source); err != nil {
			fmt.Printf("Failed to stat path: %v\n", err)
			os.Exit(1)
		}
		job = components.Pipeline.IngestFile(source, tags)
	}

	record := waitForJob(components.Pipeline.Jobs(), job.ID)
	switch record.Status {
	case ingest.StatusCompleted:
		fmt.Printf("Ingested %s: document %s (%d chunks)\n", record.Filename, record.DocumentID, record.ChunkCount)
	default:
		fmt.Printf("Ingestion %s: %s\n", record.Status, record.Error)
		os.Exit(1)
	}
}

// parseTags splits a comma-separated tag flag, dropping blanks.
func parseTags(value string) []string {
	var tags []string
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// waitForJob polls until the job reaches a terminal state.
func waitForJob(jobs *ingest.Manager, id string) *storage.JobRecord {
	for {
		record, err := jobs.Get(context.Background(), id)
		if err != nil {
			fmt.Printf("Failed to read job state: %v\n", err)
			os.Exit(1)
		}
		switch record.Status {
		case ingest.StatusCompleted, ingest.StatusFailed, ingest.StatusCancelled:
			return record
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = answer directly without the server)")
	topK := fs.Int("top-k", 0, "number of passages to retrieve (0 = config default)")
	tagsFlag := fs.String("tags", "", "comma-separated tag filter")
	sources := fs.Bool("sources", false, "print the source passages with the answer")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae query [flags] <question>")
		os.Exit(1)
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: kotae query [flags] <question>")
		os.Exit(1)
	}

	req := &models.QueryRequest{
		Question:      question,
		TopK:          *topK,
		Tags:          parseTags(*tagsFlag),
		ReturnSources: *sources,
	}

	var resp *models.QueryResponse
	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids index lock
		// conflicts with a live server process).
		httpResp, err := queryViaHTTP(*serverURL, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		resp = httpResp
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()

		resp, err = components.RAG.Answer(context.Background(), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Println(resp.Answer)
		if len(resp.Sources) > 0 {
			fmt.Println()
			for i, src := range resp.Sources {
				fmt.Printf("[%d] %s (chunk %d, score %.4f)\n", i+1, src.Filename, src.ChunkIndex, src.Score)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func queryViaHTTP(serverURL string, req *models.QueryRequest) (*models.QueryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(serverURL+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Vectors   int `json:"vectors"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		documents, chunks, vectors, err := components.Store.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{Documents: documents, Chunks: chunks, Vectors: vectors}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("documents: %d\n", status.Documents)
		fmt.Printf("chunks:    %d\n", status.Chunks)
		fmt.Printf("vectors:   %d\n", status.Vectors)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store    *store.Store
	AppDB    *storage.DB
	Metrics  *metrics.Recorder
	Pipeline *ingest.Pipeline
	RAG      *rag.Service
}

func (c *Components) Close() {
	if c.Metrics != nil {
		c.Metrics.Wait()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.AppDB != nil {
		_ = c.AppDB.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st, err := store.Open(store.Options{
		DatabasePath:    cfg.Storage.DatabasePath,
		BleveIndexPath:  cfg.Storage.BleveIndexPath,
		VectorIndexPath: cfg.Storage.VectorIndexPath,
		Dimensions:      cfg.Ollama.EmbeddingDimensions,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	appDB, err := storage.NewDB(cfg.Storage.AppDatabasePath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize app database: %w", err)
	}

	ollama, err := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.EmbeddingModel, cfg.Ollama.GenerationModel, logger)
	if err != nil {
		_ = st.Close()
		_ = appDB.Close()
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}

	var reranker rerank.Reranker
	if cfg.Retrieval.RerankEnabled {
		reranker = rerank.NewHTTPReranker(cfg.Rerank.URL, cfg.Rerank.Model)
	}
	expander := expand.New(st, cfg.Retrieval.ExpansionWindow)
	orchestrator := retrieval.New(st, ollama, reranker, expander, retrieval.Config{
		TopK:                    cfg.Retrieval.TopK,
		OverRetrievalMultiplier: cfg.Retrieval.OverRetrievalMultiplier,
		RRFConstant:             cfg.Retrieval.RRFConstant,
		RerankEnabled:           cfg.Retrieval.RerankEnabled,
		ContextExpansionEnabled: cfg.Retrieval.ContextExpansionEnabled,
		QueryPrefix:             cfg.Retrieval.QueryPrefix,
	}, logger)

	recorder := metrics.NewRecorder(appDB, logger)
	ragSvc := rag.New(orchestrator, ollama, appDB, recorder, cfg.Ollama.GenerationModel, cfg.Ingest.MaxTags, logger)

	splitter, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		_ = st.Close()
		_ = appDB.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}
	jobs := ingest.NewManager(appDB, logger)
	var tagger ingest.Tagger
	if cfg.Ingest.AutoTagEnabled() {
		tagger = ragSvc
	}
	pipeline := ingest.NewPipeline(st, ollama, tagger, splitter, jobs, recorder, ingest.Config{
		EmbedBatchSize: cfg.Ingest.EmbedBatchSize,
		DocumentPrefix: cfg.Ingest.DocumentPrefix,
		AutoTag:        cfg.Ingest.AutoTagEnabled(),
	}, logger)

	return &Components{
		Store:    st,
		AppDB:    appDB,
		Metrics:  recorder,
		Pipeline: pipeline,
		RAG:      ragSvc,
	}, nil
}

func printUsage() {
	fmt.Println(`kotae - Local document question answering

Usage:
  kotae server [flags]             Start the HTTP server
  kotae ingest [flags] <source>    Ingest a file or URL and wait for completion
  kotae query [flags] <question>   Ask a question over the ingested documents
  kotae status [flags]             Show document/index counts
  kotae version                    Show version
  kotae help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --tags string      Comma-separated tags for the document

Query Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to answer without the server.
  --top-k int        Number of passages to retrieve (default from config)
  --tags string      Comma-separated tag filter
  --sources          Print source passages with the answer
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  kotae server
  kotae ingest --tags "ford,maintenance" manual.pdf
  kotae ingest https://example.com/handbook
  kotae query "How do I check the oil level?"
  kotae query --tags ford --sources "What is the tire pressure?"
  kotae status --output json`)
}
