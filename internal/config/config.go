// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for databases and indices.
type StorageConfig struct {
	// DatabasePath is the SQLite database holding documents and chunks.
	DatabasePath string `yaml:"database_path"`
	// AppDatabasePath is the SQLite database holding chats, prompts,
	// metrics, and finished jobs.
	AppDatabasePath string `yaml:"app_database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// OllamaConfig holds the Ollama server and model settings.
type OllamaConfig struct {
	URL                 string `yaml:"url"`
	EmbeddingModel      string `yaml:"embedding_model"`
	GenerationModel     string `yaml:"generation_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	EmbedBatchSize int `yaml:"embed_batch_size"`
	// DocumentPrefix is prepended to chunk texts before embedding
	// (nomic-style task prefix).
	DocumentPrefix string `yaml:"document_prefix"`
	AutoTag        *bool  `yaml:"auto_tag"`
	MaxTags        int    `yaml:"max_tags"`
}

// AutoTagEnabled returns whether auto-tagging runs at ingestion; defaults to
// true when unset.
func (c *IngestConfig) AutoTagEnabled() bool {
	if c.AutoTag != nil {
		return *c.AutoTag
	}
	return true
}

// RetrievalConfig holds query pipeline settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// OverRetrievalMultiplier widens the retrieval pool to
	// top_k * multiplier when reranking is enabled, so the cross-encoder
	// has candidates to discard.
	OverRetrievalMultiplier int `yaml:"over_retrieval_multiplier"`
	// RRFConstant is the damping constant of Reciprocal Rank Fusion.
	RRFConstant             int    `yaml:"rrf_constant"`
	RerankEnabled           bool   `yaml:"rerank_enabled"`
	ContextExpansionEnabled bool   `yaml:"context_expansion_enabled"`
	ExpansionWindow         int    `yaml:"expansion_window"`
	// QueryPrefix is prepended to the question before embedding.
	QueryPrefix string `yaml:"query_prefix"`
}

// RerankConfig holds the cross-encoder sidecar settings.
type RerankConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// WatchConfig holds drop-folder settings. Files appearing under Directories
// with one of Extensions are ingested automatically.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies
// defaults, and validates. Validation failures here are fatal configuration
// errors; they are never surfaced per-request.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.AppDatabasePath = expandPath(cfg.Storage.AppDatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks constraints that make the pipeline unable to run. These are
// startup errors, not per-request conditions.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking.overlap cannot be negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d): splitting cannot progress otherwise",
			c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.OverRetrievalMultiplier < 1 {
		return fmt.Errorf("retrieval.over_retrieval_multiplier must be at least 1, got %d", c.Retrieval.OverRetrievalMultiplier)
	}
	if c.Retrieval.ExpansionWindow < 1 {
		return fmt.Errorf("retrieval.expansion_window must be at least 1, got %d", c.Retrieval.ExpansionWindow)
	}
	if c.Ollama.EmbeddingDimensions <= 0 {
		return fmt.Errorf("ollama.embedding_dimensions must be positive, got %d", c.Ollama.EmbeddingDimensions)
	}
	if c.Retrieval.RerankEnabled && c.Rerank.URL == "" {
		return fmt.Errorf("retrieval.rerank_enabled requires rerank.url")
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
