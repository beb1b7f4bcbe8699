package config

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".kotae/chunks.db"
	}
	if cfg.Storage.AppDatabasePath == "" {
		cfg.Storage.AppDatabasePath = ".kotae/app.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = ".kotae/keyword.bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = ".kotae/vectors.bin"
	}

	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = "http://localhost:11434"
	}
	if cfg.Ollama.EmbeddingModel == "" {
		cfg.Ollama.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Ollama.GenerationModel == "" {
		cfg.Ollama.GenerationModel = "llama3.2"
	}
	if cfg.Ollama.EmbeddingDimensions == 0 {
		cfg.Ollama.EmbeddingDimensions = 768
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 2000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}

	if cfg.Ingest.EmbedBatchSize == 0 {
		cfg.Ingest.EmbedBatchSize = 32
	}
	if cfg.Ingest.DocumentPrefix == "" {
		cfg.Ingest.DocumentPrefix = "search_document: "
	}
	if cfg.Ingest.MaxTags == 0 {
		cfg.Ingest.MaxTags = 5
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Retrieval.OverRetrievalMultiplier == 0 {
		cfg.Retrieval.OverRetrievalMultiplier = 3
	}
	if cfg.Retrieval.RRFConstant == 0 {
		cfg.Retrieval.RRFConstant = 60
	}
	if cfg.Retrieval.ExpansionWindow == 0 {
		cfg.Retrieval.ExpansionWindow = 1
	}
	if cfg.Retrieval.QueryPrefix == "" {
		cfg.Retrieval.QueryPrefix = "search_query: "
	}

	if len(cfg.Watch.Extensions) == 0 {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".html"}
	}
}
