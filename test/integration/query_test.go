// Package integration provides end-to-end tests over real storage and indices.
package integration

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/expand"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
	"github.com/hyperjump/kotae/pkg/utils"
)

const dimensions = 16

// wordEmbedder hashes words into a bag-of-words vector, so texts that share
// vocabulary get similar embeddings. Deterministic and Ollama-free.
type wordEmbedder struct{}

func (wordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dimensions)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(word, ".,!?:")))
			vec[h.Sum32()%dimensions]++
		}
		utils.NormalizeL2(vec)
		out[i] = vec
	}
	return out, nil
}

// echoGenerator returns a canned answer and records the prompts it saw.
type echoGenerator struct {
	lastPrompt string
}

func (g *echoGenerator) Generate(ctx context.Context, model, systemPrompt, prompt string) (*llm.GenerationResult, error) {
	g.lastPrompt = prompt
	return &llm.GenerationResult{Text: "Check the dipstick with the engine off."}, nil
}

func (g *echoGenerator) GenerateStream(ctx context.Context, model, systemPrompt, prompt string, onToken llm.TokenFunc) (*llm.GenerationResult, error) {
	g.lastPrompt = prompt
	for _, token := range []string{"Check ", "the ", "dipstick."} {
		if err := onToken(token); err != nil {
			return nil, err
		}
	}
	return &llm.GenerationResult{Text: "Check the dipstick."}, nil
}

type env struct {
	store    *store.Store
	pipeline *ingest.Pipeline
	rag      *rag.Service
	gen      *echoGenerator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	st, err := store.Open(store.Options{
		DatabasePath:    filepath.Join(dir, "chunks.db"),
		BleveIndexPath:  filepath.Join(dir, "bleve"),
		VectorIndexPath: filepath.Join(dir, "vectors.bin"),
		Dimensions:      dimensions,
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	db, err := storage.NewDB(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	splitter, err := chunker.New(120, 20)
	if err != nil {
		t.Fatal(err)
	}
	embedder := wordEmbedder{}
	pipeline := ingest.NewPipeline(st, embedder, nil, splitter, ingest.NewManager(db, logger), nil, ingest.Config{
		EmbedBatchSize: 4,
		DocumentPrefix: "search_document: ",
	}, logger)

	orchestrator := retrieval.New(st, embedder, nil, expand.New(st, 1), retrieval.Config{
		TopK:                    5,
		OverRetrievalMultiplier: 3,
		RRFConstant:             60,
		QueryPrefix:             "search_query: ",
	}, logger)

	gen := &echoGenerator{}
	svc := rag.New(orchestrator, gen, db, nil, "test-model", 5, logger)
	return &env{store: st, pipeline: pipeline, rag: svc, gen: gen}
}

func (e *env) ingest(t *testing.T, name, text string, tags []string) {
	t.Helper()
	job := e.pipeline.IngestText(name, text, tags)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		record, err := e.pipeline.Jobs().Get(context.Background(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		switch record.Status {
		case ingest.StatusCompleted:
			return
		case ingest.StatusFailed, ingest.StatusCancelled:
			t.Fatalf("ingestion %s: %s", record.Status, record.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for ingestion")
}

func TestIntegration_IngestAndQuery(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "engine.txt",
		"To check the oil level, park on level ground and wait for the engine to cool. "+
			"Pull the dipstick, wipe it clean, reinsert it fully, and pull it again to read the level.",
		nil)
	e.ingest(t, "tires.txt",
		"The recommended tire pressure is 35 psi for the front tires and 33 psi for the rear tires. "+
			"Check pressure when the tires are cold.",
		nil)

	resp, err := e.rag.Answer(context.Background(), &models.QueryRequest{
		Question:      "How do I check the oil level?",
		ReturnSources: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "Check the dipstick with the engine off." {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if len(resp.Sources) == 0 {
		t.Fatal("expected sources")
	}
	if resp.Sources[0].Filename != "engine.txt" {
		t.Errorf("top source: got %q, want engine.txt", resp.Sources[0].Filename)
	}
	if !strings.Contains(e.gen.lastPrompt, "dipstick") {
		t.Error("expected the retrieved passage in the generation prompt")
	}
	if !strings.Contains(e.gen.lastPrompt, "[Source 1: engine.txt]") {
		t.Errorf("expected source header in prompt, got:\n%s", e.gen.lastPrompt)
	}
}

func TestIntegration_TagFilter(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "ford.txt", "The fuse box is located under the dashboard on the driver side.", []string{"ford f-150 manual"})
	e.ingest(t, "toyota.txt", "The fuse box is located in the engine compartment next to the battery.", []string{"toyota camry manual"})

	resp, err := e.rag.Answer(context.Background(), &models.QueryRequest{
		Question:      "Where is the fuse box?",
		Tags:          []string{"toyota"},
		ReturnSources: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) == 0 {
		t.Fatal("expected sources")
	}
	for _, src := range resp.Sources {
		if src.Filename != "toyota.txt" {
			t.Errorf("tag filter leaked source %q", src.Filename)
		}
	}
}

func TestIntegration_EmptyRetrieval(t *testing.T) {
	e := newEnv(t)
	resp, err := e.rag.Answer(context.Background(), &models.QueryRequest{Question: "anything at all?"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Answer, "couldn't find anything relevant") {
		t.Errorf("expected the canned empty answer, got %q", resp.Answer)
	}
	if e.gen.lastPrompt != "" {
		t.Error("generator must not be called when retrieval is empty")
	}
}

func TestIntegration_DocumentReplacement(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "notes.txt", "The coolant reservoir holds two liters.", nil)
	e.ingest(t, "notes.txt", "The coolant reservoir holds three liters after the recall fix.", nil)

	docs, err := e.store.ListDocuments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document after re-ingest, got %d", len(docs))
	}

	resp, err := e.rag.Answer(context.Background(), &models.QueryRequest{
		Question:      "How much does the coolant reservoir hold?",
		ReturnSources: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, src := range resp.Sources {
		if strings.Contains(src.Content, "three liters") {
			found = true
		}
		if strings.Contains(src.Content, "two liters") {
			t.Errorf("stale chunk returned: %q", src.Content)
		}
	}
	if !found {
		t.Error("expected the replacement text among sources")
	}
}

func TestIntegration_StreamEvents(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "engine.txt", "Pull the dipstick to check the oil level in the engine.", nil)

	var types []string
	err := e.rag.AnswerStream(context.Background(), &models.QueryRequest{Question: "How do I check the oil?"},
		func(ev models.StreamEvent) error {
			types = append(types, ev.Type)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(types) < 3 {
		t.Fatalf("expected sources + tokens + done, got %v", types)
	}
	if types[0] != "sources" {
		t.Errorf("first event: got %q, want sources", types[0])
	}
	if types[len(types)-1] != "done" {
		t.Errorf("last event: got %q, want done", types[len(types)-1])
	}
	for _, typ := range types[1 : len(types)-1] {
		if typ != "token" {
			t.Errorf("middle event: got %q, want token", typ)
		}
	}
}
