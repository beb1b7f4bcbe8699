package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/store"
)

type captureEmbedder struct {
	texts []string
	block chan struct{}
}

func (e *captureEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type fixedTagger struct {
	tags   []string
	called bool
}

func (t *fixedTagger) GenerateTags(ctx context.Context, content, filename string) []string {
	t.called = true
	return t.tags
}

func newTestPipeline(t *testing.T, embedder *captureEmbedder, tagger Tagger, autoTag bool) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.Options{
		DatabasePath:    filepath.Join(dir, "chunks.db"),
		BleveIndexPath:  filepath.Join(dir, "keyword.bleve"),
		VectorIndexPath: filepath.Join(dir, "vectors.bin"),
		Dimensions:      4,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	db, err := storage.NewDB(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	splitter, err := chunker.New(200, 20)
	if err != nil {
		t.Fatal(err)
	}
	jobs := NewManager(db, zap.NewNop())
	cfg := Config{EmbedBatchSize: 2, DocumentPrefix: "search_document: ", AutoTag: autoTag}
	return NewPipeline(st, embedder, tagger, splitter, jobs, nil, cfg, zap.NewNop())
}

func waitForJob(t *testing.T, p *Pipeline, id string, wantStatus string) *storage.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := p.Jobs().Get(context.Background(), id)
		if err == nil {
			switch record.Status {
			case wantStatus:
				return record
			case StatusCompleted, StatusFailed, StatusCancelled:
				t.Fatalf("job reached terminal status %q (error %q) while waiting for %q", record.Status, record.Error, wantStatus)
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach %q", id, wantStatus)
	return nil
}

func TestIngestTextCompletes(t *testing.T) {
	embedder := &captureEmbedder{}
	tagger := &fixedTagger{tags: []string{"ford", "owners manual"}}
	p := newTestPipeline(t, embedder, tagger, true)

	job := p.IngestText("notes.txt", "The carburetor mixes air and fuel.", nil)
	record := waitForJob(t, p, job.ID, StatusCompleted)

	if record.DocumentID == "" || record.ChunkCount != 1 {
		t.Fatalf("unexpected job record %+v", record)
	}
	if !tagger.called {
		t.Error("auto-tagger should have run")
	}

	doc, err := p.store.GetDocument(context.Background(), record.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Tags) != 2 || doc.Tags[0] != "ford" {
		t.Errorf("unexpected document tags %v", doc.Tags)
	}
	if doc.SourceType != "text" || doc.Filename != "notes.txt" {
		t.Errorf("unexpected document %+v", doc)
	}

	if len(embedder.texts) != 1 || !strings.HasPrefix(embedder.texts[0], "search_document: The carburetor") {
		t.Errorf("document prefix not applied: %q", embedder.texts)
	}

	results, err := p.store.SearchKeyword(context.Background(), "carburetor", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("ingested document not searchable, got %d hits", len(results))
	}
}

func TestIngestProvidedTagsSkipTagger(t *testing.T) {
	tagger := &fixedTagger{tags: []string{"generated"}}
	p := newTestPipeline(t, &captureEmbedder{}, tagger, true)

	job := p.IngestText("notes.txt", "some text", []string{"manual"})
	record := waitForJob(t, p, job.ID, StatusCompleted)

	if tagger.called {
		t.Error("tagger should be skipped when tags are provided")
	}
	doc, err := p.store.GetDocument(context.Background(), record.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Tags) != 1 || doc.Tags[0] != "manual" {
		t.Errorf("unexpected tags %v", doc.Tags)
	}
}

func TestIngestEmptyTextFails(t *testing.T) {
	p := newTestPipeline(t, &captureEmbedder{}, nil, false)

	job := p.IngestText("empty.txt", "   \n  ", nil)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := p.Jobs().Get(context.Background(), job.ID)
		if err == nil && record.Status == StatusFailed {
			if !strings.Contains(record.Error, "no text extracted") {
				t.Errorf("unexpected error %q", record.Error)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never failed")
}

func TestIngestReplacesExistingDocument(t *testing.T) {
	p := newTestPipeline(t, &captureEmbedder{}, nil, false)

	first := p.IngestText("manual.txt", "old revision", nil)
	waitForJob(t, p, first.ID, StatusCompleted)

	second := p.IngestText("manual.txt", "new revision", nil)
	record := waitForJob(t, p, second.ID, StatusCompleted)

	docs, err := p.store.ListDocuments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document after replacement, got %d", len(docs))
	}
	if docs[0].ID != record.DocumentID {
		t.Error("surviving document should be the replacement")
	}
	chunks, err := p.store.GetDocumentChunks(context.Background(), docs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Text != "new revision" {
		t.Errorf("unexpected chunk text %q", chunks[0].Text)
	}
}

func TestIngestCancellation(t *testing.T) {
	embedder := &captureEmbedder{block: make(chan struct{})}
	p := newTestPipeline(t, embedder, nil, false)

	job := p.IngestText("big.txt", "some text to embed", nil)
	waitForJob(t, p, job.ID, StatusEmbedding)

	if !p.Jobs().Cancel(job.ID) {
		t.Fatal("cancel should find the active job")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := p.Jobs().Get(context.Background(), job.ID)
		if err == nil && record.Status == StatusCancelled {
			docs, err := p.store.ListDocuments(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(docs) != 0 {
				t.Errorf("cancelled job must not leave a document behind, got %d", len(docs))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached cancelled")
}

func TestCancelUnknownJob(t *testing.T) {
	p := newTestPipeline(t, &captureEmbedder{}, nil, false)
	if p.Jobs().Cancel("missing") {
		t.Error("cancelling an unknown job should report false")
	}
}
