package store

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		DatabasePath:    filepath.Join(dir, "chunks.db"),
		BleveIndexPath:  filepath.Join(dir, "keyword.bleve"),
		VectorIndexPath: filepath.Join(dir, "vectors.bin"),
		Dimensions:      4,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func indexTestDoc(t *testing.T, s *Store, id, filename string, tags []string, texts []string, vectors [][]float32) {
	t.Helper()
	doc := &models.Document{ID: id, Filename: filename, SourceType: "text", Tags: tags}
	chunks := make([]models.Chunk, len(texts))
	offset := 0
	for i, text := range texts {
		chunks[i] = models.Chunk{
			DocumentID: id,
			ChunkIndex: i,
			Text:       text,
			CharStart:  offset,
			CharEnd:    offset + len(text),
		}
		offset += len(text)
	}
	if err := s.IndexChunks(context.Background(), doc, chunks, vectors); err != nil {
		t.Fatal(err)
	}
}

func TestKeywordSearchHydratesChunks(t *testing.T) {
	s := openTestStore(t)
	indexTestDoc(t, s, "doc1", "manual.txt", nil,
		[]string{"the carburetor mixes air and fuel", "the gearbox has five speeds"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})

	results, err := s.SearchKeyword(context.Background(), "carburetor", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.DocumentID != "doc1" || r.ChunkIndex != 0 {
		t.Errorf("unexpected hit %s/%d", r.DocumentID, r.ChunkIndex)
	}
	if r.Text != "the carburetor mixes air and fuel" {
		t.Errorf("hit not hydrated with chunk text: %q", r.Text)
	}
	if r.Filename != "manual.txt" {
		t.Errorf("hit not hydrated with filename: %q", r.Filename)
	}
	if r.Source != models.SourceKeyword {
		t.Errorf("unexpected source %s", r.Source)
	}
}

func TestVectorSearchRanksByCosine(t *testing.T) {
	s := openTestStore(t)
	indexTestDoc(t, s, "doc1", "a.txt", nil,
		[]string{"alpha", "beta"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})

	results, err := s.SearchVector(context.Background(), []float32{0.9, 0.1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkIndex != 0 {
		t.Errorf("expected closest vector first, got chunk %d", results[0].ChunkIndex)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %f, %f", results[0].Score, results[1].Score)
	}
	if results[0].Source != models.SourceVector {
		t.Errorf("unexpected source %s", results[0].Source)
	}
}

func TestTagFilterPartialTokenMatch(t *testing.T) {
	s := openTestStore(t)
	indexTestDoc(t, s, "doc1", "ford.txt", []string{"ford lincoln manual"},
		[]string{"the carburetor mixes air and fuel"},
		[][]float32{{1, 0, 0, 0}})
	indexTestDoc(t, s, "doc2", "toyota.txt", []string{"toyota corolla manual"},
		[]string{"the carburetor mixes air and fuel too"},
		[][]float32{{1, 0, 0, 0}})

	// Keyword leg: "ford" must match the multi-word tag "ford lincoln manual".
	results, err := s.SearchKeyword(context.Background(), "carburetor", 10, []string{"ford"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocumentID != "doc1" {
		t.Fatalf("expected only the ford document, got %+v", results)
	}

	// Vector leg honors the same filter.
	results, err = s.SearchVector(context.Background(), []float32{1, 0, 0, 0}, 10, []string{"ford"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocumentID != "doc1" {
		t.Fatalf("expected only the ford document, got %+v", results)
	}

	// A tag matching nothing yields no results rather than unfiltered ones.
	results, err = s.SearchVector(context.Background(), []float32{1, 0, 0, 0}, 10, []string{"honda"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for unmatched tag, got %d", len(results))
	}
}

func TestMatchesTags(t *testing.T) {
	if !matchesTags([]string{"ford lincoln manual"}, []string{"ford"}) {
		t.Error("token within multi-word tag should match")
	}
	if !matchesTags([]string{"brakes"}, []string{"FORD", "brakes"}) {
		t.Error("any filter tag matching should be enough")
	}
	if matchesTags([]string{"ford lincoln"}, []string{"for"}) {
		t.Error("substring of a token should not match")
	}
	if !matchesTags(nil, nil) {
		t.Error("empty filter matches everything")
	}
	if matchesTags(nil, []string{"ford"}) {
		t.Error("untagged document should not match a filter")
	}
}

func TestDeleteDocumentPurgesAllStores(t *testing.T) {
	s := openTestStore(t)
	indexTestDoc(t, s, "doc1", "a.txt", nil,
		[]string{"the carburetor mixes air and fuel"},
		[][]float32{{1, 0, 0, 0}})

	if err := s.DeleteDocument(context.Background(), "doc1"); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchKeyword(context.Background(), "carburetor", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("keyword index still has %d hits after delete", len(results))
	}
	if s.vectors.Count() != 0 {
		t.Errorf("vector index still has %d entries after delete", s.vectors.Count())
	}
	if _, err := s.GetDocument(context.Background(), "doc1"); err == nil {
		t.Error("expected error fetching deleted document")
	}
}

func TestUpdateDocumentTagsReindexes(t *testing.T) {
	s := openTestStore(t)
	indexTestDoc(t, s, "doc1", "a.txt", []string{"old"},
		[]string{"the carburetor mixes air and fuel"},
		[][]float32{{1, 0, 0, 0}})

	if err := s.UpdateDocumentTags(context.Background(), "doc1", []string{"new"}); err != nil {
		t.Fatal(err)
	}

	results, err := s.SearchKeyword(context.Background(), "carburetor", 10, []string{"old"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Error("old tag should no longer match")
	}
	results, err = s.SearchKeyword(context.Background(), "carburetor", 10, []string{"new"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Error("new tag should match")
	}
}

func TestFetchChunkRangeClampsToDocument(t *testing.T) {
	s := openTestStore(t)
	indexTestDoc(t, s, "doc1", "a.txt", nil,
		[]string{"one", "two", "three"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}})

	chunks, err := s.FetchChunkRange(context.Background(), "doc1", 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ChunkIndex != 1 || chunks[1].ChunkIndex != 2 {
		t.Errorf("unexpected chunk order: %d, %d", chunks[0].ChunkIndex, chunks[1].ChunkIndex)
	}
}

func TestVectorIndexSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")

	idx, err := NewVectorIndex(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add([]string{"doc1:0", "doc1:1"}, [][]float32{{1, 0, 0, 0}, {0, 2, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewVectorIndex(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("expected 2 vectors after load, got %d", loaded.Count())
	}
	hits, err := loaded.Search([]float32{0, 1, 0, 0}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "doc1:1" {
		t.Errorf("unexpected hits after load: %+v", hits)
	}
}

func TestVectorIndexLoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")

	idx, _ := NewVectorIndex(4)
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	other, _ := NewVectorIndex(8)
	if err := other.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestFindDocumentBySource(t *testing.T) {
	s := openTestStore(t)
	indexTestDoc(t, s, "doc1", "manual.txt", nil,
		[]string{"hello"}, [][]float32{{1, 0, 0, 0}})

	doc, err := s.FindDocumentBySource(context.Background(), "manual.txt", "text")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc.ID != "doc1" {
		t.Fatalf("expected doc1, got %+v", doc)
	}
	doc, err = s.FindDocumentBySource(context.Background(), "other.txt", "text")
	if err != nil {
		t.Fatal(err)
	}
	if doc != nil {
		t.Errorf("expected nil for unknown source, got %+v", doc)
	}
}

func TestParseChunkKey(t *testing.T) {
	docID, index, err := parseChunkKey("doc-a:b:12")
	if err != nil {
		t.Fatal(err)
	}
	if docID != "doc-a:b" || index != 12 {
		t.Errorf("unexpected parse: %s / %d", docID, index)
	}
	if _, _, err := parseChunkKey("nocolon"); err == nil {
		t.Error("expected error for malformed key")
	}
}
