package expand

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

// fakeFetcher serves a document of n sequential chunks ("chunk-<i>") and
// records every index it was asked for, so tests can assert fetch-once.
type fakeFetcher struct {
	mu      sync.Mutex
	n       int
	fetches map[string]int // "docID:index" -> times fetched
	fail    bool
}

func newFakeFetcher(n int) *fakeFetcher {
	return &fakeFetcher{n: n, fetches: make(map[string]int)}
}

func (f *fakeFetcher) FetchChunkRange(ctx context.Context, docID string, from, to int) ([]models.Chunk, error) {
	if f.fail {
		return nil, fmt.Errorf("store unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chunk
	for i := from; i <= to; i++ {
		if i < 0 || i >= f.n {
			continue
		}
		f.fetches[fmt.Sprintf("%s:%d", docID, i)]++
		out = append(out, models.Chunk{
			DocumentID: docID,
			ChunkIndex: i,
			Text:       fmt.Sprintf("chunk-%d", i),
		})
	}
	return out, nil
}

func winner(docID string, idx int, score float64) models.ScoredChunk {
	return models.ScoredChunk{
		Chunk: models.Chunk{DocumentID: docID, ChunkIndex: idx, Text: fmt.Sprintf("chunk-%d", idx)},
		Score: score,
	}
}

func TestExpand_MergesNeighborsInIndexOrder(t *testing.T) {
	f := newFakeFetcher(10)
	e := New(f, 1)
	out, err := e.Expand(context.Background(), []models.ScoredChunk{winner("doc", 5, 0.9)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 expansion, got %d", len(out))
	}
	if out[0].MergedText != "chunk-4\nchunk-5\nchunk-6" {
		t.Errorf("unexpected merged text %q", out[0].MergedText)
	}
	if fmt.Sprint(out[0].NeighborIndices) != "[4 5 6]" {
		t.Errorf("unexpected neighbor indices %v", out[0].NeighborIndices)
	}
	if out[0].Score != 0.9 {
		t.Errorf("score not carried through: %v", out[0].Score)
	}
}

// Adjacent winners share a neighbor; its text must appear exactly once across
// both expansions, and no chunk may be fetched twice.
func TestExpand_AdjacentWinnersDedup(t *testing.T) {
	f := newFakeFetcher(10)
	e := New(f, 1)
	out, err := e.Expand(context.Background(), []models.ScoredChunk{
		winner("doc", 3, 0.9),
		winner("doc", 4, 0.8),
	})
	if err != nil {
		t.Fatal(err)
	}
	combined := out[0].MergedText + "\n" + out[1].MergedText
	if got := strings.Count(combined, "chunk-4"); got != 1 {
		t.Errorf("chunk-4 rendered %d times, want exactly 1", got)
	}
	if out[0].MergedText != "chunk-2\nchunk-3\nchunk-4" {
		t.Errorf("first expansion = %q", out[0].MergedText)
	}
	if out[1].MergedText != "chunk-5" {
		t.Errorf("second expansion = %q", out[1].MergedText)
	}
	for key, n := range f.fetches {
		if n != 1 {
			t.Errorf("%s fetched %d times, want once per batch", key, n)
		}
	}
}

func TestExpand_MissingNeighborsOmitted(t *testing.T) {
	f := newFakeFetcher(3) // indexes 0..2
	e := New(f, 1)
	out, err := e.Expand(context.Background(), []models.ScoredChunk{
		winner("doc", 0, 1), // no predecessor
		winner("doc", 2, 1), // no successor
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].MergedText != "chunk-0\nchunk-1" {
		t.Errorf("first-chunk expansion = %q", out[0].MergedText)
	}
	if out[1].MergedText != "chunk-2" {
		t.Errorf("last-chunk expansion = %q", out[1].MergedText)
	}
}

// A winner whose whole window was claimed by an earlier winner still renders
// its own text rather than nothing.
func TestExpand_FullyClaimedWindowFallsBack(t *testing.T) {
	f := newFakeFetcher(10)
	e := New(f, 1)
	out, err := e.Expand(context.Background(), []models.ScoredChunk{
		winner("doc", 4, 1),
		winner("doc", 4, 0.5), // duplicate identity, window fully claimed
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[1].MergedText != "chunk-4" {
		t.Errorf("claimed window should fall back to winner text, got %q", out[1].MergedText)
	}
	if len(out[1].NeighborIndices) != 0 {
		t.Errorf("fallback should render no new neighbors, got %v", out[1].NeighborIndices)
	}
}

func TestExpand_OrderPreservesWinners(t *testing.T) {
	f := newFakeFetcher(100)
	e := New(f, 1)
	winners := []models.ScoredChunk{
		winner("doc", 50, 1),
		winner("doc", 10, 1),
		winner("doc", 90, 1),
	}
	out, err := e.Expand(context.Background(), winners)
	if err != nil {
		t.Fatal(err)
	}
	for i, w := range winners {
		if out[i].Ref.ChunkIndex != w.ChunkIndex {
			t.Errorf("position %d: got index %d, want %d", i, out[i].Ref.ChunkIndex, w.ChunkIndex)
		}
	}
}

func TestExpand_FetchFailureIsFatal(t *testing.T) {
	f := newFakeFetcher(10)
	f.fail = true
	e := New(f, 1)
	if _, err := e.Expand(context.Background(), []models.ScoredChunk{winner("doc", 5, 1)}); err == nil {
		t.Error("expected error when the store is unavailable")
	}
}

func TestExpand_NoWinners(t *testing.T) {
	e := New(newFakeFetcher(10), 1)
	out, err := e.Expand(context.Background(), nil)
	if err != nil || out != nil {
		t.Errorf("empty batch should expand to nothing, got %v, %v", out, err)
	}
}
