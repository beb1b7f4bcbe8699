// Package expand assembles answer context by merging winning chunks with
// their stored textual neighbors.
package expand

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// Fetcher looks up stored chunks of one document by inclusive index range.
// Out-of-range indexes are simply absent from the result, never an error.
type Fetcher interface {
	FetchChunkRange(ctx context.Context, documentID string, from, to int) ([]models.Chunk, error)
}

// Expander fetches and merges the neighbors of winning chunks.
type Expander struct {
	fetcher Fetcher
	window  int
}

// New returns an Expander that merges each winner with its neighbors at
// chunk_index +/- window.
func New(fetcher Fetcher, window int) *Expander {
	if window < 1 {
		window = 1
	}
	return &Expander{fetcher: fetcher, window: window}
}

type span struct{ from, to int }

// Expand returns one ExpandedContext per winner, preserving winner order.
// Neighbor windows are coalesced per document so each distinct
// (document_id, chunk_index) is fetched at most once per batch, and the
// coalesced ranges are fetched concurrently. Within the batch a chunk's text
// is rendered at most once: winners close enough to share neighbors never
// duplicate the shared text. A winner whose entire window was already claimed
// falls back to its own text so it never renders empty.
func (e *Expander) Expand(ctx context.Context, winners []models.ScoredChunk) ([]models.ExpandedContext, error) {
	if len(winners) == 0 {
		return nil, nil
	}

	spans := make(map[string][]span)
	for _, w := range winners {
		from := w.ChunkIndex - e.window
		if from < 0 {
			from = 0
		}
		spans[w.DocumentID] = append(spans[w.DocumentID], span{from, w.ChunkIndex + e.window})
	}
	total := 0
	for docID, ss := range spans {
		spans[docID] = coalesce(ss)
		total += len(spans[docID])
	}

	var (
		mu      sync.Mutex
		fetched = make(map[models.ChunkRef]string)
		wg      sync.WaitGroup
		errChan = make(chan error, total)
	)
	for docID, ss := range spans {
		for _, sp := range ss {
			wg.Add(1)
			go func(docID string, sp span) {
				defer wg.Done()
				chunks, err := e.fetcher.FetchChunkRange(ctx, docID, sp.from, sp.to)
				if err != nil {
					errChan <- fmt.Errorf("fetch neighbors of %s [%d,%d]: %w", docID, sp.from, sp.to, err)
					return
				}
				mu.Lock()
				for _, c := range chunks {
					fetched[c.Ref()] = c.Text
				}
				mu.Unlock()
			}(docID, sp)
		}
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[models.ChunkRef]bool)
	out := make([]models.ExpandedContext, 0, len(winners))
	for _, w := range winners {
		var parts []string
		var indices []int
		for i := w.ChunkIndex - e.window; i <= w.ChunkIndex+e.window; i++ {
			if i < 0 {
				continue
			}
			ref := models.ChunkRef{DocumentID: w.DocumentID, ChunkIndex: i}
			text, ok := fetched[ref]
			if !ok || seen[ref] {
				continue
			}
			seen[ref] = true
			parts = append(parts, text)
			indices = append(indices, i)
		}
		merged := strings.Join(parts, "\n")
		if merged == "" {
			merged = w.Text
		}
		out = append(out, models.ExpandedContext{
			Ref:             w.Ref(),
			MergedText:      merged,
			NeighborIndices: indices,
			Score:           w.Score,
		})
	}
	return out, nil
}

// coalesce merges overlapping or adjacent index spans.
func coalesce(ss []span) []span {
	sort.Slice(ss, func(i, j int) bool { return ss[i].from < ss[j].from })
	merged := ss[:1]
	for _, s := range ss[1:] {
		last := &merged[len(merged)-1]
		if s.from <= last.to+1 {
			if s.to > last.to {
				last.to = s.to
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
