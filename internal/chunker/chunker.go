// Package chunker splits document text into overlapping, offset-tagged chunks.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/models"
)

// separators, coarsest to finest: paragraph break, line break, sentence
// terminator, word boundary. When none occurs inside a window, the chunk is
// hard-cut at exactly maxSize.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into chunks of at most MaxSize bytes. Each chunk after
// the first starts Overlap bytes before the previous chunk's end, so
// consecutive chunks intentionally share up to Overlap bytes of text.
type Chunker struct {
	maxSize int
	overlap int
}

// New returns a Chunker. Overlap must be strictly smaller than maxSize or
// splitting cannot progress; that is a configuration error, not a runtime
// condition.
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", maxSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap cannot be negative, got %d", overlap)
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Split divides text into chunks for document docID. Chunk text is an exact
// slice of the input: text[c.CharStart:c.CharEnd]. Chunk ends land on
// separator boundaries where possible, found by descending from the coarsest
// separator to the finest; the next chunk starts at the previous chunk's end
// minus the overlap. ChunkIndex is dense and zero-based. Empty input yields
// no chunks. Split is a pure function of (text, maxSize, overlap).
func (c *Chunker) Split(docID, text string) []models.Chunk {
	if len(text) == 0 {
		return nil
	}
	var chunks []models.Chunk
	start, prevEnd := 0, 0
	for {
		end := c.cutPoint(text, start, prevEnd)
		chunks = append(chunks, models.Chunk{
			DocumentID: docID,
			ChunkIndex: len(chunks),
			Text:       text[start:end],
			CharStart:  start,
			CharEnd:    end,
		})
		if end >= len(text) {
			return chunks
		}
		start = end - c.overlap
		prevEnd = end
	}
}

// cutPoint returns the end offset for the chunk starting at start. Taking the
// rightmost separator boundary that still fits in maxSize is equivalent to
// greedily merging separator segments until the next would overflow; finer
// separators are consulted only when the coarser ones yield nothing, which
// mirrors recursing into an oversized segment. The boundary must consume text
// beyond prevEnd so splitting always progresses.
func (c *Chunker) cutPoint(text string, start, prevEnd int) int {
	limit := start + c.maxSize
	if limit >= len(text) {
		return len(text)
	}
	for _, sep := range separators {
		if end, ok := lastBoundary(text, sep, prevEnd, limit); ok {
			return end
		}
	}
	// Hard cut: no separator in the window (for example a token longer than
	// maxSize). Back off to a rune start so the cut never splits a character.
	end := limit
	for end > prevEnd+1 && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

// lastBoundary finds the rightmost occurrence of sep that ends at or before
// limit. The boundary sits just past the separator, so the separator stays
// attached to the chunk it terminates. Returns false when no occurrence ends
// after minEnd.
func lastBoundary(text, sep string, minEnd, limit int) (int, bool) {
	idx := strings.LastIndex(text[:limit], sep)
	if idx < 0 {
		return 0, false
	}
	end := idx + len(sep)
	if end <= minEnd {
		return 0, false
	}
	return end, true
}
