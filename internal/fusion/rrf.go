// Package fusion merges independently ranked candidate lists into one
// score-ordered list using Reciprocal Rank Fusion.
package fusion

import (
	"sort"

	"github.com/hyperjump/kotae/internal/models"
)

// DefaultK is the RRF damping constant. It controls how steeply contributions
// fall off with rank: each candidate at 1-based rank r contributes
// 1/(k+r). Larger values flatten the difference between high and low ranks.
// Tunable via config; 60 is the value from the original RRF paper.
const DefaultK = 60

// Fuse merges ranked lists by summing each chunk identity's reciprocal rank
// contributions across all lists. The result is ordered by fused score
// descending, ties broken by first appearance across the input lists, and
// truncated to topN (topN <= 0 means no truncation). The returned candidates
// carry the payload from their first appearance, the summed score, and
// source "fused". Fuse is pure: no I/O, no state.
func Fuse(lists [][]models.ScoredChunk, kConstant, topN int) []models.ScoredChunk {
	if kConstant <= 0 {
		kConstant = DefaultK
	}
	type entry struct {
		chunk models.ScoredChunk
		score float64
		order int
	}
	byRef := make(map[models.ChunkRef]*entry)
	entries := make([]*entry, 0)
	for _, list := range lists {
		for rank, cand := range list {
			ref := cand.Ref()
			e, ok := byRef[ref]
			if !ok {
				e = &entry{chunk: cand, order: len(entries)}
				byRef[ref] = e
				entries = append(entries, e)
			}
			e.score += 1.0 / float64(kConstant+rank+1)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].order < entries[j].order
	})
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	out := make([]models.ScoredChunk, len(entries))
	for i, e := range entries {
		out[i] = e.chunk
		out[i].Score = e.score
		out[i].Source = models.SourceFused
	}
	return out
}
