// Package retrieval runs the staged query pipeline: embed the question, run
// both search legs concurrently, fuse their rankings, and optionally rerank
// with a cross-encoder and expand winners with their neighbors.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/fusion"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rerank"
)

// Stage names the pipeline step a retrieval is in; used for logging and for
// attributing failures.
type Stage string

const (
	StageEmbedding  Stage = "embedding"
	StageRetrieving Stage = "retrieving"
	StageFusing     Stage = "fusing"
	StageReranking  Stage = "reranking"
	StageExpanding  Stage = "expanding"
	StageDone       Stage = "done"
)

// Searcher runs the two retrieval legs. Both legs honor the same tag filter.
type Searcher interface {
	SearchKeyword(ctx context.Context, query string, limit int, tags []string) ([]models.ScoredChunk, error)
	SearchVector(ctx context.Context, vector []float32, limit int, tags []string) ([]models.ScoredChunk, error)
}

// ContextExpander merges winners with their stored neighbors.
type ContextExpander interface {
	Expand(ctx context.Context, winners []models.ScoredChunk) ([]models.ExpandedContext, error)
}

// Config holds the orchestrator's tunables.
type Config struct {
	TopK int
	// OverRetrievalMultiplier widens the candidate pool to TopK*multiplier
	// when reranking runs, so the cross-encoder has candidates to discard.
	OverRetrievalMultiplier int
	RRFConstant             int
	RerankEnabled           bool
	ContextExpansionEnabled bool
	// QueryPrefix is prepended to the question before embedding.
	QueryPrefix string
}

// Options are per-request overrides.
type Options struct {
	TopK int
	Tags []string
	// Rerank and ExpandContext override the configured defaults when set.
	Rerank        *bool
	ExpandContext *bool
}

// Result is the outcome of one retrieval. Zero passages with a nil error is a
// valid outcome: nothing matched.
type Result struct {
	Passages []models.Passage
	// Reranked reports whether the cross-encoder stage ran.
	Reranked bool
	// Expanded reports whether context expansion ran.
	Expanded bool
}

// Empty reports whether retrieval produced no context.
func (r *Result) Empty() bool {
	return len(r.Passages) == 0
}

// Orchestrator wires the retrieval stages together.
type Orchestrator struct {
	searcher Searcher
	embedder llm.Embedder
	reranker rerank.Reranker
	expander ContextExpander
	cfg      Config
	logger   *zap.Logger
}

// New returns an orchestrator. reranker may be nil when reranking is
// disabled; expander may be nil when context expansion is disabled.
func New(searcher Searcher, embedder llm.Embedder, reranker rerank.Reranker, expander ContextExpander, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		searcher: searcher,
		embedder: embedder,
		reranker: reranker,
		expander: expander,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve runs the full pipeline for one question.
//
// Embedding failure is fatal: without a query vector the vector leg cannot
// run, and a silently keyword-only result would be misleading. Both search
// legs are likewise fatal on failure for the same reason. Expansion only runs
// after reranking: expanding an unreranked pool would merge neighbors of
// candidates that a later stage would have discarded.
func (o *Orchestrator) Retrieve(ctx context.Context, question string, opts Options) (*Result, error) {
	topK := o.cfg.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	doRerank := o.cfg.RerankEnabled && o.reranker != nil
	if opts.Rerank != nil {
		doRerank = *opts.Rerank && o.reranker != nil
	}
	doExpand := o.cfg.ContextExpansionEnabled && o.expander != nil
	if opts.ExpandContext != nil {
		doExpand = *opts.ExpandContext && o.expander != nil
	}

	pool := topK
	if doRerank {
		pool = topK * o.cfg.OverRetrievalMultiplier
	}

	vector, err := o.embedQuestion(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageEmbedding, err)
	}

	keywordHits, vectorHits, err := o.searchBothLegs(ctx, question, vector, pool, opts.Tags)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageRetrieving, err)
	}

	fused := fusion.Fuse([][]models.ScoredChunk{keywordHits, vectorHits}, o.cfg.RRFConstant, pool)
	o.logger.Debug("fused candidates",
		zap.Int("keyword", len(keywordHits)),
		zap.Int("vector", len(vectorHits)),
		zap.Int("fused", len(fused)))

	if len(fused) == 0 {
		return &Result{}, nil
	}

	result := &Result{}
	winners := fused
	if doRerank {
		winners, err = o.rerankCandidates(ctx, question, fused, topK)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", StageReranking, err)
		}
		result.Reranked = true
	} else if len(winners) > topK {
		winners = winners[:topK]
	}

	if doRerank && doExpand {
		expanded, err := o.expander.Expand(ctx, winners)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", StageExpanding, err)
		}
		result.Expanded = true
		result.Passages = make([]models.Passage, len(expanded))
		for i, ec := range expanded {
			result.Passages[i] = models.Passage{
				DocumentID: ec.Ref.DocumentID,
				ChunkIndex: ec.Ref.ChunkIndex,
				Text:       ec.MergedText,
				Score:      ec.Score,
				Source:     winners[i].Source,
				Filename:   winners[i].Filename,
			}
		}
		return result, nil
	}

	result.Passages = make([]models.Passage, len(winners))
	for i, w := range winners {
		result.Passages[i] = models.Passage{
			DocumentID: w.DocumentID,
			ChunkIndex: w.ChunkIndex,
			Text:       w.Text,
			Score:      w.Score,
			Source:     w.Source,
			Filename:   w.Filename,
		}
	}
	return result, nil
}

func (o *Orchestrator) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	vectors, err := o.embedder.Embed(ctx, []string{o.cfg.QueryPrefix + question})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

// searchBothLegs runs keyword and vector search concurrently. Either failing
// fails the retrieval.
func (o *Orchestrator) searchBothLegs(ctx context.Context, question string, vector []float32, limit int, tags []string) ([]models.ScoredChunk, []models.ScoredChunk, error) {
	var (
		keywordHits []models.ScoredChunk
		vectorHits  []models.ScoredChunk
		wg          sync.WaitGroup
		errChan     = make(chan error, 2)
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		hits, err := o.searcher.SearchKeyword(ctx, question, limit, tags)
		if err != nil {
			errChan <- fmt.Errorf("keyword leg: %w", err)
			return
		}
		keywordHits = hits
	}()
	go func() {
		defer wg.Done()
		hits, err := o.searcher.SearchVector(ctx, vector, limit, tags)
		if err != nil {
			errChan <- fmt.Errorf("vector leg: %w", err)
			return
		}
		vectorHits = hits
	}()
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, nil, err
		}
	}
	return keywordHits, vectorHits, nil
}

// rerankCandidates scores the fused pool with the cross-encoder in one
// batched call and keeps the topK by score. The sort is stable, so fusion
// order breaks cross-encoder score ties.
func (o *Orchestrator) rerankCandidates(ctx context.Context, question string, candidates []models.ScoredChunk, topK int) ([]models.ScoredChunk, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	scores, err := o.reranker.Score(ctx, question, texts)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}

	winners := make([]models.ScoredChunk, len(candidates))
	copy(winners, candidates)
	for i := range winners {
		winners[i].Score = scores[i]
		winners[i].Source = models.SourceRerank
	}
	sort.SliceStable(winners, func(i, j int) bool { return winners[i].Score > winners[j].Score })
	if len(winners) > topK {
		winners = winners[:topK]
	}
	return winners, nil
}
