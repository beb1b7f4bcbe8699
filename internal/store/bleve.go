package store

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// chunkDoc is the shape indexed per chunk in Bleve.
type chunkDoc struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// KeywordIndex is the BM25 keyword leg over chunk texts, backed by Bleve.
type KeywordIndex struct {
	index bleve.Index
}

// NewKeywordIndex creates or opens a Bleve index at path. An existing index is
// reused so restarts do not force re-indexing. If the mapping changes in code,
// remove the index directory to force a rebuild.
func NewKeywordIndex(path string) (*KeywordIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &KeywordIndex{index: index}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query term
	// matches the exact word it was indexed as.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	// Tags are analyzed too: a multi-word tag like "ford lincoln manual" must
	// match the filter token "ford".
	docMapping.AddFieldMappingsAt("tags", textFieldMapping)
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &KeywordIndex{index: index}, nil
}

// Close closes the index.
func (k *KeywordIndex) Close() error {
	return k.index.Close()
}

// IndexChunks adds chunks in one batch. Keys identify chunks across the store.
func (k *KeywordIndex) IndexChunks(keys []string, texts []string, tags []string) error {
	if len(keys) != len(texts) {
		return fmt.Errorf("keys and texts length mismatch: %d vs %d", len(keys), len(texts))
	}
	batch := k.index.NewBatch()
	for i, key := range keys {
		if err := batch.Index(key, chunkDoc{Content: texts[i], Tags: tags}); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", key, err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// DeleteChunks removes the given chunk keys in one batch.
func (k *KeywordIndex) DeleteChunks(keys []string) error {
	batch := k.index.NewBatch()
	for _, key := range keys {
		batch.Delete(key)
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return nil
}

// Search runs a match query over chunk contents, optionally restricted to
// chunks whose document carries at least one of the filter tags, and returns
// up to limit hits ordered by BM25 score.
func (k *KeywordIndex) Search(query string, limit int, tags []string) ([]indexHit, error) {
	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")

	var q blevequery.Query = contentQuery
	if len(tags) > 0 {
		tagQueries := make([]blevequery.Query, 0, len(tags))
		for _, tag := range tags {
			tq := bleve.NewMatchQuery(tag)
			tq.SetField("tags")
			tagQueries = append(tagQueries, tq)
		}
		tagFilter := bleve.NewDisjunctionQuery(tagQueries...)
		tagFilter.SetMin(1)
		q = bleve.NewConjunctionQuery(contentQuery, tagFilter)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make([]indexHit, len(res.Hits))
	for i, hit := range res.Hits {
		hits[i] = indexHit{ID: hit.ID, Score: hit.Score}
	}
	return hits, nil
}
