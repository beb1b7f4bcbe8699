// Package rerank scores question/passage pairs with an external
// cross-encoder scoring service.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reranker scores candidate texts against a question in one batched call.
// The result holds one score per candidate, in input order.
type Reranker interface {
	Score(ctx context.Context, question string, candidates []string) ([]float64, error)
}

// HTTPReranker calls a cross-encoder sidecar over HTTP. The sidecar exposes
// POST /rerank taking {model, query, documents} and returning {scores}.
type HTTPReranker struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPReranker returns a reranker for the service at baseURL.
func NewHTTPReranker(baseURL, model string) *HTTPReranker {
	return &HTTPReranker{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Score sends the question and all candidates in one batched call.
func (r *HTTPReranker) Score(ctx context.Context, question string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     question,
		Documents: candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, msg)
	}
	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(out.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d candidates", len(out.Scores), len(candidates))
	}
	return out.Scores, nil
}
