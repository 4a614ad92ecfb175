// Package reranker provides optional relevance re-scoring of vector search
// candidates through an OpenAI-compatible rerank API.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Result represents a reranking result.
type Result struct {
	Index int     // Original index
	Score float32 // Relevance score
}

// Service is the reranking service interface.
type Service interface {
	// Rerank reorders documents by relevance. The returned results cover
	// every input document exactly once; any deviation from the API (wrong
	// count, out-of-range index) surfaces as an error, which callers treat
	// as a degradation signal, never as fatal.
	Rerank(ctx context.Context, query string, documents []string) ([]Result, error)

	// IsEnabled returns whether the service is enabled.
	IsEnabled() bool
}

// Config represents reranker service configuration.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Enabled  bool
}

type service struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
	enabled bool
}

// NewService creates a new reranker Service.
func NewService(cfg *Config) Service {
	return &service{
		enabled: cfg.Enabled,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (s *service) IsEnabled() bool {
	return s.enabled
}

func (s *service) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	if !s.enabled {
		// Identity permutation when disabled: original order preserved.
		results := make([]Result, len(documents))
		for i := range documents {
			results[i] = Result{Index: i, Score: 1.0 - float32(i)*0.01}
		}
		return results, nil
	}
	if len(documents) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"model":     s.model,
		"query":     query,
		"documents": documents,
		"top_n":     len(documents),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(s.baseURL, "/")
	if strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/rerank"
	} else {
		baseURL += "/v1/rerank"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // cleanup

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("rerank API error: HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("rerank API error: %s", string(body))
	}

	var result struct {
		Results []struct {
			Index int     `json:"index"`
			Score float32 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	// The contract is one score per input document; anything else means the
	// response cannot be trusted as a permutation.
	if len(result.Results) != len(documents) {
		return nil, fmt.Errorf("rerank API returned %d results for %d documents", len(result.Results), len(documents))
	}

	seen := make(map[int]bool, len(result.Results))
	results := make([]Result, len(result.Results))
	for i, r := range result.Results {
		if r.Index < 0 || r.Index >= len(documents) || seen[r.Index] {
			return nil, fmt.Errorf("rerank API returned invalid index %d", r.Index)
		}
		seen[r.Index] = true
		results[i] = Result{Index: r.Index, Score: r.Score}
	}

	// Sort by score descending
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}
