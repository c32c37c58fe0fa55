package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"pdfrag/internal/adapter/analyzer"
)

// CohereScorer scores pairs with Cohere's rerank API.
type CohereScorer struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
	Score          float64 `json:"score"`
}

// NewCohereScorer creates a new Cohere scorer. An empty baseURL uses the public API.
func NewCohereScorer(apiKeyEnv, model, baseURL string) (*CohereScorer, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if model == "" {
		model = "rerank-english-v3.0"
	}
	if baseURL == "" {
		baseURL = "https://api.cohere.ai"
	}

	return &CohereScorer{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

func (s *CohereScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	var resp cohereRerankResponse
	err := postJSON(ctx, s.client, s.baseURL+"/v1/rerank", s.apiKey, cohereRerankRequest{
		Query:     query,
		Documents: []string{passage},
		Model:     s.model,
		TopN:      1,
	}, &resp)
	if err != nil {
		return 0, err
	}
	if len(resp.Results) == 0 {
		return 0, fmt.Errorf("cohere returned no results")
	}
	return resp.Results[0].RelevanceScore, nil
}

func (s *CohereScorer) ModelName() string {
	return s.model
}

// TEIScorer scores pairs with a cross-encoder served by
// huggingface text-embeddings-inference (POST /rerank).
type TEIScorer struct {
	url    string
	model  string
	client *http.Client
}

type teiRerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

func NewTEIScorer(url, model string) *TEIScorer {
	return &TEIScorer{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{},
	}
}

func (s *TEIScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	var results []rerankResult
	err := postJSON(ctx, s.client, s.url+"/rerank", "", teiRerankRequest{
		Query:     query,
		Texts:     []string{passage},
		RawScores: true,
	}, &results)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("rerank server returned no results")
	}
	return results[0].Score, nil
}

func (s *TEIScorer) ModelName() string {
	return s.model
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// LexicalScorer is an offline stand-in for a cross-encoder: the fraction of
// distinct query words that appear as words of the passage.
type LexicalScorer struct{}

func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

func (s *LexicalScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	queryTerms := analyzer.KeywordSet(query, true)
	if len(queryTerms) == 0 {
		queryTerms = analyzer.KeywordSet(query, false)
	}
	if len(queryTerms) == 0 {
		return 0, nil
	}

	docTerms := make(map[string]struct{})
	for _, w := range analyzer.Words(passage) {
		docTerms[w] = struct{}{}
	}

	matches := 0
	for _, term := range queryTerms {
		if _, ok := docTerms[term]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTerms)), nil
}

func (s *LexicalScorer) ModelName() string {
	return "lexical-overlap"
}
