package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SearchDepth selects between fast and thorough searches.
type SearchDepth string

const (
	DepthBasic    SearchDepth = "basic"
	DepthAdvanced SearchDepth = "advanced"
)

// SearchResult is one hit returned by a search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchResponse is a synthesized answer plus its sources.
type SearchResponse struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, depth SearchDepth, maxResults int) (*SearchResponse, error)
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewTavilyClient(endpoint, apiKey string) *TavilyClient {
	return &TavilyClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type tavilyRequest struct {
	APIKey        string      `json:"api_key"`
	Query         string      `json:"query"`
	SearchDepth   SearchDepth `json:"search_depth"`
	IncludeAnswer bool        `json:"include_answer"`
	MaxResults    int         `json:"max_results"`
}

// Search posts a query and decodes the answer and results.
func (c *TavilyClient) Search(ctx context.Context, query string, depth SearchDepth, maxResults int) (*SearchResponse, error) {
	const tool = "tavily"

	body, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		SearchDepth:   depth,
		IncludeAnswer: true,
		MaxResults:    maxResults,
	})
	if err != nil {
		return nil, newError(tool, KindInternal, "encode search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newError(tool, KindInternal, "build search request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newError(tool, KindTransport, "search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, newError(tool, KindUpstream,
			fmt.Sprintf("search service returned %d", resp.StatusCode), fmt.Errorf("%s", msg))
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newError(tool, KindDecode, "decode search response", err)
	}
	return &out, nil
}
