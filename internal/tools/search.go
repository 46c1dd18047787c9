package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ToolWebSearch = "web_search"
	ToolResearch  = "research"

	snippetLimit = 200
)

// SearchTools exposes quick web search and deeper research.
type SearchTools struct {
	searcher        Searcher
	maxResults      int
	researchResults int
}

// NewSearchTools creates search tools. Non-positive limits fall back to 5
// results for web_search and 10 for research.
func NewSearchTools(searcher Searcher, maxResults, researchResults int) *SearchTools {
	if maxResults <= 0 {
		maxResults = 5
	}
	if researchResults <= 0 {
		researchResults = 10
	}
	return &SearchTools{searcher: searcher, maxResults: maxResults, researchResults: researchResults}
}

// WebSearch runs a basic-depth search.
func (s *SearchTools) WebSearch(ctx context.Context, query string) (string, error) {
	return s.run(ctx, ToolWebSearch, "search", query, DepthBasic, s.maxResults)
}

// Research runs an advanced-depth search over more sources.
func (s *SearchTools) Research(ctx context.Context, query string) (string, error) {
	return s.run(ctx, ToolResearch, "research", query, DepthAdvanced, s.researchResults)
}

func (s *SearchTools) run(ctx context.Context, tool, noun, query string, depth SearchDepth, limit int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", newError(tool, KindInvalidInput, noun+" query cannot be empty", nil)
	}
	resp, err := s.searcher.Search(ctx, query, depth, limit)
	if err != nil {
		return "", retag(tool, err)
	}
	return FormatSearch(query, resp), nil
}

// FormatSearch renders an answer followed by numbered sources.
func FormatSearch(query string, resp *SearchResponse) string {
	if resp == nil || (resp.Answer == "" && len(resp.Results) == 0) {
		return "No results found for: " + query
	}

	var b strings.Builder
	if resp.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n\n", resp.Answer)
	}
	if len(resp.Results) > 0 {
		b.WriteString("Sources:")
		for i, r := range resp.Results {
			fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, r.Title, r.URL)
			if r.Content != "" {
				fmt.Fprintf(&b, "\n   %s", truncate(r.Content, snippetLimit))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

type queryArgs struct {
	Query string `json:"query"`
}

// Tools returns web_search and research as model-callable tools.
func (s *SearchTools) Tools() []Tool {
	schema := func(desc string) map[string]any {
		return objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": desc},
		}, "query")
	}
	return []Tool{
		&funcTool{
			name:        ToolWebSearch,
			description: "Quick web search for general queries",
			params:      schema("Search query"),
			fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args queryArgs
				if err := decodeArgs(ToolWebSearch, raw, &args); err != nil {
					return "", err
				}
				return s.WebSearch(ctx, args.Query)
			},
		},
		&funcTool{
			name:        ToolResearch,
			description: "Deep research for comprehensive information",
			params:      schema("Research topic or question"),
			fn: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args queryArgs
				if err := decodeArgs(ToolResearch, raw, &args); err != nil {
					return "", err
				}
				return s.Research(ctx, args.Query)
			},
		},
	}
}
