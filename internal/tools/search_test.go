package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tavilyStub struct {
	hits atomic.Int32

	mu   sync.Mutex
	last tavilyRequest
}

func newTavilyStub(t *testing.T, response string) (*tavilyStub, *SearchTools) {
	t.Helper()
	stub := &tavilyStub{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		stub.mu.Lock()
		stub.last = req
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return stub, NewSearchTools(NewTavilyClient(srv.URL, "tvly-test"), 5, 10)
}

func (s *tavilyStub) request() tavilyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func TestWebSearchFormatsAnswerAndSources(t *testing.T) {
	stub, st := newTavilyStub(t, `{
		"answer": "Y",
		"results": [{"title": "X", "url": "http://x", "content": "Latest AI news."}]
	}`)

	out, err := st.WebSearch(context.Background(), "latest AI news")
	require.NoError(t, err)

	assert.Equal(t, "Answer: Y\n\nSources:\n1. X\n   http://x\n   Latest AI news.", out)

	req := stub.request()
	assert.Equal(t, "tvly-test", req.APIKey)
	assert.Equal(t, "latest AI news", req.Query)
	assert.Equal(t, DepthBasic, req.SearchDepth)
	assert.True(t, req.IncludeAnswer)
	assert.Equal(t, 5, req.MaxResults)
}

func TestResearchUsesAdvancedDepth(t *testing.T) {
	stub, st := newTavilyStub(t, `{"answer": "", "results": [{"title": "A", "url": "http://a"}]}`)

	out, err := st.Research(context.Background(), "history of transformers")
	require.NoError(t, err)
	assert.Equal(t, "Sources:\n1. A\n   http://a", out)

	req := stub.request()
	assert.Equal(t, DepthAdvanced, req.SearchDepth)
	assert.Equal(t, 10, req.MaxResults)
}

func TestSearchNoResults(t *testing.T) {
	_, st := newTavilyStub(t, `{"answer": "", "results": []}`)

	out, err := st.WebSearch(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.Equal(t, "No results found for: zzzz", out)
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	st := NewSearchTools(NewTavilyClient(srv.URL, "bad"), 0, 0)

	_, err := st.WebSearch(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.True(t, strings.HasPrefix(Describe(err), "Error: Search service returned 401"))
}

func TestFormatSearchTruncatesContent(t *testing.T) {
	long := strings.Repeat("a", 250)
	out := FormatSearch("q", &SearchResponse{Results: []SearchResult{{Title: "T", URL: "http://t", Content: long}}})
	assert.Contains(t, out, strings.Repeat("a", 200)+"...")
	assert.NotContains(t, out, strings.Repeat("a", 201))
}

func TestBlankQueriesNeverReachUpstream(t *testing.T) {
	stub, st := newTavilyStub(t, `{}`)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("blank web_search and research input yields an error string", prop.ForAll(
		func(spaces, tabs, newlines int) bool {
			query := strings.Repeat(" ", spaces) + strings.Repeat("\t", tabs) + strings.Repeat("\n", newlines)
			_, err1 := st.WebSearch(context.Background(), query)
			_, err2 := st.Research(context.Background(), query)
			return KindOf(err1) == KindInvalidInput &&
				KindOf(err2) == KindInvalidInput &&
				Describe(err1) == "Error: Search query cannot be empty" &&
				Describe(err2) == "Error: Research query cannot be empty"
		},
		gen.IntRange(0, 8),
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
	assert.Equal(t, int32(0), stub.hits.Load())
}
