package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	id    string
	calls int
	err   error
	reply string
}

func (s *stubProvider) ID() string { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.reply, FinishReason: FinishStop}, nil
}

func TestRouterFallsBackToDefaultChain(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "openai", err: errors.New("503")}
	backup := &stubProvider{id: "anthropic", reply: "from backup"}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks("", []string{"anthropic"})

	resp, err := r.For("WeatherAssistant").Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestRouterStopsOnCancelledContext(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "openai", err: context.Canceled}
	backup := &stubProvider{id: "anthropic", reply: "unused"}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks("", []string{"anthropic"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Chat(ctx, &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, backup.calls)
}

func TestRouterBinding(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &stubProvider{id: "a", reply: "a"}
	b := &stubProvider{id: "b", reply: "b"}
	r.Register(a)
	r.Register(b)
	r.Bind("SearchAssistant", "b")

	resp, err := r.Route(context.Background(), "SearchAssistant", &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Content)

	resp, err = r.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Content)
}

func TestRouterWithoutProviders(t *testing.T) {
	r := NewRouter(zap.NewNop())
	_, err := r.Chat(context.Background(), &ChatRequest{})
	assert.Error(t, err)
}

func TestOpenAIProviderToolCalls(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get_current_weather", "arguments": "{\"location\":\"Paris\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer ts.Close()

	p := NewOpenAIProvider(ProviderConfig{
		APIKey: "sk-test", Endpoint: ts.URL + "/", Model: "gpt-4o", Temperature: 1,
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are a weather assistant."},
			{Role: RoleUser, Content: "Weather in Paris?"},
		},
		Tools: []Tool{{Type: "function", Function: ToolFunction{
			Name:        "get_current_weather",
			Description: "Get current weather for a city",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}}},
	})
	require.NoError(t, err)

	assert.Equal(t, FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_current_weather", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"location":"Paris"}`, resp.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Len(t, got["messages"], 2)
	assert.Len(t, got["tools"], 1)
}

func TestAnthropicProviderText(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "It is 15°C in Paris."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`)
	}))
	defer ts.Close()

	p := NewAnthropicProvider(ProviderConfig{
		APIKey: "ak-test", Endpoint: ts.URL, Model: "claude-sonnet-4-20250514",
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "Be brief."},
			{Role: RoleUser, Content: "Weather in Paris?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "tu_1", Function: ToolCallFunction{Name: "get_current_weather", Arguments: `{"location":"Paris"}`}}}},
			{Role: RoleTool, ToolCallID: "tu_1", Content: "Current weather in Paris: 15°C"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "It is 15°C in Paris.", resp.Content)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.TotalTokens)

	// System prompt travels separately; tool result is folded into a user turn.
	assert.NotNil(t, got["system"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
}
