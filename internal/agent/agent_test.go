package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/relay/internal/provider"
	"github.com/nidhogg/relay/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedClient replays canned model responses and records each request.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*provider.ChatResponse
	err       error
	requests  []*provider.ChatRequest
}

func (s *scriptedClient) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	cp.Messages = append([]provider.Message(nil), req.Messages...)
	s.requests = append(s.requests, &cp)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &provider.ChatResponse{Content: "done", FinishReason: provider.FinishStop}, nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func toolCall(id, name, args string) *provider.ChatResponse {
	return &provider.ChatResponse{
		FinishReason: provider.FinishToolCalls,
		ToolCalls: []provider.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: provider.ToolCallFunction{Name: name, Arguments: args},
		}},
	}
}

func text(s string) *provider.ChatResponse {
	return &provider.ChatResponse{Content: s, FinishReason: provider.FinishStop}
}

type fixedGeocoder struct{}

func (fixedGeocoder) Geocode(context.Context, string) (tools.Coordinates, error) {
	return tools.Coordinates{Latitude: 48.8566, Longitude: 2.3522}, nil
}

type fixedForecaster struct{}

func (fixedForecaster) Forecast(context.Context, tools.Coordinates, int) (*tools.Forecast, error) {
	return &tools.Forecast{Current: tools.CurrentConditions{Temperature: 15, WindSpeed: 8, WeatherCode: 0}}, nil
}

func weatherRegistry() *tools.Registry {
	reg := tools.NewRegistry(zap.NewNop())
	for _, t := range tools.NewWeatherTools(fixedGeocoder{}, fixedForecaster{}).Tools() {
		reg.Register(t)
	}
	return reg
}

func weatherPersona() Persona {
	return BuiltinPersonas()[0]
}

func TestRespondRunsToolThenReflects(t *testing.T) {
	client := &scriptedClient{responses: []*provider.ChatResponse{
		toolCall("call_1", tools.ToolCurrentWeather, `{"location":"Paris"}`),
		text("It is 15°C with clear sky in Paris. TERMINATE"),
	}}
	a, err := New(weatherPersona(), client, weatherRegistry(), Options{Timezone: "Europe/Paris"}, zap.NewNop())
	require.NoError(t, err)

	reply, err := a.Respond(context.Background(), Request{Task: "What's the weather in Paris?"})
	require.NoError(t, err)

	assert.Equal(t, "It is 15°C with clear sky in Paris. TERMINATE", reply.Content)
	assert.Equal(t, WeatherAssistant, reply.AgentName)
	assert.Equal(t, 1, reply.ToolCalls)

	require.Len(t, client.requests, 2)
	first, second := client.requests[0], client.requests[1]
	assert.Len(t, first.Tools, 2)
	assert.Empty(t, second.Tools, "reflection call must not offer tools")

	assert.Equal(t, provider.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "Current timezone: Europe/Paris")

	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, provider.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, "Temperature: 15°C")
	assert.Contains(t, last.Content, "Clear sky")
}

func TestRespondFeedsToolErrorsBackAsText(t *testing.T) {
	client := &scriptedClient{responses: []*provider.ChatResponse{
		toolCall("call_1", tools.ToolCurrentWeather, `{"location":"   "}`),
		text("Please tell me which city."),
	}}
	a, err := New(weatherPersona(), client, weatherRegistry(), Options{}, zap.NewNop())
	require.NoError(t, err)

	reply, err := a.Respond(context.Background(), Request{Task: "weather?"})
	require.NoError(t, err)
	assert.Equal(t, "Please tell me which city.", reply.Content)

	last := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Equal(t, "Error: Location cannot be empty", last.Content)
}

func TestRespondFallsBackToToolOutput(t *testing.T) {
	client := &scriptedClient{responses: []*provider.ChatResponse{
		toolCall("call_1", tools.ToolCurrentWeather, `{"location":"Paris"}`),
		text("  "),
	}}
	a, err := New(weatherPersona(), client, weatherRegistry(), Options{}, zap.NewNop())
	require.NoError(t, err)

	reply, err := a.Respond(context.Background(), Request{Task: "Paris weather"})
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "Current weather in Paris:")
}

func TestRespondCapsToolRounds(t *testing.T) {
	client := &scriptedClient{responses: []*provider.ChatResponse{
		toolCall("call_1", tools.ToolCurrentWeather, `{"location":"Paris"}`),
	}}
	a, err := New(weatherPersona(), client, weatherRegistry(), Options{MaxToolRounds: 2}, zap.NewNop())
	require.NoError(t, err)

	reply, err := a.Respond(context.Background(), Request{Task: "Paris weather"})
	require.NoError(t, err)

	require.Len(t, client.requests, 3)
	assert.NotEmpty(t, client.requests[0].Tools)
	assert.NotEmpty(t, client.requests[1].Tools)
	assert.Empty(t, client.requests[2].Tools)
	assert.Equal(t, 2, reply.ToolCalls)
}

func TestRespondWrapsModelErrors(t *testing.T) {
	client := &scriptedClient{err: errors.New("rate limited")}
	a, err := New(weatherPersona(), client, weatherRegistry(), Options{}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Respond(context.Background(), Request{Task: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent WeatherAssistant: model call: rate limited")
}

type blockingTool struct{}

func (blockingTool) Name() string { return "slow" }

func (blockingTool) Description() string { return "never returns on its own" }

func (blockingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (blockingTool) Invoke(ctx context.Context, _ json.RawMessage) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRespondToolTimeout(t *testing.T) {
	reg := tools.NewRegistry(zap.NewNop())
	reg.Register(blockingTool{})
	client := &scriptedClient{responses: []*provider.ChatResponse{
		toolCall("call_1", "slow", `{}`),
		text("The tool timed out."),
	}}
	p := Persona{Name: "Slowpoke", SystemPrompt: "test", Tools: []string{"slow"}}
	a, err := New(p, client, reg, Options{ToolTimeout: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	reply, err := a.Respond(context.Background(), Request{Task: "go"})
	require.NoError(t, err)
	assert.Equal(t, "The tool timed out.", reply.Content)

	last := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Contains(t, last.Content, "deadline exceeded")
}

func TestRespondRendersHistoryPerSpeaker(t *testing.T) {
	client := &scriptedClient{responses: []*provider.ChatResponse{text("ok")}}
	a, err := New(weatherPersona(), client, weatherRegistry(), Options{}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Respond(context.Background(), Request{
		Task: "continue",
		History: []Turn{
			{Role: "user", Content: "plan a trip"},
			{Role: "assistant", Content: "found flights", AgentName: SearchAssistant},
			{Role: "assistant", Content: "sunny", AgentName: WeatherAssistant},
		},
	})
	require.NoError(t, err)

	msgs := client.requests[0].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "plan a trip"}, msgs[1])
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "[SearchAssistant]: found flights"}, msgs[2])
	assert.Equal(t, provider.Message{Role: provider.RoleAssistant, Content: "sunny"}, msgs[3])
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "continue"}, msgs[4])
}

func TestNewRejectsUnboundTools(t *testing.T) {
	p := Persona{Name: "X", Tools: []string{"teleport"}}
	_, err := New(p, &scriptedClient{}, tools.NewRegistry(zap.NewNop()), Options{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestWindowFitDropsOldestHistory(t *testing.T) {
	w := newWindow("A", "sys", Request{
		Task: "task",
		History: []Turn{
			{Role: "user", Content: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
			{Role: "user", Content: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
			{Role: "user", Content: "cccc"},
		},
	})

	dropped := w.fit(5)
	assert.Equal(t, 2, dropped)

	msgs := w.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "sys", msgs[0].Content)
	assert.Equal(t, "cccc", msgs[1].Content)
	assert.Equal(t, "task", msgs[2].Content)

	assert.Equal(t, 0, w.fit(0))
}

func TestPersonaPrompt(t *testing.T) {
	p := weatherPersona()
	prompt := p.Prompt("Asia/Kolkata", "DONE")
	assert.Contains(t, prompt, "You are a weather information assistant.")
	assert.Contains(t, prompt, "Current timezone: Asia/Kolkata\nBe concise")
	assert.True(t, strings.HasSuffix(prompt, "end it with DONE."))
	assert.NotContains(t, prompt, "{{")

	custom := Persona{SystemPrompt: "Be terse. Say {{termination}} at the end.\n"}
	assert.Equal(t, "Be terse. Say STOP at the end.\nCurrent timezone: UTC", custom.Prompt("UTC", "STOP"))
}
