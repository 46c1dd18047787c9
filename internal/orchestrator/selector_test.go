package orchestrator

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/nidhogg/relay/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var roster = []Candidate{
	{Name: "WeatherAssistant", Description: "An AI assistant that provides weather information. Answers questions about current weather, forecasts, and precipitation."},
	{Name: "SearchAssistant", Description: "An AI assistant that performs web searches and research. Use me for finding current information, news, facts, or detailed research."},
}

type replyClient struct {
	reply string
	err   error
	last  *provider.ChatRequest
}

func (c *replyClient) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	return &provider.ChatResponse{Content: c.reply}, nil
}

func TestKeywordSelector(t *testing.T) {
	sel := KeywordSelector{}
	ctx := context.Background()

	d, err := sel.Select(ctx, Selection{Task: "What's the weather in Paris?", Candidates: roster})
	require.NoError(t, err)
	assert.Equal(t, "WeatherAssistant", d.Agent)

	d, err = sel.Select(ctx, Selection{Task: "Latest AI news", Candidates: roster})
	require.NoError(t, err)
	assert.Equal(t, "SearchAssistant", d.Agent)

	d, err = sel.Select(ctx, Selection{Task: "zzz", Candidates: roster})
	require.NoError(t, err)
	assert.Equal(t, "WeatherAssistant", d.Agent, "ties go to the first candidate")

	d, err = sel.Select(ctx, Selection{Task: "anything"})
	require.NoError(t, err)
	assert.Empty(t, d.Agent)
}

func TestKeywordSelectorEndsRunAfterAnswer(t *testing.T) {
	sel := KeywordSelector{}
	task := "What's the weather in Paris?"

	d, err := sel.Select(context.Background(), Selection{
		Task:       task,
		Transcript: []Message{{Role: RoleUser, Content: task}},
		Candidates: roster,
	})
	require.NoError(t, err)
	assert.Equal(t, "WeatherAssistant", d.Agent)
	assert.False(t, d.Terminate)

	d, err = sel.Select(context.Background(), Selection{
		Task: task,
		Transcript: []Message{
			{Role: RoleUser, Content: task},
			{Role: RoleAssistant, AgentName: "WeatherAssistant", Content: "Sunny, 15°C"},
		},
		Candidates: roster,
	})
	require.NoError(t, err)
	assert.True(t, d.Terminate)
	assert.Empty(t, d.Agent)
}

func TestTruncateStrKeepsRunesWhole(t *testing.T) {
	s := "München ist schön"
	got := truncateStr(s, 2)
	assert.Equal(t, "Mü...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, s, truncateStr(s, 100))
}

func TestLLMSelectorParsesJSON(t *testing.T) {
	client := &replyClient{reply: "```json\n{\"agent\": \"searchassistant\", \"instruction\": \"find AI news\"}\n```"}
	sel := NewLLMSelector(client, nil, zap.NewNop())

	d, err := sel.Select(context.Background(), Selection{
		Task:       "Latest AI news",
		Candidates: roster,
		Transcript: []Message{{Role: RoleUser, Content: "Latest AI news"}},
		Turn:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, Decision{Agent: "SearchAssistant", Instruction: "find AI news"}, d)

	prompt := client.last.Messages[1].Content
	assert.Contains(t, prompt, "- WeatherAssistant: ")
	assert.Contains(t, prompt, "[user]: Latest AI news")
	assert.Empty(t, client.last.Tools)
}

func TestLLMSelectorTerminate(t *testing.T) {
	client := &replyClient{reply: `{"agent": "WeatherAssistant", "terminate": true, "answer": "It is sunny."}`}
	sel := NewLLMSelector(client, nil, zap.NewNop())

	d, err := sel.Select(context.Background(), Selection{Task: "t", Candidates: roster})
	require.NoError(t, err)
	assert.True(t, d.Terminate)
	assert.Empty(t, d.Agent)
	assert.Equal(t, "It is sunny.", d.Answer)
}

func TestLLMSelectorNameMentioned(t *testing.T) {
	client := &replyClient{reply: "I think SearchAssistant should go next."}
	sel := NewLLMSelector(client, nil, zap.NewNop())

	d, err := sel.Select(context.Background(), Selection{Task: "t", Candidates: roster})
	require.NoError(t, err)
	assert.Equal(t, "SearchAssistant", d.Agent)
}

func TestLLMSelectorFallsBack(t *testing.T) {
	fallback := SelectorFunc(func(context.Context, Selection) (Decision, error) {
		return Decision{Agent: "WeatherAssistant"}, nil
	})

	garbled := NewLLMSelector(&replyClient{reply: `{"agent": "Nobody"}`}, fallback, zap.NewNop())
	d, err := garbled.Select(context.Background(), Selection{Task: "t", Candidates: roster})
	require.NoError(t, err)
	assert.Equal(t, "WeatherAssistant", d.Agent)

	failing := NewLLMSelector(&replyClient{err: errors.New("503")}, nil, zap.NewNop())
	d, err = failing.Select(context.Background(), Selection{Task: "Latest AI news", Candidates: roster})
	require.NoError(t, err)
	assert.Equal(t, "SearchAssistant", d.Agent)
}

func TestLLMSelectorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sel := NewLLMSelector(&replyClient{err: context.Canceled}, nil, zap.NewNop())
	_, err := sel.Select(ctx, Selection{Task: "t", Candidates: roster})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractKeywords(t *testing.T) {
	assert.Equal(t, []string{"weather", "paris"}, extractKeywords("What's the weather in Paris? Weather!"))
}
