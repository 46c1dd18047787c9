package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/relay/internal/command"
	"github.com/nidhogg/relay/internal/gateway"
	"github.com/nidhogg/relay/internal/memory"
	"github.com/nidhogg/relay/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRuns struct {
	tasks []string
	res   *orchestrator.Result
	err   error
}

func (f *fakeRuns) Submit(_ context.Context, _ string, input string) (*orchestrator.Result, error) {
	f.tasks = append(f.tasks, input)
	return f.res, f.err
}

type captureSender struct {
	sent []*gateway.OutboundMessage
}

func (c *captureSender) Send(_ context.Context, msg *gateway.OutboundMessage) error {
	c.sent = append(c.sent, msg)
	return nil
}

func weatherResult() *orchestrator.Result {
	return &orchestrator.Result{
		FinalText: "It is 15°C in Paris.",
		Transcript: []orchestrator.Message{
			{Role: orchestrator.RoleUser, Content: "weather in Paris"},
			{Role: orchestrator.RoleAssistant, AgentName: "WeatherAssistant", Content: "It is 15°C in Paris. TERMINATE"},
		},
		Reason: orchestrator.StopTermination,
	}
}

func newRouter(runs Submitter, out Sender) (*MessageRouter, *memory.Conversation) {
	conv := memory.NewConversation(memory.NewInMemory(), zap.NewNop())
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.AgentListerFunc(func() []command.AgentInfo { return nil }))
	command.RegisterMemoryCommands(reg, conv)
	return New(runs, conv, reg, out, zap.NewNop()), conv
}

func TestProcessRunsAndRemembers(t *testing.T) {
	runs := &fakeRuns{res: weatherResult()}
	mr, conv := newRouter(runs, nil)
	ctx := context.Background()

	reply, err := mr.Process(ctx, "s1", "  weather in Paris ", nil)
	require.NoError(t, err)
	assert.Equal(t, "WeatherAssistant", reply.AgentName)
	assert.Equal(t, "It is 15°C in Paris.", reply.Content)
	assert.False(t, reply.Command)
	assert.Equal(t, []string{"weather in Paris"}, runs.tasks)

	recs := conv.History(ctx, "s1", 0)
	require.Len(t, recs, 2)
	assert.Equal(t, memory.RoleUser, recs[0].Role)
	assert.Equal(t, "weather in Paris", recs[0].Content)
	assert.Equal(t, "WeatherAssistant", recs[1].AgentName)

	_, err = mr.Process(ctx, "s1", "and tomorrow?", nil)
	require.NoError(t, err)
	require.Len(t, runs.tasks, 2)
	assert.True(t, strings.HasPrefix(runs.tasks[1], "Previous conversation history:\n"))
	assert.True(t, strings.HasSuffix(runs.tasks[1], "\n\nCurrent request: and tomorrow?"))
	assert.Contains(t, runs.tasks[1], "Assistant (WeatherAssistant): It is 15°C in Paris.")
	assert.Equal(t, "and tomorrow?", UserInput(runs.tasks[1]))
	assert.Equal(t, "weather in Paris", UserInput(runs.tasks[0]))
}

func TestProcessWithoutHistoryPrefix(t *testing.T) {
	runs := &fakeRuns{res: weatherResult()}
	mr, _ := newRouter(runs, nil)
	mr.SetContextMessages(0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := mr.Process(ctx, "s1", "weather in Paris", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"weather in Paris", "weather in Paris"}, runs.tasks)
}

func TestProcessCommandsBypassRuns(t *testing.T) {
	runs := &fakeRuns{res: weatherResult()}
	mr, _ := newRouter(runs, nil)

	reply, err := mr.Process(context.Background(), "s1", "/quit", nil)
	require.NoError(t, err)
	assert.True(t, reply.Command)
	assert.Equal(t, command.ActionQuit, reply.Action)

	reply, err = mr.Process(context.Background(), "s1", "/history", nil)
	require.NoError(t, err)
	assert.Equal(t, "No conversation history yet.", reply.Content)
	assert.Empty(t, runs.tasks)
}

func TestProcessReportsFailure(t *testing.T) {
	boom := &orchestrator.RunError{RunID: "r1", Kind: orchestrator.KindTurnExecution, Turn: 1, Err: errors.New("model down")}
	runs := &fakeRuns{err: boom}
	mr, conv := newRouter(runs, nil)
	ctx := context.Background()

	reply, err := mr.Process(ctx, "s1", "hello", nil)
	require.ErrorIs(t, err, boom)
	assert.True(t, strings.HasPrefix(reply.Content, "Error processing message: run r1 failed"))

	recs := conv.History(ctx, "s1", 0)
	require.Len(t, recs, 1)
	assert.Equal(t, memory.RoleUser, recs[0].Role)
}

func TestProcessRejectsBlankInput(t *testing.T) {
	mr, _ := newRouter(&fakeRuns{}, nil)
	_, err := mr.Process(context.Background(), "s1", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHandleRepliesOnPlatform(t *testing.T) {
	out := &captureSender{}
	mr, conv := newRouter(&fakeRuns{res: weatherResult()}, out)
	ctx := context.Background()

	mr.Handle(ctx, &gateway.InboundMessage{Platform: "discord", ChannelID: "c9", Content: "weather in Paris", ReplyTo: "m1"})
	require.Len(t, out.sent, 1)
	sent := out.sent[0]
	assert.Equal(t, "discord", sent.Platform)
	assert.Equal(t, "c9", sent.ChannelID)
	assert.Equal(t, "discord:c9", sent.SessionID)
	assert.Equal(t, "WeatherAssistant", sent.AgentName)
	assert.Equal(t, "m1", sent.ReplyTo)
	assert.Len(t, conv.History(ctx, "discord:c9", 0), 2)

	mr.Handle(ctx, &gateway.InboundMessage{Platform: "slack", SessionID: "slack:c1:t1", ChannelID: "c1", Content: "/history"})
	require.Len(t, out.sent, 2)
	assert.Equal(t, "slack:c1:t1", out.sent[1].SessionID)
	assert.Equal(t, "No conversation history yet.", out.sent[1].Content)

	mr.Handle(ctx, &gateway.InboundMessage{Platform: "slack", ChannelID: "c1", Content: " "})
	assert.Len(t, out.sent, 2)
}

func TestHandleStaysQuietWhenCallerLeft(t *testing.T) {
	out := &captureSender{}
	mr, _ := newRouter(&fakeRuns{err: context.Canceled}, out)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mr.Handle(ctx, &gateway.InboundMessage{Platform: "rest", ChannelID: "x", Content: "hello"})
	assert.Empty(t, out.sent)
}
