// Package agent implements the specialized assistants: a persona bound to a
// model client and a fixed set of tools, answering one turn at a time.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/relay/internal/provider"
	"github.com/nidhogg/relay/internal/tools"
	"go.uber.org/zap"
)

// Options tune how an agent talks to its model.
type Options struct {
	Timezone string
	// TerminationToken is written into prompts that ask the agent to mark
	// a finished answer.
	TerminationToken string
	Temperature float64
	MaxTokens   int
	// ToolTimeout bounds each tool invocation independently of the turn.
	ToolTimeout time.Duration
	// MaxToolRounds caps model→tools→model cycles per turn.
	MaxToolRounds int
	// HistoryBudget is the estimated token budget for the prompt; 0 keeps
	// the full history.
	HistoryBudget int
}

func (o *Options) withDefaults() {
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 30 * time.Second
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 1
	}
	if o.Timezone == "" {
		o.Timezone = "UTC"
	}
	if o.TerminationToken == "" {
		o.TerminationToken = "TERMINATE"
	}
}

// Agent is one specialized assistant.
type Agent struct {
	persona Persona
	prompt  string
	client  provider.Client
	tools   *tools.Registry
	opts    Options
	logger  *zap.Logger
}

// New creates an agent. The registry must already hold every tool the
// persona declares.
func New(p Persona, client provider.Client, reg *tools.Registry, opts Options, logger *zap.Logger) (*Agent, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("persona has no name")
	}
	if client == nil {
		return nil, fmt.Errorf("no model client")
	}
	if reg == nil {
		reg = tools.NewRegistry(logger)
	}
	for _, name := range p.Tools {
		if _, ok := reg.Get(name); !ok {
			return nil, fmt.Errorf("tool %q is not registered", name)
		}
	}
	opts.withDefaults()
	return &Agent{
		persona: p,
		prompt:  p.Prompt(opts.Timezone, opts.TerminationToken),
		client:  client,
		tools:   reg,
		opts:    opts,
		logger:  logger.With(zap.String("agent", p.Name)),
	}, nil
}

func (a *Agent) Name() string { return a.persona.Name }

func (a *Agent) Description() string { return a.persona.Description }

// Tools returns the names of the tools bound to this agent.
func (a *Agent) Tools() []string { return a.tools.Names() }

// SystemPrompt returns the rendered system prompt.
func (a *Agent) SystemPrompt() string { return a.prompt }

// Respond answers one turn: it calls the model with the fitted history and
// the task, runs any requested tools, and reflects on their results.
func (a *Agent) Respond(ctx context.Context, req Request) (*Reply, error) {
	w := newWindow(a.persona.Name, a.prompt, req)
	if dropped := w.fit(a.opts.HistoryBudget); dropped > 0 {
		a.logger.Debug("history trimmed to fit budget", zap.Int("dropped", dropped))
	}
	msgs := w.messages()
	defs := a.tools.Definitions()

	var (
		toolCalls   int
		toolOutputs []string
	)
	for round := 0; ; round++ {
		chatReq := &provider.ChatRequest{
			Model:       a.persona.Model,
			Messages:    msgs,
			Temperature: a.opts.Temperature,
			MaxTokens:   a.opts.MaxTokens,
		}
		// The last call of a turn is made without tools so it ends in text.
		if round < a.opts.MaxToolRounds && len(defs) > 0 {
			chatReq.Tools = defs
		}

		resp, err := a.client.Chat(ctx, chatReq)
		if err != nil {
			return nil, fmt.Errorf("agent %s: model call: %w", a.persona.Name, err)
		}

		if len(resp.ToolCalls) == 0 || len(chatReq.Tools) == 0 {
			content := strings.TrimSpace(resp.Content)
			if content == "" && len(toolOutputs) > 0 {
				content = strings.Join(toolOutputs, "\n\n")
			}
			a.logger.Debug("turn complete",
				zap.Int("rounds", round+1),
				zap.Int("tool_calls", toolCalls),
				zap.Int("tokens", resp.Usage.TotalTokens))
			return &Reply{Content: content, AgentName: a.persona.Name, ToolCalls: toolCalls}, nil
		}

		msgs = append(msgs, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := a.invoke(ctx, tc)
			toolCalls++
			toolOutputs = append(toolOutputs, result)
			msgs = append(msgs, provider.Message{
				Role:       provider.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.persona.Name, err)
		}
		a.logger.Debug("tool round complete",
			zap.Int("round", round+1),
			zap.Int("tool_calls", len(resp.ToolCalls)))
	}
}

// invoke runs one tool call under its own timeout. Failures are rendered
// as text for the model.
func (a *Agent) invoke(ctx context.Context, tc provider.ToolCall) string {
	tctx, cancel := context.WithTimeout(ctx, a.opts.ToolTimeout)
	defer cancel()

	result, err := a.tools.Execute(tctx, tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		return tools.Describe(err)
	}
	return result
}
