package command

import (
	"context"
	"encoding/json"
	"strings"
)

// ToolRunner executes a named tool with JSON arguments. *tools.Registry
// satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, name, args string) (string, error)
}

// ToolDescriber renders a tool error for display.
type ToolDescriber func(err error) string

// RegisterToolCommands registers /search and /weather, which call a tool
// directly without going through the agents.
func RegisterToolCommands(reg *Registry, runner ToolRunner, describe ToolDescriber) {
	reg.Register(toolCommand(runner, describe, "search", "web_search", "query",
		"Quick web search without asking the agents", "/search <query>"))
	reg.Register(toolCommand(runner, describe, "weather", "get_current_weather", "location",
		"Current weather without asking the agents", "/weather <location>"))
}

func toolCommand(runner ToolRunner, describe ToolDescriber, name, tool, param, desc, usage string) *Command {
	return &Command{
		Name:        name,
		Description: desc,
		Usage:       usage,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if strings.TrimSpace(args) == "" {
				return &CommandResult{Content: "Usage: " + usage}, nil
			}
			raw, err := json.Marshal(map[string]string{param: args})
			if err != nil {
				return nil, err
			}
			out, err := runner.Execute(ctx, tool, string(raw))
			if err != nil {
				return &CommandResult{Content: describe(err)}, nil
			}
			return &CommandResult{Content: out}, nil
		},
	}
}
