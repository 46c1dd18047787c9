package command

import (
	"context"
	"fmt"
	"strings"
)

// AgentLister lists the agents of the team.
type AgentLister interface {
	List() []AgentInfo
}

// AgentInfo describes a team member.
type AgentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
}

// AgentListerFunc adapts a function to AgentLister.
type AgentListerFunc func() []AgentInfo

func (f AgentListerFunc) List() []AgentInfo { return f() }

const exampleQueries = `
Example queries:
  Weather:
    - "What's the weather in London?"
    - "Give me a 3-day forecast for Mumbai"
    - "Current temperature in New York"
  Search:
    - "Latest developments in artificial intelligence"
    - "Research quantum computing applications"
    - "What's happening in tech news today?"`

// RegisterBuiltins registers /help, /agents, /clear and /quit.
func RegisterBuiltins(reg *Registry, agents AgentLister) {
	reg.Register(helpCommand(reg))
	reg.Register(agentsCommand(agents))
	reg.Register(clearCommand())
	reg.Register(quitCommand())
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "Show this help message",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				name := "/" + c.Name
				for _, a := range c.Aliases {
					name += ", /" + a
				}
				fmt.Fprintf(&b, "  %s - %s\n", name, c.Description)
				if c.Usage != "" && c.Usage != "/"+c.Name {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			b.WriteString(exampleQueries)
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /agents
// ---------------------------------------------------------------------------

func agentsCommand(lister AgentLister) *Command {
	return &Command{
		Name:        "agents",
		Description: "List available agents and their capabilities",
		Usage:       "/agents",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			agents := lister.List()
			if len(agents) == 0 {
				return &CommandResult{Content: "No agents available yet."}, nil
			}
			var b strings.Builder
			b.WriteString("Available agents:\n")
			for _, a := range agents {
				fmt.Fprintf(&b, "\n%s\n  %s\n", a.Name, a.Description)
				if len(a.Tools) > 0 {
					fmt.Fprintf(&b, "  Tools: %s\n", strings.Join(a.Tools, ", "))
				}
			}
			return &CommandResult{Content: b.String(), Data: agents}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /clear, /quit
// ---------------------------------------------------------------------------

func clearCommand() *Command {
	return &Command{
		Name:        "clear",
		Description: "Clear the terminal screen",
		Usage:       "/clear",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			return &CommandResult{Action: ActionClear}, nil
		},
	}
}

func quitCommand() *Command {
	return &Command{
		Name:        "quit",
		Aliases:     []string{"exit"},
		Description: "Exit the assistant",
		Usage:       "/quit",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "Goodbye!", Action: ActionQuit}, nil
		},
	}
}
