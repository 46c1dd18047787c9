package agent

import (
	"errors"
	"fmt"
)

// Turn is one prior message of the shared conversation as an agent sees it.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	AgentName string `json:"agent_name,omitempty"`
}

// Request is what the orchestrator hands an agent for one turn.
type Request struct {
	Task    string `json:"task"`
	History []Turn `json:"history"`
}

// Reply is an agent's answer for one turn.
type Reply struct {
	Content   string `json:"content"`
	AgentName string `json:"agent_name"`
	ToolCalls int    `json:"tool_calls"`
}

// ErrNoAgents is returned when no agent could be constructed.
var ErrNoAgents = errors.New("no agents available")

// ConstructionError reports an agent that could not be built.
type ConstructionError struct {
	Agent string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct agent %s: %v", e.Agent, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }
