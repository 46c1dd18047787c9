package agent

import (
	"errors"
	"fmt"

	"github.com/nidhogg/relay/internal/provider"
	"github.com/nidhogg/relay/internal/tools"
	"go.uber.org/zap"
)

// ToolFactory builds one tool instance.
type ToolFactory func() (tools.Tool, error)

// ModelSource hands out the model client an agent should use.
// *provider.Router satisfies it.
type ModelSource interface {
	For(agentID string) provider.Client
}

// Deps are the shared collaborators needed to build agents.
type Deps struct {
	Models  ModelSource
	Tools   map[string]ToolFactory
	Options Options
	Logger  *zap.Logger
}

// Pool is the fixed set of agents available to a session, in roster order.
type Pool struct {
	agents  []*Agent
	byName  map[string]*Agent
	skipped []*ConstructionError
}

// BuildPool constructs an agent for every enabled persona. Agents that fail
// to build are logged and left out. If none can be built the error wraps
// ErrNoAgents and every construction failure.
func BuildPool(personas []Persona, deps Deps) (*Pool, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{byName: make(map[string]*Agent)}

	for _, persona := range personas {
		if persona.Disabled {
			continue
		}
		a, err := buildAgent(persona, deps, logger)
		if err != nil {
			ce := &ConstructionError{Agent: persona.Name, Err: err}
			p.skipped = append(p.skipped, ce)
			logger.Error("agent construction failed, skipping",
				zap.String("agent", persona.Name),
				zap.Error(err))
			continue
		}
		if _, dup := p.byName[a.Name()]; dup {
			ce := &ConstructionError{Agent: persona.Name, Err: errors.New("duplicate agent name")}
			p.skipped = append(p.skipped, ce)
			logger.Error("duplicate agent name, skipping", zap.String("agent", persona.Name))
			continue
		}
		p.agents = append(p.agents, a)
		p.byName[a.Name()] = a
		logger.Info("agent ready",
			zap.String("agent", a.Name()),
			zap.Strings("tools", a.Tools()))
	}

	if len(p.agents) == 0 {
		errs := []error{ErrNoAgents}
		for _, ce := range p.skipped {
			errs = append(errs, ce)
		}
		return nil, errors.Join(errs...)
	}
	return p, nil
}

func buildAgent(persona Persona, deps Deps, logger *zap.Logger) (*Agent, error) {
	if deps.Models == nil {
		return nil, errors.New("no model source")
	}
	reg := tools.NewRegistry(logger.With(zap.String("agent", persona.Name)))
	for _, name := range persona.Tools {
		factory, ok := deps.Tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		t, err := factory()
		if err != nil {
			return nil, fmt.Errorf("build tool %s: %w", name, err)
		}
		reg.Register(t)
	}
	return New(persona, deps.Models.For(persona.Name), reg, deps.Options, logger)
}

// Agents returns the agents in roster order.
func (p *Pool) Agents() []*Agent {
	out := make([]*Agent, len(p.agents))
	copy(out, p.agents)
	return out
}

// Get returns an agent by name.
func (p *Pool) Get(name string) (*Agent, bool) {
	a, ok := p.byName[name]
	return a, ok
}

func (p *Pool) Len() int { return len(p.agents) }

// Skipped returns the personas that failed to build.
func (p *Pool) Skipped() []*ConstructionError { return p.skipped }

// ToolFactories exposes each tool of the given sets as a factory keyed by
// tool name.
func ToolFactories(sets ...[]tools.Tool) map[string]ToolFactory {
	out := make(map[string]ToolFactory)
	for _, set := range sets {
		for _, t := range set {
			out[t.Name()] = func() (tools.Tool, error) { return t, nil }
		}
	}
	return out
}
