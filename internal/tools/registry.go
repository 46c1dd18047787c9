package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/relay/internal/provider"
	"go.uber.org/zap"
)

// Registry holds the tools bound to one agent.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. A later tool with the same name replaces the earlier.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports how many tools are registered.
func (r *Registry) Len() int { return len(r.tools) }

// Definitions returns all tool definitions for the LLM request.
func (r *Registry) Definitions() []provider.Tool {
	defs := make([]provider.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Execute runs a tool by name with the given JSON arguments. Panics inside
// a tool are recovered and reported as KindInternal.
func (r *Registry) Execute(ctx context.Context, name, args string) (result string, err error) {
	t, ok := r.tools[name]
	if !ok {
		known := r.Names()
		sort.Strings(known)
		return "", newError(name, KindUnknownTool, fmt.Sprintf("unknown tool (available: %v)", known), nil)
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = newError(name, KindInternal, "tool panicked", fmt.Errorf("%v", rec))
		}
		if err != nil {
			r.logger.Error("tool call failed",
				zap.String("tool", name),
				zap.String("kind", string(KindOf(err))),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		r.logger.Info("tool call",
			zap.String("tool", name),
			zap.Int("result_len", len(result)),
			zap.Duration("elapsed", time.Since(start)))
	}()

	return t.Invoke(ctx, json.RawMessage(args))
}
