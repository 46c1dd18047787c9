package orchestrator

import (
	"context"
	"time"
)

// EventType distinguishes state changes from transcript appends.
type EventType string

const (
	EventState   EventType = "state"
	EventMessage EventType = "message"
)

// Event is emitted on every state transition and every transcript append.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	From      State     `json:"from,omitempty"`
	State     State     `json:"state"`
	Turn      int       `json:"turn"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives run events synchronously on the run's goroutine.
// Implementations must not block for long.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }
