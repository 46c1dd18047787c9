package gateway

import (
	"context"
	"time"
)

// GatewayAdapter defines the interface for platform adapters.
type GatewayAdapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Status() AdapterStatus
	Close() error
}

// MessageHandler processes inbound messages from any platform. ctx ends
// when the originating request goes away.
type MessageHandler func(ctx context.Context, msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform string `json:"platform"`
	// SessionID is set when the platform tracks sessions itself; otherwise
	// the router derives one from the channel.
	SessionID string    `json:"session_id,omitempty"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	SessionID string `json:"session_id,omitempty"`
	ChannelID string `json:"channel_id"`
	// AgentName is the agent that produced the reply, if any.
	AgentName string `json:"agent_name,omitempty"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// AgentPersona defines how an agent appears on chat platforms.
type AgentPersona struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"` // fallback if no icon_url, e.g. ":robot_face:"
}

// AdapterStatus describes the connection state of an adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
