package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultContextMessages is how many stored messages are replayed into a
// new run when no limit is given.
const DefaultContextMessages = 10

// Conversation is the front ends' view of a Store. History is never a hard
// dependency: every failure is logged as a *PersistenceError and the call
// yields an empty result.
type Conversation struct {
	store  Store
	logger *zap.Logger
}

// NewConversation wraps store.
func NewConversation(store Store, logger *zap.Logger) *Conversation {
	return &Conversation{store: store, logger: logger}
}

// Store returns the underlying store.
func (c *Conversation) Store() Store { return c.store }

// Save appends one message. It reports whether the write succeeded.
func (c *Conversation) Save(ctx context.Context, sessionID, role, content, agentName string) bool {
	if _, err := c.store.Append(ctx, sessionID, role, content, agentName); err != nil {
		c.report(&PersistenceError{Op: "append", SessionID: sessionID, Err: err})
		return false
	}
	c.logger.Debug("message saved",
		zap.String("session", sessionID),
		zap.String("role", role))
	return true
}

func (c *Conversation) History(ctx context.Context, sessionID string, limit int) []SessionRecord {
	recs, err := c.store.History(ctx, sessionID, limit)
	if err != nil {
		c.report(&PersistenceError{Op: "history", SessionID: sessionID, Err: err})
		return nil
	}
	return recs
}

func (c *Conversation) Statistics(ctx context.Context) Statistics {
	stats, err := c.store.Statistics(ctx)
	if err != nil {
		c.report(&PersistenceError{Op: "statistics", Err: err})
		return Statistics{}
	}
	return stats
}

func (c *Conversation) RecentSessions(ctx context.Context, days int) []SessionSummary {
	sessions, err := c.store.RecentSessions(ctx, days)
	if err != nil {
		c.report(&PersistenceError{Op: "recent sessions", Err: err})
		return nil
	}
	return sessions
}

// Purge removes messages older than days and returns the number deleted.
func (c *Conversation) Purge(ctx context.Context, days int) int64 {
	n, err := c.store.Purge(ctx, days)
	if err != nil {
		c.report(&PersistenceError{Op: "purge", Err: err})
		return 0
	}
	c.logger.Info("old conversations purged",
		zap.Int("older_than_days", days),
		zap.Int64("deleted", n))
	return n
}

// Context renders the latest maxMessages of a session for a model prompt.
func (c *Conversation) Context(ctx context.Context, sessionID string, maxMessages int) string {
	if maxMessages <= 0 {
		maxMessages = DefaultContextMessages
	}
	return FormatContext(c.History(ctx, sessionID, maxMessages))
}

func (c *Conversation) report(err *PersistenceError) {
	c.logger.Error("conversation memory unavailable", zap.Error(err))
}

// FormatContext renders records as a history section:
//
//	Previous conversation history:
//
//	[14:05] User: hello
//	[14:05] Assistant (WeatherAssistant): ...
func FormatContext(recs []SessionRecord) string {
	if len(recs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous conversation history:\n")
	for _, r := range recs {
		b.WriteString("\n")
		stamp := r.Timestamp.Local().Format("15:04")
		if r.AgentName != "" {
			fmt.Fprintf(&b, "[%s] %s (%s): %s", stamp, capitalize(r.Role), r.AgentName, r.Content)
		} else {
			fmt.Fprintf(&b, "[%s] %s: %s", stamp, capitalize(r.Role), r.Content)
		}
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
