// Package memory keeps the durable per-session conversation log: every user
// message and every final reply, with history, statistics and retention.
package memory

import (
	"context"
	"fmt"
	"time"
)

// Record roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SessionRecord is one stored message.
type SessionRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AgentName string    `json:"agent_name,omitempty"`
}

// Statistics summarise the whole store.
type Statistics struct {
	TotalMessages        int64 `json:"total_messages"`
	TotalSessions        int64 `json:"total_sessions"`
	OldestMessageAgeDays int   `json:"oldest_message_age_days"`
}

// SessionSummary describes one session seen within a lookback window.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	FirstMessage time.Time `json:"first_message"`
	MessageCount int64     `json:"message_count"`
}

// Store is a durable, append-only conversation log. Implementations must be
// safe for concurrent use and keep each session's timestamps strictly
// increasing.
type Store interface {
	Append(ctx context.Context, sessionID, role, content, agentName string) (SessionRecord, error)
	// History returns the most recent limit records of a session in
	// chronological order. limit <= 0 returns the whole session.
	History(ctx context.Context, sessionID string, limit int) ([]SessionRecord, error)
	Statistics(ctx context.Context) (Statistics, error)
	// Purge deletes records older than olderThanDays and reports how many
	// were removed.
	Purge(ctx context.Context, olderThanDays int) (int64, error)
	// RecentSessions lists sessions with messages in the last days, newest
	// first.
	RecentSessions(ctx context.Context, days int) ([]SessionSummary, error)
	Close() error
}

// PersistenceError reports a failed store operation. Conversation logs it
// and carries on with an empty result.
type PersistenceError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("memory %s (session %s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("memory %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func ageDays(oldest, now time.Time) int {
	if oldest.IsZero() {
		return 0
	}
	return int(now.Sub(oldest) / (24 * time.Hour))
}
