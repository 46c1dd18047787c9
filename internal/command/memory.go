package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/relay/internal/memory"
)

// ConversationLog is the slice of conversation memory the history commands
// need. *memory.Conversation satisfies it.
type ConversationLog interface {
	History(ctx context.Context, sessionID string, limit int) []memory.SessionRecord
	Statistics(ctx context.Context) memory.Statistics
	RecentSessions(ctx context.Context, days int) []memory.SessionSummary
	Purge(ctx context.Context, days int) int64
}

// Defaults for the optional arguments of the memory commands.
const (
	DefaultHistoryLimit = 10
	DefaultSessionDays  = 7
	DefaultPurgeDays    = 30
)

// RegisterMemoryCommands registers /history, /stats, /sessions and /purge.
func RegisterMemoryCommands(reg *Registry, log ConversationLog) {
	reg.Register(historyCommand(log))
	reg.Register(statsCommand(log))
	reg.Register(sessionsCommand(log))
	reg.Register(purgeCommand(log))
}

// intArg parses an optional non-negative integer argument.
func intArg(args string, def int) (int, bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return def, true
	}
	n, err := strconv.Atoi(args)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func historyCommand(log ConversationLog) *Command {
	return &Command{
		Name:        "history",
		Description: "Show recent messages of this session",
		Usage:       "/history [n]",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			n, ok := intArg(args, DefaultHistoryLimit)
			if !ok {
				return &CommandResult{Content: "Usage: /history [n]"}, nil
			}
			recs := log.History(ctx, cc.SessionID, n)
			if len(recs) == 0 {
				return &CommandResult{Content: "No conversation history yet."}, nil
			}
			return &CommandResult{Content: memory.FormatContext(recs), Data: recs}, nil
		},
	}
}

func statsCommand(log ConversationLog) *Command {
	return &Command{
		Name:        "stats",
		Description: "Show conversation memory statistics",
		Usage:       "/stats",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			s := log.Statistics(ctx)
			return &CommandResult{
				Content: fmt.Sprintf("Conversation statistics:\n  Messages: %d\n  Sessions: %d\n  Oldest message: %d days ago",
					s.TotalMessages, s.TotalSessions, s.OldestMessageAgeDays),
				Data: s,
			}, nil
		},
	}
}

func sessionsCommand(log ConversationLog) *Command {
	return &Command{
		Name:        "sessions",
		Description: "List recent sessions",
		Usage:       "/sessions [days]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			days, ok := intArg(args, DefaultSessionDays)
			if !ok {
				return &CommandResult{Content: "Usage: /sessions [days]"}, nil
			}
			sessions := log.RecentSessions(ctx, days)
			if len(sessions) == 0 {
				return &CommandResult{Content: fmt.Sprintf("No sessions in the last %d days.", days)}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Sessions in the last %d days:\n", days)
			for _, s := range sessions {
				fmt.Fprintf(&b, "  %s  started %s  (%d messages)\n",
					s.SessionID, s.FirstMessage.Local().Format("2006-01-02 15:04"), s.MessageCount)
			}
			return &CommandResult{Content: b.String(), Data: sessions}, nil
		},
	}
}

func purgeCommand(log ConversationLog) *Command {
	return &Command{
		Name:        "purge",
		Description: "Delete messages older than the given number of days",
		Usage:       "/purge [days]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			days, ok := intArg(args, DefaultPurgeDays)
			if !ok {
				return &CommandResult{Content: "Usage: /purge [days]"}, nil
			}
			n := log.Purge(ctx, days)
			return &CommandResult{
				Content: fmt.Sprintf("Deleted %d messages older than %d days.", n, days),
				Data:    map[string]int64{"deleted": n},
			}, nil
		},
	}
}
