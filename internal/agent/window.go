package agent

import (
	"fmt"

	"github.com/nidhogg/relay/internal/provider"
)

// window holds the blocks of one model call. The system prompt and task are
// fixed; history is trimmed from the oldest end to fit the budget.
type window struct {
	system  provider.Message
	history []provider.Message
	task    provider.Message
}

// newWindow renders history from the point of view of agent self: its own
// earlier turns become assistant messages, everyone else's are user
// messages labelled with the speaker.
func newWindow(self, systemPrompt string, req Request) *window {
	w := &window{
		system: provider.Message{Role: provider.RoleSystem, Content: systemPrompt},
		task:   provider.Message{Role: provider.RoleUser, Content: req.Task},
	}
	for _, t := range req.History {
		if t.Content == "" {
			continue
		}
		switch {
		case t.AgentName == self:
			w.history = append(w.history, provider.Message{Role: provider.RoleAssistant, Content: t.Content})
		case t.AgentName != "":
			w.history = append(w.history, provider.Message{
				Role:    provider.RoleUser,
				Content: fmt.Sprintf("[%s]: %s", t.AgentName, t.Content),
			})
		default:
			w.history = append(w.history, provider.Message{Role: provider.RoleUser, Content: t.Content})
		}
	}
	return w
}

// fit drops the oldest history messages until the estimated token count
// fits budget. budget <= 0 disables trimming. It returns how many messages
// were dropped.
func (w *window) fit(budget int) int {
	if budget <= 0 {
		return 0
	}
	total := estimateTokensStr(w.system.Content) + estimateTokensStr(w.task.Content) + estimateTokens(w.history)
	dropped := 0
	for total > budget && len(w.history) > 0 {
		total -= estimateTokensStr(w.history[0].Content)
		w.history = w.history[1:]
		dropped++
	}
	return dropped
}

func (w *window) messages() []provider.Message {
	msgs := make([]provider.Message, 0, len(w.history)+2)
	msgs = append(msgs, w.system)
	msgs = append(msgs, w.history...)
	if w.task.Content != "" {
		msgs = append(msgs, w.task)
	}
	return msgs
}

// estimateTokens estimates total tokens for a slice of messages.
func estimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokensStr(m.Content)
	}
	return total
}

// estimateTokensStr uses the rough ~4 bytes per token heuristic.
func estimateTokensStr(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
