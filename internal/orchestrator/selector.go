package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/relay/internal/provider"
	"go.uber.org/zap"
)

// Candidate is an agent offered to a selector.
type Candidate struct {
	Name        string
	Description string
}

// Selection is the input to one selection decision.
type Selection struct {
	Task       string
	Transcript []Message
	Candidates []Candidate
	Turn       int
}

// Decision names the next agent, or ends the run.
type Decision struct {
	Agent string `json:"agent"`
	// Instruction, when set, replaces the task in the agent's request.
	Instruction string `json:"instruction,omitempty"`
	Terminate   bool   `json:"terminate,omitempty"`
	// Answer is appended to the transcript when the selector terminates.
	Answer string `json:"answer,omitempty"`
}

// Selector picks the agent for the next turn.
type Selector interface {
	Select(ctx context.Context, s Selection) (Decision, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context, s Selection) (Decision, error)

func (f SelectorFunc) Select(ctx context.Context, s Selection) (Decision, error) { return f(ctx, s) }

// KeywordSelector scores each candidate by word overlap between the task
// plus the latest message and the candidate's name and description. Ties go
// to the earliest candidate. Once an agent has answered the latest user
// message it ends the run.
type KeywordSelector struct{}

func (KeywordSelector) Select(_ context.Context, s Selection) (Decision, error) {
	if len(s.Candidates) == 0 {
		return Decision{}, nil
	}
	if n := len(s.Transcript); n > 0 && s.Transcript[n-1].AgentName != "" {
		return Decision{Terminate: true}, nil
	}

	query := s.Task
	if n := len(s.Transcript); n > 0 {
		query += " " + s.Transcript[n-1].Content
	}
	words := make(map[string]bool)
	for _, w := range extractKeywords(query) {
		words[w] = true
	}

	best, bestScore := 0, -1
	for i, c := range s.Candidates {
		score := 0
		for _, w := range extractKeywords(c.Name + " " + c.Description) {
			if words[w] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return Decision{Agent: s.Candidates[best].Name}, nil
}

// LLMSelector asks a model which agent should speak next. Unparseable or
// failed answers fall back to an agent named in the reply, then to the
// fallback selector.
type LLMSelector struct {
	client   provider.Client
	fallback Selector
	logger   *zap.Logger
}

// NewLLMSelector creates a model-driven selector. A nil fallback uses
// KeywordSelector.
func NewLLMSelector(client provider.Client, fallback Selector, logger *zap.Logger) *LLMSelector {
	if fallback == nil {
		fallback = KeywordSelector{}
	}
	return &LLMSelector{client: client, fallback: fallback, logger: logger}
}

func (l *LLMSelector) Select(ctx context.Context, s Selection) (Decision, error) {
	if len(s.Candidates) == 0 {
		return Decision{}, nil
	}

	resp, err := l.client.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: selectorSystemPrompt},
			{Role: provider.RoleUser, Content: selectionPrompt(s)},
		},
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		l.logger.Warn("selector model call failed, using fallback", zap.Error(err))
		return l.fallback.Select(ctx, s)
	}

	if d, ok := parseDecision(resp.Content, s.Candidates); ok {
		return d, nil
	}
	if name := mentionedCandidate(resp.Content, s.Candidates); name != "" {
		return Decision{Agent: name}, nil
	}
	l.logger.Warn("selector reply not understood, using fallback",
		zap.String("reply", truncateStr(resp.Content, 200)))
	return l.fallback.Select(ctx, s)
}

const selectorSystemPrompt = `You coordinate a team of assistants answering a user's task.
Pick the single assistant best suited to act next, based on the task, the conversation so far and each assistant's description.
If the task is already fully answered, set "terminate" to true and leave "agent" empty.
Reply with JSON only:
{"agent":"<assistant name>","instruction":"<optional focused instruction>","terminate":false,"answer":""}`

func selectionPrompt(s Selection) string {
	var b strings.Builder
	b.WriteString("Available assistants:\n")
	for _, c := range s.Candidates {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	fmt.Fprintf(&b, "\nTask: %s\n", s.Task)
	if len(s.Transcript) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range s.Transcript {
			fmt.Fprintf(&b, "[%s]: %s\n", m.Speaker(), truncateStr(m.Content, 1000))
		}
	}
	fmt.Fprintf(&b, "\nThis is turn %d. Who should act next?", s.Turn)
	return b.String()
}

// parseDecision extracts a JSON decision from a model reply, tolerating
// code fences and surrounding prose.
func parseDecision(reply string, candidates []Candidate) (Decision, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(reply[start:end+1]), &d); err != nil {
		return Decision{}, false
	}
	if d.Terminate {
		d.Agent = ""
		return d, true
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Name, strings.TrimSpace(d.Agent)) {
			d.Agent = c.Name
			return d, true
		}
	}
	return Decision{}, false
}

// mentionedCandidate returns the first candidate whose name appears in text.
func mentionedCandidate(text string, candidates []Candidate) string {
	for _, c := range candidates {
		if strings.Contains(text, c.Name) {
			return c.Name
		}
	}
	return ""
}

// extractKeywords splits text into lowercase words, dropping short words,
// stopwords and duplicates.
func extractKeywords(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})

	seen := make(map[string]bool)
	var result []string
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 3 || stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		result = append(result, lower)
	}
	return result
}

func truncateStr(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true,
	"but": true, "not": true, "you": true, "all": true,
	"can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "has": true,
	"have": true, "been": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true,
	"what": true, "when": true, "make": true, "like": true,
	"just": true, "into": true, "than": true, "them": true,
	"some": true, "could": true, "would": true, "there": true,
	"use": true, "about": true, "assistant": true, "provides": true,
}
