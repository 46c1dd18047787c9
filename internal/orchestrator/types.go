package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/relay/internal/agent"
)

// State is a position in the run state machine.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateDelegating
	StateAwaiting
	StateEvaluating
	StateTerminated
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateSelecting:  "selecting",
	StateDelegating: "delegating",
	StateAwaiting:   "awaiting",
	StateEvaluating: "evaluating",
	StateTerminated: "terminated",
	StateFailed:     "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for k, v := range stateNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Message roles.
const (
	RoleUser         = "user"
	RoleAssistant    = "assistant"
	RoleOrchestrator = "orchestrator"
)

// Message is one entry of a run's transcript.
type Message struct {
	Role      string    `json:"role"`
	AgentName string    `json:"agent_name,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Speaker returns the agent name, or the role for non-agent messages.
func (m Message) Speaker() string {
	if m.AgentName != "" {
		return m.AgentName
	}
	return m.Role
}

// Transcript is the append-only message history of one run. Only the
// orchestrator appends to it; readers get copies.
type Transcript struct {
	msgs []Message
}

func (t *Transcript) append(m Message) {
	t.msgs = append(t.msgs, m)
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Transcript) Len() int { return len(t.msgs) }

// Last returns the most recent message.
func (t *Transcript) Last() (Message, bool) {
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

// turns renders the transcript from index from onward as agent request
// history.
func (t *Transcript) turns(from int) []agent.Turn {
	if from > len(t.msgs) {
		from = len(t.msgs)
	}
	out := make([]agent.Turn, 0, len(t.msgs)-from)
	for _, m := range t.msgs[from:] {
		out = append(out, agent.Turn{Role: m.Role, Content: m.Content, AgentName: m.AgentName})
	}
	return out
}

// Member is an agent the orchestrator can delegate to. *agent.Agent
// satisfies it.
type Member interface {
	Name() string
	Description() string
	Respond(ctx context.Context, req agent.Request) (*agent.Reply, error)
}

// StopReason records why a run terminated successfully.
type StopReason string

const (
	StopTermination     StopReason = "termination_token"
	StopBudgetExhausted StopReason = "turn_budget_exhausted"
	StopSelector        StopReason = "selector_terminated"
)

// Result is the outcome of a terminated run.
type Result struct {
	RunID string `json:"run_id"`
	// FinalText is the last substantive message with the termination token
	// removed.
	FinalText  string        `json:"final_text"`
	Transcript []Message     `json:"transcript"`
	Turns      int           `json:"turns"`
	Reason     StopReason    `json:"reason"`
	Duration   time.Duration `json:"duration"`
}

// LastSpeaker returns the agent that produced the final agent message.
func (r *Result) LastSpeaker() string {
	for i := len(r.Transcript) - 1; i >= 0; i-- {
		if r.Transcript[i].AgentName != "" {
			return r.Transcript[i].AgentName
		}
	}
	return ""
}

// ErrorKind classifies run failures.
type ErrorKind string

const (
	KindTurnExecution  ErrorKind = "turn_execution"
	KindTimeout        ErrorKind = "timeout"
	KindCancelled      ErrorKind = "cancelled"
	KindSelection      ErrorKind = "selection"
	KindInitialization ErrorKind = "initialization"
)

var (
	// ErrNoAgents is returned when an orchestrator is built without members.
	ErrNoAgents = agent.ErrNoAgents
	// ErrNoEligibleAgent is reported when selection yields no agent.
	ErrNoEligibleAgent = errors.New("no eligible agent")
	ErrEmptyTask       = errors.New("task is empty")
)

// RunError is returned when a run enters the Failed state. It carries the
// partial transcript for diagnostics.
type RunError struct {
	RunID      string
	Kind       ErrorKind
	Turn       int
	Agent      string
	Err        error
	Transcript []Message
}

func (e *RunError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("run %s failed at turn %d (%s, agent %s): %v", e.RunID, e.Turn, e.Kind, e.Agent, e.Err)
	}
	return fmt.Sprintf("run %s failed at turn %d (%s): %v", e.RunID, e.Turn, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// TaskStatus tracks a scheduled run.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskDone      TaskStatus = "done"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a run submitted through the Scheduler.
type Task struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Input       string     `json:"input"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
