// Package orchestrator runs a team of agents through a turn-based state
// machine until one of them emits the termination token, the selector ends
// the run, or the turn budget is spent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/relay/internal/agent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultMaxTurns         = 15
	DefaultTerminationToken = "TERMINATE"
	DefaultTurnTimeout      = 120 * time.Second
)

// Options configure run limits.
type Options struct {
	MaxTurns         int
	TerminationToken string
	TurnTimeout      time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if strings.TrimSpace(o.TerminationToken) == "" {
		o.TerminationToken = DefaultTerminationToken
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = DefaultTurnTimeout
	}
}

// Orchestrator sequences turns among a fixed set of members. It holds no
// per-run state, so independent runs may proceed concurrently.
type Orchestrator struct {
	members   []Member
	byName    map[string]Member
	selector  Selector
	opts      Options
	observers []Observer
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New creates an orchestrator. It fails with ErrNoAgents when members is
// empty. A nil selector uses KeywordSelector.
func New(members []Member, selector Selector, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if len(members) == 0 {
		return nil, ErrNoAgents
	}
	if selector == nil {
		selector = KeywordSelector{}
	}
	opts.withDefaults()

	byName := make(map[string]Member, len(members))
	for _, m := range members {
		if _, dup := byName[m.Name()]; dup {
			return nil, fmt.Errorf("duplicate member %q", m.Name())
		}
		byName[m.Name()] = m
	}
	return &Orchestrator{
		members:  append([]Member(nil), members...),
		byName:   byName,
		selector: selector,
		opts:     opts,
		tracer:   otel.Tracer("github.com/nidhogg/relay/internal/orchestrator"),
		logger:   logger,
	}, nil
}

// FromPool adapts an agent pool into orchestrator members.
func FromPool(p *agent.Pool) []Member {
	agents := p.Agents()
	out := make([]Member, len(agents))
	for i, a := range agents {
		out[i] = a
	}
	return out
}

// Observe registers an observer for every subsequent run. Not safe to call
// while runs are in progress.
func (o *Orchestrator) Observe(obs Observer) {
	o.observers = append(o.observers, obs)
}

// Members returns the candidates in registration order.
func (o *Orchestrator) Members() []Candidate {
	out := make([]Candidate, len(o.members))
	for i, m := range o.members {
		out[i] = Candidate{Name: m.Name(), Description: m.Description()}
	}
	return out
}

func (o *Orchestrator) Options() Options { return o.opts }

// run is the mutable state of one Run call.
type run struct {
	id         string
	task       string
	state      State
	turns      int
	transcript Transcript
	started    time.Time
}

// Run executes task to completion. On failure it returns a *RunError
// carrying the partial transcript. Every run ends with a transition from
// Terminated or Failed back to Idle.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}

	r := &run{id: uuid.NewString(), task: task, state: StateIdle, started: time.Now()}
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("orchestrator.run_id", r.id),
			attribute.Int("orchestrator.max_turns", o.opts.MaxTurns),
		))
	defer span.End()

	logger := o.logger.With(zap.String("run", r.id))
	logger.Info("run started", zap.Int("members", len(o.members)))

	o.record(ctx, r, Message{Role: RoleUser, Content: task})

	res, err := o.loop(ctx, r, logger)
	o.transition(ctx, r, StateIdle)
	if err != nil {
		var re *RunError
		if errors.As(err, &re) {
			span.SetAttributes(attribute.String("orchestrator.error_kind", string(re.Kind)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		logger.Error("run failed", zap.Int("turns", r.turns), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("orchestrator.turns", res.Turns),
		attribute.String("orchestrator.stop_reason", string(res.Reason)))
	span.SetStatus(codes.Ok, "terminated")
	logger.Info("run terminated",
		zap.Int("turns", res.Turns),
		zap.String("reason", string(res.Reason)),
		zap.Duration("elapsed", res.Duration))
	return res, nil
}

func (o *Orchestrator) loop(ctx context.Context, r *run, logger *zap.Logger) (*Result, error) {
	for {
		o.transition(ctx, r, StateSelecting)
		if err := ctx.Err(); err != nil {
			return nil, o.fail(ctx, r, KindCancelled, "", err)
		}

		d, err := o.selector.Select(ctx, Selection{
			Task:       r.task,
			Transcript: r.transcript.Messages(),
			Candidates: o.Members(),
			Turn:       r.turns + 1,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.fail(ctx, r, KindCancelled, "", ctx.Err())
			}
			return nil, o.fail(ctx, r, KindSelection, "", fmt.Errorf("select agent: %w", err))
		}

		if d.Terminate {
			if answer := strings.TrimSpace(d.Answer); answer != "" {
				o.record(ctx, r, Message{Role: RoleOrchestrator, Content: answer})
			}
			return o.terminate(ctx, r, StopSelector), nil
		}
		if d.Agent == "" {
			return nil, o.fail(ctx, r, KindInitialization, "", ErrNoEligibleAgent)
		}
		member, ok := o.byName[d.Agent]
		if !ok {
			return nil, o.fail(ctx, r, KindSelection, d.Agent, fmt.Errorf("selector chose unknown agent %q", d.Agent))
		}

		r.turns++
		o.transition(ctx, r, StateDelegating)
		// The task opens the transcript; it is only repeated in the
		// history when an instruction replaces it.
		req := agent.Request{Task: r.task, History: r.transcript.turns(1)}
		if instr := strings.TrimSpace(d.Instruction); instr != "" {
			req.Task = instr
			req.History = r.transcript.turns(0)
		}
		logger.Debug("delegating turn",
			zap.Int("turn", r.turns),
			zap.String("agent", member.Name()))

		o.transition(ctx, r, StateAwaiting)
		reply, kind, err := o.await(ctx, r, member, req)
		if err != nil {
			return nil, o.fail(ctx, r, kind, member.Name(), err)
		}

		o.transition(ctx, r, StateEvaluating)
		o.record(ctx, r, Message{Role: RoleAssistant, AgentName: member.Name(), Content: reply.Content})

		// Substring containment is the control protocol: a token anywhere
		// in the message ends the run.
		if strings.Contains(reply.Content, o.opts.TerminationToken) {
			return o.terminate(ctx, r, StopTermination), nil
		}
		if r.turns >= o.opts.MaxTurns {
			return o.terminate(ctx, r, StopBudgetExhausted), nil
		}
	}
}

type outcome struct {
	reply *agent.Reply
	err   error
}

// await invokes one member under the turn timeout. The member runs on its
// own goroutine so a cancelled or timed-out turn returns promptly; its late
// reply is discarded.
func (o *Orchestrator) await(ctx context.Context, r *run, m Member, req agent.Request) (*agent.Reply, ErrorKind, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn",
		trace.WithAttributes(
			attribute.String("orchestrator.run_id", r.id),
			attribute.Int("orchestrator.turn", r.turns),
			attribute.String("orchestrator.agent", m.Name()),
		))
	defer span.End()

	tctx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("agent panicked: %v", rec)}
			}
		}()
		reply, err := m.Respond(tctx, req)
		done <- outcome{reply: reply, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-tctx.Done():
		out = outcome{err: tctx.Err()}
	}

	kind := KindTurnExecution
	switch {
	case ctx.Err() != nil:
		// A reply that raced with cancellation is discarded.
		kind, out = KindCancelled, outcome{err: ctx.Err()}
	case out.err == nil && out.reply == nil:
		out.err = errors.New("agent returned no reply")
	case out.err == nil:
		span.SetAttributes(attribute.Int("orchestrator.tool_calls", out.reply.ToolCalls))
		return out.reply, "", nil
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
		out.err = fmt.Errorf("turn exceeded %s: %w", o.opts.TurnTimeout, out.err)
	}
	span.RecordError(out.err)
	span.SetStatus(codes.Error, string(kind))
	return nil, kind, out.err
}

func (o *Orchestrator) terminate(ctx context.Context, r *run, reason StopReason) *Result {
	o.transition(ctx, r, StateTerminated)
	msgs := r.transcript.Messages()
	return &Result{
		RunID:      r.id,
		FinalText:  finalText(msgs, o.opts.TerminationToken),
		Transcript: msgs,
		Turns:      r.turns,
		Reason:     reason,
		Duration:   time.Since(r.started),
	}
}

func (o *Orchestrator) fail(ctx context.Context, r *run, kind ErrorKind, agentName string, err error) error {
	o.transition(ctx, r, StateFailed)
	return &RunError{
		RunID:      r.id,
		Kind:       kind,
		Turn:       r.turns,
		Agent:      agentName,
		Err:        err,
		Transcript: r.transcript.Messages(),
	}
}

func (o *Orchestrator) transition(ctx context.Context, r *run, to State) {
	from := r.state
	r.state = to
	o.notify(ctx, Event{RunID: r.id, Type: EventState, From: from, State: to, Turn: r.turns, Timestamp: time.Now()})
}

func (o *Orchestrator) record(ctx context.Context, r *run, m Message) {
	m.Timestamp = time.Now()
	r.transcript.append(m)
	o.notify(ctx, Event{RunID: r.id, Type: EventMessage, State: r.state, Turn: r.turns, Message: &m, Timestamp: m.Timestamp})
}

func (o *Orchestrator) notify(ctx context.Context, ev Event) {
	for _, obs := range o.observers {
		obs.Observe(ctx, ev)
	}
}

// finalText returns the last message that still has content once the
// termination token is removed.
func finalText(msgs []Message, token string) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			break
		}
		if text := strings.TrimSpace(strings.ReplaceAll(msgs[i].Content, token, "")); text != "" {
			return text
		}
	}
	return ""
}
