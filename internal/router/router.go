// Package router turns user input from any front end into either a command
// reply or an orchestrated run, keeping conversation memory in step.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/relay/internal/command"
	"github.com/nidhogg/relay/internal/gateway"
	"github.com/nidhogg/relay/internal/memory"
	"github.com/nidhogg/relay/internal/orchestrator"
	"go.uber.org/zap"
)

// ErrEmptyInput is returned by Process for blank input.
var ErrEmptyInput = errors.New("input is empty")

// Submitter runs a task for a session. *orchestrator.Scheduler satisfies it.
type Submitter interface {
	Submit(ctx context.Context, sessionID, input string) (*orchestrator.Result, error)
}

// Sender delivers replies to a platform. *gateway.Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// Reply is what the user sees for one piece of input.
type Reply struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name,omitempty"`
	Content   string `json:"content"`
	// Command is set when the input was a slash command.
	Command bool           `json:"command,omitempty"`
	Action  command.Action `json:"action,omitempty"`
	// Result is the finished run, nil for commands and failures.
	Result *orchestrator.Result `json:"result,omitempty"`
}

// MessageRouter routes input to the command registry or the orchestrator.
type MessageRouter struct {
	runs            Submitter
	conv            *memory.Conversation
	commands        *command.Registry
	out             Sender
	contextMessages int
	logger          *zap.Logger
}

// New creates a MessageRouter. out may be nil when replies are returned
// directly, as in the terminal front end.
func New(runs Submitter, conv *memory.Conversation, commands *command.Registry, out Sender, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		runs:            runs,
		conv:            conv,
		commands:        commands,
		out:             out,
		contextMessages: memory.DefaultContextMessages,
		logger:          logger,
	}
}

// SetContextMessages sets how many stored messages are prepended to a task.
// n <= 0 disables the history prefix.
func (mr *MessageRouter) SetContextMessages(n int) { mr.contextMessages = n }

// Process handles one piece of input for a session and returns the reply.
// A failed run yields both an "Error processing message" reply and the
// run's error.
func (mr *MessageRouter) Process(ctx context.Context, sessionID, input string, cc *command.CommandContext) (*Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if command.IsCommand(input) {
		if cc == nil {
			cc = &command.CommandContext{}
		}
		cc.SessionID = sessionID
		res, err := mr.commands.Dispatch(ctx, input, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			return &Reply{SessionID: sessionID, Command: true, Content: "Command error: " + err.Error()}, err
		}
		return &Reply{SessionID: sessionID, Command: true, Content: res.Content, Action: res.Action}, nil
	}

	task := input
	if mr.contextMessages > 0 {
		if history := mr.conv.Context(ctx, sessionID, mr.contextMessages); history != "" {
			task = history + requestMarker + input
		}
	}
	mr.conv.Save(ctx, sessionID, memory.RoleUser, input, "")

	res, err := mr.runs.Submit(ctx, sessionID, task)
	if err != nil {
		mr.logger.Warn("run failed", zap.String("session", sessionID), zap.Error(err))
		return &Reply{SessionID: sessionID, Content: fmt.Sprintf("Error processing message: %v", err)}, err
	}

	speaker := res.LastSpeaker()
	mr.conv.Save(ctx, sessionID, memory.RoleAssistant, res.FinalText, speaker)
	return &Reply{
		SessionID: sessionID,
		AgentName: speaker,
		Content:   res.FinalText,
		Result:    res,
	}, nil
}

// Handle routes an inbound platform message and sends the reply back.
// Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(ctx context.Context, msg *gateway.InboundMessage) {
	sessionID := SessionFor(msg)
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("session", sessionID),
		zap.String("user", msg.UserName),
	)

	reply, err := mr.Process(ctx, sessionID, msg.Content, &command.CommandContext{
		Platform: msg.Platform,
		UserID:   msg.UserID,
		UserName: msg.UserName,
	})
	if reply == nil {
		mr.logger.Debug("dropping message", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	mr.sendReply(ctx, msg, reply)
}

const requestMarker = "\n\nCurrent request: "

// UserInput returns the user's own words from a task built by Process.
func UserInput(task string) string {
	if i := strings.LastIndex(task, requestMarker); i >= 0 {
		return task[i+len(requestMarker):]
	}
	return task
}

// SessionFor returns the session a platform message belongs to.
func SessionFor(msg *gateway.InboundMessage) string {
	if msg.SessionID != "" {
		return msg.SessionID
	}
	return msg.Platform + ":" + msg.ChannelID
}

func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, reply *Reply) {
	if mr.out == nil {
		return
	}
	err := mr.out.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		SessionID: reply.SessionID,
		ChannelID: orig.ChannelID,
		AgentName: reply.AgentName,
		Content:   reply.Content,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
