package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter implements GatewayAdapter for Slack using Socket Mode.
type SlackAdapter struct {
	botToken    string
	appToken    string
	client      *slack.Client
	socket      *socketmode.Client
	handler     MessageHandler
	personas    map[string]*AgentPersona // agent name -> persona
	threads     map[string]string        // channelID:userID -> thread_ts for conversation continuity
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		botToken: botToken,
		appToken: appToken,
		client:   client,
		socket:   socket,
		personas: make(map[string]*AgentPersona),
		threads:  make(map[string]string),
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers an agent's display persona for Slack messages.
func (a *SlackAdapter) SetPersona(agentName string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentName] = persona
}

// Connect starts the Socket Mode event loop in a background goroutine.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		err := a.socket.RunContext(ctx)
		a.mu.Lock()
		a.connected = false
		if err != nil && ctx.Err() == nil {
			a.lastError = err.Error()
		}
		a.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.mu.Unlock()
	a.logger.Info("slack adapter connected via socket mode")
	return nil
}

// handleEvents processes incoming Socket Mode events.
func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(ctx, evt)
		}
	}
}

func (a *SlackAdapter) processEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)

		if eventsAPI.Type == slackevents.CallbackEvent {
			switch inner := eventsAPI.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				// Ignore bot messages to avoid loops
				if inner.BotID != "" {
					return
				}
				// Runs may take minutes; keep the event loop free.
				go a.handleSlackMessage(ctx, inner)
			}
		}
	}
}

func (a *SlackAdapter) handleSlackMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if a.handler == nil {
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	key := fmt.Sprintf("%s:%s", ev.Channel, ev.User)
	a.mu.Lock()
	a.threads[key] = threadTS
	a.mu.Unlock()

	a.handler(ctx, &InboundMessage{
		Platform:  "slack",
		SessionID: fmt.Sprintf("slack:%s:%s", ev.Channel, threadTS),
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

// Send posts a message to a Slack channel with agent persona styling.
func (a *SlackAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}

	// Thread reply if we have a tracked thread
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}

	// Apply agent persona for distinct identity
	opts = append(opts, a.personaOpts(msg.AgentName)...)

	_, _, err := a.client.PostMessage(msg.ChannelID, opts...)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// personaOpts builds Slack message options for agent persona display.
func (a *SlackAdapter) personaOpts(agentName string) []slack.MsgOption {
	if agentName == "" {
		return nil
	}
	a.mu.RLock()
	p, ok := a.personas[agentName]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	opts := []slack.MsgOption{
		slack.MsgOptionUsername(p.Name),
	}
	if p.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(p.IconURL))
	} else if p.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		st.ConnectedAt = &t
		st.Details = fmt.Sprintf("threads=%d", len(a.threads))
	}
	return st
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	return nil
}
