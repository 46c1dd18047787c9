package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordMaxLen is Discord's limit on message content, in characters.
const discordMaxLen = 2000

// DiscordAdapter implements GatewayAdapter for Discord using the bot gateway.
// Each user gets their own session per channel, and direct messages get one
// session per user.
type DiscordAdapter struct {
	token       string
	session     *discordgo.Session
	handler     MessageHandler
	personas    map[string]*AgentPersona // agent name -> persona
	webhooks    map[string]string        // channelID -> webhook URL for persona messages
	connected   bool
	connectedAt time.Time
	lastError   string
	runCtx      context.Context
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		personas: make(map[string]*AgentPersona),
		webhooks: make(map[string]string),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers an agent's display persona for Discord messages.
func (a *DiscordAdapter) SetPersona(agentName string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentName] = persona
}

// SetWebhook registers a webhook URL for a channel to enable persona messages.
func (a *DiscordAdapter) SetWebhook(channelID, webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[channelID] = webhookURL
}

// Connect opens the Discord gateway websocket and verifies guild membership.
// Messages are handled under ctx.
func (a *DiscordAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.mu.Lock()
		a.lastError = fmt.Sprintf("session create: %v", err)
		a.mu.Unlock()
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.mu.Lock()
		a.lastError = fmt.Sprintf("open failed: %v", err)
		a.connected = false
		a.mu.Unlock()
		return fmt.Errorf("discord open: %w", err)
	}

	now := time.Now()
	a.mu.Lock()
	a.connected = true
	a.connectedAt = now
	a.lastError = ""
	a.mu.Unlock()

	// Log guild count
	guildCount := len(a.session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot not added to any server, invite it first")
	}

	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

// onMessageCreate handles incoming Discord messages.
func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if a.handler == nil {
		return
	}
	msg, ok := discordInbound(m.Message, s.State.User.ID)
	if !ok {
		return
	}
	a.mu.RLock()
	ctx := a.runCtx
	a.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	a.handler(ctx, msg)
}

// discordInbound normalizes a Discord message. Messages from bots, and
// messages that are empty once the bot mention is removed, are dropped.
func discordInbound(m *discordgo.Message, botID string) (*InboundMessage, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return nil, false
	}
	content := m.Content
	if botID != "" {
		content = strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(content)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	session := fmt.Sprintf("discord:%s:%s", m.ChannelID, m.Author.ID)
	if m.GuildID == "" {
		session = "discord:dm:" + m.Author.ID
	}
	return &InboundMessage{
		Platform:  "discord",
		SessionID: session,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	}, true
}

// splitDiscord breaks content into chunks of at most max characters,
// preferring to cut at a newline.
func splitDiscord(content string, max int) []string {
	var chunks []string
	rest := []rune(content)
	for len(rest) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = rest[cut:]
	}
	if len(rest) > 0 || len(chunks) == 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

// Send posts a message to a Discord channel.
// If a webhook is configured for the channel and an agent persona exists,
// it uses the webhook to display the agent's name and avatar.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	if a.session == nil {
		return fmt.Errorf("discord send: not connected")
	}
	a.mu.RLock()
	webhookURL := a.webhooks[msg.ChannelID]
	persona, hasPersona := a.personas[msg.AgentName]
	a.mu.RUnlock()

	// Use webhook for persona-styled messages
	if webhookURL != "" && hasPersona {
		for _, chunk := range splitDiscord(msg.Content, discordMaxLen) {
			if err := a.sendViaWebhook(webhookURL, persona, chunk); err != nil {
				return err
			}
		}
		return nil
	}

	// Fallback: plain bot message with persona name prefix
	content := msg.Content
	if hasPersona {
		content = fmt.Sprintf("**[%s]** %s", persona.Name, msg.Content)
	}
	for i, chunk := range splitDiscord(content, discordMaxLen) {
		var err error
		if i == 0 && msg.ReplyTo != "" {
			_, err = a.session.ChannelMessageSendReply(msg.ChannelID, chunk, &discordgo.MessageReference{
				MessageID: msg.ReplyTo,
				ChannelID: msg.ChannelID,
			})
		} else {
			_, err = a.session.ChannelMessageSend(msg.ChannelID, chunk)
		}
		if err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// sendViaWebhook posts a message using a Discord webhook with custom name/avatar.
func (a *DiscordAdapter) sendViaWebhook(webhookURL string, persona *AgentPersona, content string) error {
	webhook, err := a.session.WebhookWithToken(webhookURL, "")
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}

	params := &discordgo.WebhookParams{
		Content:  content,
		Username: persona.Name,
	}
	if persona.IconURL != "" {
		params.AvatarURL = persona.IconURL
	}

	_, err = a.session.WebhookExecute(webhook.ID, webhook.Token, false, params)
	if err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		guildCount := 0
		if a.session != nil && a.session.State != nil {
			guildCount = len(a.session.State.Guilds)
		}
		s.Details = fmt.Sprintf("bot=%s, guilds=%d",
			a.session.State.User.Username, guildCount)
	}
	return s
}
