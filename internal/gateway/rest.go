package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRESTTimeout bounds how long a REST caller waits for a reply.
const DefaultRESTTimeout = 5 * time.Minute

// RESTAdapter implements GatewayAdapter for HTTP-based message ingestion.
// Each request waits for its own reply.
type RESTAdapter struct {
	handler  MessageHandler
	channels map[string]chan *OutboundMessage // channelID -> pending responses
	timeout  time.Duration
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter. timeout <= 0 uses
// DefaultRESTTimeout.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = DefaultRESTTimeout
	}
	return &RESTAdapter{
		channels: make(map[string]chan *OutboundMessage),
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AdapterStatus{
		Platform:  "rest",
		Connected: true,
		Details:   fmt.Sprintf("pending=%d", len(a.channels)),
	}
}

// Send delivers a message to a waiting REST channel.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.channels[msg.ChannelID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active channel: %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel %s buffer full", msg.ChannelID)
	}
}

// Routes returns a chi router with REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

type restRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Content   string `json:"content"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleMessage accepts an inbound message via HTTP and waits for the response.
func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req restRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	channelID := uuid.New().String()
	ch := make(chan *OutboundMessage, 1)

	a.mu.Lock()
	a.channels[channelID] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.channels, channelID)
		a.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	// Dispatch inbound message to handler
	if a.handler != nil {
		go a.handler(ctx, &InboundMessage{
			Platform:  "rest",
			SessionID: req.SessionID,
			ChannelID: channelID,
			UserID:    req.UserID,
			UserName:  req.UserName,
			Content:   req.Content,
			Timestamp: time.Now(),
		})
	}

	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
	case <-ctx.Done():
		if r.Context().Err() != nil {
			a.logger.Debug("rest client went away", zap.String("session", req.SessionID))
			return
		}
		writeError(w, http.StatusGatewayTimeout, "response timeout")
	}
}
