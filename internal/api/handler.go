// Package api exposes the assistant over HTTP: chat, agent listing,
// conversation memory and gateway health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/nidhogg/relay/internal/command"
	"github.com/nidhogg/relay/internal/gateway"
	"github.com/nidhogg/relay/internal/memory"
	"github.com/nidhogg/relay/internal/orchestrator"
	"github.com/nidhogg/relay/internal/router"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	router *router.MessageRouter
	conv   *memory.Conversation
	agents command.AgentLister
	runs   command.RunLister
	gw     *gateway.Gateway
	restGW *gateway.RESTAdapter
	events EventSource
	logger *zap.Logger
}

// EventSource replays and follows the events of one run.
// *orchestrator.EventBus satisfies it.
type EventSource interface {
	Known(ctx context.Context, runID string) (bool, error)
	Subscribe(ctx context.Context, runID string) <-chan orchestrator.Event
}

// NewHandler creates a new API handler. gw, restGW and runs may be nil.
func NewHandler(
	mr *router.MessageRouter,
	conv *memory.Conversation,
	agents command.AgentLister,
	runs command.RunLister,
	gw *gateway.Gateway,
	restGW *gateway.RESTAdapter,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		router: mr,
		conv:   conv,
		agents: agents,
		runs:   runs,
		gw:     gw,
		restGW: restGW,
		logger: logger,
	}
}

// SetEvents enables GET /api/runs/{id}/events.
func (h *Handler) SetEvents(src EventSource) { h.events = src }

var validate = validator.New()

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/agents", h.listAgents)
		r.Post("/chat", h.chat)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}/events", h.runEvents)

		// Conversation memory
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{id}/history", h.sessionHistory)
		r.Get("/stats", h.stats)
		r.Post("/purge", h.purge)

		if h.restGW != nil {
			r.Mount("/gateway/rest", h.restGW.Routes())
		}
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if h.gw != nil {
		resp["adapters"] = h.gw.StatusAll()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agents.List())
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := []command.RunInfo{}
	if h.runs != nil {
		runs = append(runs, h.runs.Runs()...)
	}
	writeJSON(w, http.StatusOK, runs)
}

// runEvents streams a run's events as server-sent events until the run is
// back in idle or the client goes away.
func (h *Handler) runEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "run events are not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	runID := chi.URLParam(r, "id")
	known, err := h.events.Known(r.Context(), runID)
	if err != nil {
		h.logger.Warn("look up run events", zap.String("run", runID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "run events unavailable")
		return
	}
	if !known {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range h.events.Subscribe(r.Context(), runID) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("encode run event", zap.String("run", runID), zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

type chatRequest struct {
	SessionID string `json:"session_id" validate:"required,max=128"`
	Message   string `json:"message" validate:"required"`
}

type chatError struct {
	Error string                 `json:"error"`
	Kind  orchestrator.ErrorKind `json:"kind,omitempty"`
	Reply *router.Reply          `json:"reply,omitempty"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.router.Process(r.Context(), req.SessionID, req.Message, &command.CommandContext{Platform: "api"})
	if err != nil {
		if errors.Is(err, router.ErrEmptyInput) {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			return
		}
		status, body := http.StatusInternalServerError, chatError{Error: err.Error(), Reply: reply}
		var runErr *orchestrator.RunError
		if errors.As(err, &runErr) {
			body.Kind = runErr.Kind
			if runErr.Kind == orchestrator.KindTimeout {
				status = http.StatusGatewayTimeout
			}
		}
		h.logger.Warn("chat failed", zap.String("session", req.SessionID), zap.Error(err))
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", command.DefaultSessionDays)
	if !ok {
		return
	}
	sessions := h.conv.RecentSessions(r.Context(), days)
	if sessions == nil {
		sessions = []memory.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) sessionHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	recs := h.conv.History(r.Context(), chi.URLParam(r, "id"), limit)
	if recs == nil {
		recs = []memory.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.conv.Statistics(r.Context()))
}

type purgeRequest struct {
	Days *int `json:"days" validate:"omitempty,gte=0"`
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "days must not be negative")
		return
	}
	days := command.DefaultPurgeDays
	if req.Days != nil {
		days = *req.Days
	}
	deleted := h.conv.Purge(r.Context(), days)
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// queryInt reads a non-negative integer query parameter, answering 400 on
// a malformed value.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
