// Package api provides HTTP handlers for the CX API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/agent"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/analysis"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/handoff"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Conversations is the conversation surface served over HTTP.
type Conversations interface {
	HandleCustomerMessage(ctx context.Context, in agent.Inbound) (agent.Reply, error)
	CloseSession(ctx context.Context, sessionID string) (domain.CloseResult, error)
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	LinkCustomer(ctx context.Context, sessionID, customerID string) (bool, error)
	GetCustomerProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error)
	ListHandoffs() []handoff.Handoff
	AcceptHandoff(ctx context.Context, sessionID, agentName string) (handoff.Handoff, error)
	AgentReply(ctx context.Context, sessionID, agentName, text string) (domain.Message, error)
}

// Copilot assists human agents on a handed-off session.
type Copilot interface {
	Suggest(ctx context.Context, sessionID string) (analysis.CopilotSuggestion, error)
	SmartSuggestions(ctx context.Context, sessionID string) (analysis.SmartSuggestions, error)
	Sentiment(ctx context.Context, sessionID string) (domain.Sentiment, error)
	CustomerContext(ctx context.Context, sessionID string) (analysis.CustomerContext, error)
}

// Limiter admits requests per key.
type Limiter interface {
	Allow(key string) bool
}

// Handler serves the REST routes.
type Handler struct {
	conv        Conversations
	copilot     Copilot
	limiter     Limiter
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates a handler. limiter may be nil to disable rate limiting.
func NewHandler(conv Conversations, limiter Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		conv:        conv,
		limiter:     limiter,
		maxBodySize: defaultMaxRequestBodySize,
		logger:      logger,
	}
}

// WithCopilot enables the agent co-pilot routes under /api/handoffs/{id}.
func (h *Handler) WithCopilot(c Copilot) *Handler {
	h.copilot = c
	return h
}

// RegisterRoutes registers the conversation and handoff routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/close", h.CloseSession)
			r.Get("/messages", h.History)
			r.Post("/customer", h.LinkCustomer)
		})
		r.Get("/customers/{id}/profile", h.Profile)
		r.Route("/handoffs", func(r chi.Router) {
			r.Get("/", h.ListHandoffs)
			r.Post("/{id}/accept", h.AcceptHandoff)
			r.Post("/{id}/messages", h.AgentReply)
			if h.copilot != nil {
				r.Get("/{id}/copilot", h.CopilotSuggestion)
				r.Get("/{id}/smart-suggestions", h.SmartSuggestions)
				r.Get("/{id}/sentiment", h.Sentiment)
				r.Get("/{id}/context", h.CustomerContext)
			}
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, mapping oversize bodies to 413.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeErr maps service errors to HTTP statuses.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agent.ErrInvalidCustomerID):
		Error(w, http.StatusBadRequest, "invalid customer id")
	case errors.Is(err, agent.ErrSessionNotFound), errors.Is(err, handoff.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, agent.ErrSessionClosed):
		Error(w, http.StatusConflict, "session closed")
	case errors.Is(err, handoff.ErrAlreadyAccepted):
		Error(w, http.StatusConflict, "handoff accepted by another agent")
	case errors.Is(err, agent.ErrNotHandedOff):
		Error(w, http.StatusConflict, "session is not handed off")
	case errors.Is(err, llm.ErrModelUnavailable):
		Error(w, http.StatusServiceUnavailable, "model unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db      Pinger
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, map[string]any{"status": status, "checks": checks})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
