package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ListHandoffs handles GET /api/handoffs.
func (h *Handler) ListHandoffs(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"handoffs": h.conv.ListHandoffs()})
}

type acceptRequest struct {
	Agent string `json:"agent"`
}

// AcceptHandoff handles POST /api/handoffs/{id}/accept.
func (h *Handler) AcceptHandoff(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Agent) == "" {
		Error(w, http.StatusBadRequest, "agent is required")
		return
	}
	ho, err := h.conv.AcceptHandoff(r.Context(), chi.URLParam(r, "id"), req.Agent)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, ho)
}

type agentMessageRequest struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// AgentReply handles POST /api/handoffs/{id}/messages.
func (h *Handler) AgentReply(w http.ResponseWriter, r *http.Request) {
	var req agentMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.conv.AgentReply(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Agent), req.Message)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// CopilotSuggestion handles GET /api/handoffs/{id}/copilot.
func (h *Handler) CopilotSuggestion(w http.ResponseWriter, r *http.Request) {
	s, err := h.copilot.Suggest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// SmartSuggestions handles GET /api/handoffs/{id}/smart-suggestions.
func (h *Handler) SmartSuggestions(w http.ResponseWriter, r *http.Request) {
	s, err := h.copilot.SmartSuggestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// Sentiment handles GET /api/handoffs/{id}/sentiment.
func (h *Handler) Sentiment(w http.ResponseWriter, r *http.Request) {
	s, err := h.copilot.Sentiment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// CustomerContext handles GET /api/handoffs/{id}/context.
func (h *Handler) CustomerContext(w http.ResponseWriter, r *http.Request) {
	c, err := h.copilot.CustomerContext(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, c)
}
