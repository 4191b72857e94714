package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/agent"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/identity"
)

type chatRequest struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	CustomerID string `json:"customer_id"`
	Tone       string `json:"tone"`
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	if !identity.ValidSessionID(sessionID) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	h.logger.Info("Chat request",
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	reply, err := h.conv.HandleCustomerMessage(r.Context(), agent.Inbound{
		SessionID:    sessionID,
		Text:         req.Message,
		CustomerID:   strings.TrimSpace(req.CustomerID),
		ToneOverride: strings.TrimSpace(req.Tone),
		Channel:      "chat_http",
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// CloseSession handles POST /api/sessions/{id}/close.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.conv.CloseSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// History handles GET /api/sessions/{id}/messages.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := h.conv.History(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

type linkRequest struct {
	CustomerID string `json:"customer_id"`
}

// LinkCustomer handles POST /api/sessions/{id}/customer.
func (h *Handler) LinkCustomer(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	linked, err := h.conv.LinkCustomer(r.Context(), id, strings.TrimSpace(req.CustomerID))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if !linked {
		Error(w, http.StatusConflict, "session already linked to another customer")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"session_id": id, "customer_id": req.CustomerID, "linked": true})
}

// Profile handles GET /api/customers/{id}/profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.conv.GetCustomerProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if p == nil {
		Error(w, http.StatusNotFound, "profile not found")
		return
	}
	JSON(w, http.StatusOK, p)
}

// clientKey identifies the caller for rate limiting. RemoteAddr already holds
// the forwarded address when RealIP runs ahead of the router.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
