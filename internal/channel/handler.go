package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/agent"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/identity"
)

// Conversation is the part of agent.Service the sockets drive.
type Conversation interface {
	HandleCustomerMessage(ctx context.Context, in agent.Inbound) (agent.Reply, error)
	CloseInBackground(sessionID string)
}

// Handler serves the customer and agent websockets.
type Handler struct {
	hub            *Hub
	conv           Conversation
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(hub *Hub, conv Conversation, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:            hub,
		conv:           conv,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// RegisterRoutes registers the websocket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/customer/{id}", h.ServeCustomer)
	r.Get("/ws/agent", h.ServeAgent)
}

// ServeCustomer runs one customer socket. Each message frame is a turn;
// when the socket drops the session is closed in the background.
func (h *Handler) ServeCustomer(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if !identity.ValidSessionID(sessionID) {
		http.Error(w, `{"error":"invalid session id"}`, http.StatusBadRequest)
		return
	}
	ws, ok := h.accept(w, r)
	if !ok {
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.hub.RegisterCustomer(sessionID, ws)
	defer func() {
		// A replaced socket must not close the session under its successor.
		if h.hub.UnregisterCustomer(sessionID, ws) {
			h.conv.CloseInBackground(sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = identity.WithSessionID(ctx, sessionID)

	for {
		frame, err := h.read(ctx, ws, sessionID)
		if err != nil {
			return
		}
		switch frame.Type {
		case FramePing:
			h.write(ctx, ws, Frame{Type: FramePong})
		case FrameMessage, "":
			reply, err := h.conv.HandleCustomerMessage(ctx, agent.Inbound{
				SessionID:    sessionID,
				Text:         frame.Message,
				CustomerID:   strings.TrimSpace(frame.CustomerID),
				ToneOverride: frame.Tone,
				Channel:      "websocket",
			})
			if err != nil {
				h.write(ctx, ws, Frame{Type: FrameError, Error: errorMessage(err)})
				if errors.Is(err, agent.ErrSessionClosed) {
					return
				}
				continue
			}
			h.write(ctx, ws, Frame{Type: FrameReply, Reply: reply})
		default:
			h.write(ctx, ws, Frame{Type: FrameError, Error: "unknown frame type"})
		}
	}
}

// ServeAgent runs one human-agent socket, which receives handoff events.
func (h *Handler) ServeAgent(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("agent"))
	if name == "" {
		name = "anonymous"
	}
	ws, ok := h.accept(w, r)
	if !ok {
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "agent disconnected"); closeErr != nil {
			h.logger.Debug("Failed to close agent websocket", "error", closeErr, "agent", name)
		}
	}()

	h.hub.RegisterAgent(name, ws)
	defer h.hub.UnregisterAgent(ws)

	ctx := r.Context()
	for {
		frame, err := h.read(ctx, ws, "")
		if err != nil {
			return
		}
		if frame.Type == FramePing {
			h.write(ctx, ws, Frame{Type: FramePong})
		}
	}
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return nil, false
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "path", r.URL.Path)
		return nil, false
	}
	return ws, true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *Handler) read(ctx context.Context, ws *websocket.Conn, sessionID string) (Frame, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
		} else if ctx.Err() == nil {
			h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
		}
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		// Plain text is a customer message.
		return Frame{Type: FrameMessage, Message: string(data)}, nil
	}
	return f, nil
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, f Frame) {
	writeCtx, cancel := context.WithTimeout(ctx, h.hub.writeTimeout)
	defer cancel()
	if err := writeFrame(writeCtx, ws, f); err != nil {
		h.logger.Debug("Failed to write frame", "type", f.Type, "error", err)
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return "message is required"
	case errors.Is(err, agent.ErrInvalidCustomerID):
		return "invalid customer id"
	case errors.Is(err, agent.ErrSessionClosed):
		return "session closed"
	default:
		return "internal error"
	}
}
