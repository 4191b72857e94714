// Package channel carries conversations over websockets: customer sockets
// keyed by session and agent sockets that receive handoff events.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/handoff"
)

const defaultWriteTimeout = 5 * time.Second

// Frame types.
const (
	FrameMessage      = "message"
	FrameReply        = "reply"
	FrameAgentMessage = "agent_message"
	FrameEvent        = "event"
	FrameError        = "error"
	FramePing         = "ping"
	FramePong         = "pong"
)

// Frame is the JSON envelope of every websocket message.
type Frame struct {
	Type       string          `json:"type"`
	Message    string          `json:"message,omitempty"`
	CustomerID string          `json:"customer_id,omitempty"`
	Tone       string          `json:"tone,omitempty"`
	Reply      any             `json:"reply,omitempty"`
	Agent      *domain.Message `json:"agent,omitempty"`
	Event      *handoff.Event  `json:"event,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Hub tracks open sockets. It delivers agent replies to customers and
// handoff events to every connected agent.
type Hub struct {
	mu           sync.RWMutex
	customers    map[string]*websocket.Conn
	agents       map[*websocket.Conn]string
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		customers:    make(map[string]*websocket.Conn),
		agents:       make(map[*websocket.Conn]string),
		writeTimeout: defaultWriteTimeout,
		logger:       logger,
	}
}

// RegisterCustomer binds conn to a session, replacing an older socket.
func (h *Hub) RegisterCustomer(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.customers[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	h.customers[sessionID] = conn
	h.logger.Info("Customer socket registered", "session_id", sessionID)
}

// UnregisterCustomer removes conn if it is still the session's socket.
func (h *Hub) UnregisterCustomer(sessionID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.customers[sessionID]; ok && current == conn {
		delete(h.customers, sessionID)
		h.logger.Info("Customer socket unregistered", "session_id", sessionID)
		return true
	}
	return false
}

// RegisterAgent adds an agent socket.
func (h *Hub) RegisterAgent(name string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agents[conn] = name
	h.logger.Info("Agent socket registered", "agent", name, "agents", len(h.agents))
}

// UnregisterAgent removes an agent socket.
func (h *Hub) UnregisterAgent(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name, ok := h.agents[conn]; ok {
		delete(h.agents, conn)
		h.logger.Info("Agent socket unregistered", "agent", name)
	}
}

// Deliver pushes a human-agent reply to the customer's socket, if open.
func (h *Hub) Deliver(sessionID string, msg domain.Message) {
	h.mu.RLock()
	conn := h.customers[sessionID]
	h.mu.RUnlock()
	if conn == nil {
		h.logger.Debug("No customer socket for agent reply", "session_id", sessionID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	if err := writeFrame(ctx, conn, Frame{Type: FrameAgentMessage, Agent: &msg}); err != nil {
		h.logger.Warn("Failed to deliver agent reply", "session_id", sessionID, "error", err)
	}
}

// Name identifies the hub as a handoff sink.
func (h *Hub) Name() string { return "websocket" }

// Notify broadcasts ev to every agent socket. It fails only when no agent
// received the event.
func (h *Hub) Notify(ctx context.Context, ev handoff.Event) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.agents))
	for c := range h.agents {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		h.logger.Debug("[BROADCAST] No agent sockets connected", "kind", ev.Kind, "session_id", ev.SessionID)
		return nil
	}

	delivered := 0
	var lastErr error
	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := writeFrame(writeCtx, c, Frame{Type: FrameEvent, Event: &ev})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("notify agents: %w", lastErr)
	}
	return nil
}

// Counts returns the number of customer and agent sockets.
func (h *Hub) Counts() (customers, agents int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.customers), len(h.agents)
}

// CloseAll closes every socket, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sid, c := range h.customers {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.customers, sid)
	}
	for c := range h.agents {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.agents, c)
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
