package channel

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/agent"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/handoff"
)

type fakeConversation struct {
	mu     sync.Mutex
	inputs []agent.Inbound
	closed []string
}

func (f *fakeConversation) HandleCustomerMessage(_ context.Context, in agent.Inbound) (agent.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if strings.TrimSpace(in.Text) == "" {
		return agent.Reply{}, agent.ErrEmptyMessage
	}
	return agent.Reply{SessionID: in.SessionID, Text: "echo: " + in.Text}, nil
}

func (f *fakeConversation) CloseInBackground(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

func (f *fakeConversation) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *fakeConversation) {
	t.Helper()
	hub := NewHub(nil)
	conv := &fakeConversation{}
	r := chi.NewRouter()
	NewHandler(hub, conv, []string{"*"}, true, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, conv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := writeFrame(ctx, conn, f); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCustomerSocketTurns(t *testing.T) {
	t.Parallel()

	srv, hub, conv := newTestServer(t)
	conn := dial(t, srv, "/ws/customer/sess-1")

	sendFrame(t, conn, Frame{Type: FrameMessage, Message: "hello", CustomerID: "4"})
	f := readFrame(t, conn)
	if f.Type != FrameReply {
		t.Fatalf("frame type = %q, want reply", f.Type)
	}
	reply, _ := f.Reply.(map[string]any)
	if reply["response"] != "echo: hello" {
		t.Fatalf("reply = %+v", f.Reply)
	}

	sendFrame(t, conn, Frame{Type: FrameMessage, Message: "  "})
	if f := readFrame(t, conn); f.Type != FrameError || f.Error != "message is required" {
		t.Fatalf("expected validation error, got %+v", f)
	}

	sendFrame(t, conn, Frame{Type: FramePing})
	if f := readFrame(t, conn); f.Type != FramePong {
		t.Fatalf("expected pong, got %+v", f)
	}

	conv.mu.Lock()
	first := conv.inputs[0]
	conv.mu.Unlock()
	if first.SessionID != "sess-1" || first.CustomerID != "4" || first.Channel != "websocket" {
		t.Fatalf("inbound = %+v", first)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, "background close", func() bool { return conv.closedCount() == 1 })
	waitFor(t, "customer unregistered", func() bool { c, _ := hub.Counts(); return c == 0 })
}

func TestDeliverAgentReply(t *testing.T) {
	t.Parallel()

	srv, hub, _ := newTestServer(t)
	conn := dial(t, srv, "/ws/customer/sess-2")
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "customer registered", func() bool { c, _ := hub.Counts(); return c == 1 })

	hub.Deliver("sess-2", domain.Message{Role: domain.RoleAgent, Content: "Hi, this is Dana."})
	f := readFrame(t, conn)
	if f.Type != FrameAgentMessage || f.Agent == nil || f.Agent.Content != "Hi, this is Dana." {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestAgentSocketReceivesEvents(t *testing.T) {
	t.Parallel()

	srv, hub, _ := newTestServer(t)
	conn := dial(t, srv, "/ws/agent?agent=dana")
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "agent registered", func() bool { _, a := hub.Counts(); return a == 1 })

	ev := handoff.NewEvent(handoff.EventHandoff, "sess-3")
	ev.Reason = domain.HandoffDataGap
	if err := hub.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != FrameEvent || f.Event == nil || f.Event.SessionID != "sess-3" || f.Event.Reason != domain.HandoffDataGap {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestNotifyWithoutAgents(t *testing.T) {
	t.Parallel()

	if err := NewHub(nil).Notify(context.Background(), handoff.NewEvent(handoff.EventHandoff, "s")); err != nil {
		t.Fatalf("Notify with no agents = %v", err)
	}
}
