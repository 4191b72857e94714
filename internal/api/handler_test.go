//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/agent"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/analysis"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/handoff"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/identity"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
)

type fakeConversations struct {
	mu       sync.Mutex
	inbound  []agent.Inbound
	closed   map[string]bool
	profiles map[string]*domain.CustomerProfile
	queue    *handoff.Queue
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		closed:   make(map[string]bool),
		profiles: make(map[string]*domain.CustomerProfile),
		queue:    handoff.NewQueue(),
	}
}

func (f *fakeConversations) HandleCustomerMessage(_ context.Context, in agent.Inbound) (agent.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed[in.SessionID] {
		return agent.Reply{}, agent.ErrSessionClosed
	}
	f.inbound = append(f.inbound, in)
	return agent.Reply{SessionID: in.SessionID, Text: "ok"}, nil
}

func (f *fakeConversations) CloseSession(_ context.Context, id string) (domain.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "missing" {
		return domain.CloseResult{}, agent.ErrSessionNotFound
	}
	already := f.closed[id]
	f.closed[id] = true
	return domain.CloseResult{SessionID: id, Resolution: domain.ResolutionResolved, AlreadyClosed: already}, nil
}

func (f *fakeConversations) History(_ context.Context, id string) ([]domain.Message, error) {
	if id == "missing" {
		return nil, agent.ErrSessionNotFound
	}
	return []domain.Message{{Role: domain.RoleCustomer, Content: "hi"}}, nil
}

func (f *fakeConversations) LinkCustomer(_ context.Context, _, customerID string) (bool, error) {
	if _, ok := domain.ParseCustomerID(customerID); !ok {
		return false, agent.ErrInvalidCustomerID
	}
	return customerID == "1", nil
}

func (f *fakeConversations) GetCustomerProfile(_ context.Context, id string) (*domain.CustomerProfile, error) {
	return f.profiles[id], nil
}

func (f *fakeConversations) ListHandoffs() []handoff.Handoff { return f.queue.Pending() }

func (f *fakeConversations) AcceptHandoff(_ context.Context, id, name string) (handoff.Handoff, error) {
	return f.queue.Accept(id, name)
}

func (f *fakeConversations) AgentReply(_ context.Context, id, _, text string) (domain.Message, error) {
	h, ok := f.queue.Get(id)
	if !ok || h.Status != handoff.StatusAccepted {
		return domain.Message{}, agent.ErrNotHandedOff
	}
	return domain.Message{Role: domain.RoleAgent, Content: text}, nil
}

type denyAfter struct {
	mu    sync.Mutex
	n     int
	limit int
	keys  []string
}

func (d *denyAfter) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	d.keys = append(d.keys, key)
	return d.n <= d.limit
}

func newRouter(conv Conversations, limiter Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHandler(conv, limiter, nil).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	conv := newFakeConversations()
	h := newRouter(conv, nil)

	w := do(t, h, http.MethodPost, "/api/chat", `{"session_id":"s1","message":"hello","customer_id":"7","tone":"concise"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var reply agent.Reply
	if err := json.NewDecoder(w.Body).Decode(&reply); err != nil || reply.Text != "ok" {
		t.Fatalf("reply = %+v, %v", reply, err)
	}
	in := conv.inbound[0]
	if in.SessionID != "s1" || in.CustomerID != "7" || in.ToneOverride != "concise" {
		t.Fatalf("inbound = %+v", in)
	}

	// Without a session id the middleware assigns one.
	w = do(t, h, http.MethodPost, "/api/chat", `{"message":"hello"}`)
	if w.Code != http.StatusOK || conv.inbound[1].SessionID == "" {
		t.Fatalf("status = %d, inbound %+v", w.Code, conv.inbound[1])
	}
}

func TestChatValidation(t *testing.T) {
	t.Parallel()

	h := newRouter(newFakeConversations(), nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"empty message", `{"message":"  "}`, http.StatusBadRequest},
		{"bad session", `{"session_id":"a b","message":"x"}`, http.StatusBadRequest},
		{"too large", `{"message":"` + strings.Repeat("x", defaultMaxRequestBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, "/api/chat", tt.body); w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestChatRateLimited(t *testing.T) {
	t.Parallel()

	h := newRouter(newFakeConversations(), &denyAfter{limit: 1})
	if w := do(t, h, http.MethodPost, "/api/chat", `{"session_id":"s1","message":"a"}`); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/chat", `{"session_id":"s1","message":"b"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
}

func TestChatRateLimitIgnoresSessionKey(t *testing.T) {
	t.Parallel()

	limiter := &denyAfter{limit: 100}
	h := newRouter(newFakeConversations(), limiter)
	for _, sid := range []string{"s1", "s2", "s3"} {
		if w := do(t, h, http.MethodPost, "/api/chat", `{"session_id":"`+sid+`","message":"hi"}`); w.Code != http.StatusOK {
			t.Fatalf("chat %s status = %d", sid, w.Code)
		}
	}
	limiter.mu.Lock()
	keys := append([]string(nil), limiter.keys...)
	limiter.mu.Unlock()
	// httptest.NewRequest uses 192.0.2.1:1234.
	for _, k := range keys {
		if k != "192.0.2.1" {
			t.Fatalf("limiter keys = %v, want the client address", keys)
		}
	}

	rl := agent.NewRateLimiter(2, time.Minute)
	t.Cleanup(rl.Stop)
	limited := newRouter(newFakeConversations(), rl)
	codes := make([]int, 0, 3)
	for _, sid := range []string{"a1", "a2", "a3"} {
		w := do(t, limited, http.MethodPost, "/api/chat", `{"session_id":"`+sid+`","message":"hi"}`)
		codes = append(codes, w.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("rotating session ids = %v, want third request limited", codes)
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"10.0.0.7:5555": "10.0.0.7",
		"[::1]:80":      "::1",
		"203.0.113.9":   "203.0.113.9",
	}
	for addr, want := range cases {
		r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		r.RemoteAddr = addr
		if got := clientKey(r); got != want {
			t.Errorf("clientKey(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestCloseSession(t *testing.T) {
	t.Parallel()

	conv := newFakeConversations()
	h := newRouter(conv, nil)

	w := do(t, h, http.MethodPost, "/api/sessions/s1/close", "")
	var res domain.CloseResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil || w.Code != http.StatusOK || res.AlreadyClosed {
		t.Fatalf("first close: %d %+v %v", w.Code, res, err)
	}
	w = do(t, h, http.MethodPost, "/api/sessions/s1/close", "")
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil || !res.AlreadyClosed {
		t.Fatalf("second close: %+v %v", res, err)
	}
	if w := do(t, h, http.MethodPost, "/api/chat", `{"session_id":"s1","message":"again"}`); w.Code != http.StatusConflict {
		t.Fatalf("chat after close = %d, want 409", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/sessions/missing/close", ""); w.Code != http.StatusNotFound {
		t.Fatalf("close missing = %d, want 404", w.Code)
	}
}

func TestSessionRoutes(t *testing.T) {
	t.Parallel()

	h := newRouter(newFakeConversations(), nil)
	if w := do(t, h, http.MethodGet, "/api/sessions/s1/messages", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"hi"`) {
		t.Fatalf("history = %d %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodGet, "/api/sessions/missing/messages", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing history = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/sessions/s1/customer", `{"customer_id":"1"}`); w.Code != http.StatusOK {
		t.Fatalf("link = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/sessions/s1/customer", `{"customer_id":"2"}`); w.Code != http.StatusConflict {
		t.Fatalf("relink = %d, want 409", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/sessions/s1/customer", `{"customer_id":"bob"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad customer = %d, want 400", w.Code)
	}
}

func TestProfile(t *testing.T) {
	t.Parallel()

	conv := newFakeConversations()
	conv.profiles["3"] = &domain.CustomerProfile{CustomerID: "3", TotalSessions: 2}
	h := newRouter(conv, nil)

	if w := do(t, h, http.MethodGet, "/api/customers/3/profile", ""); w.Code != http.StatusOK {
		t.Fatalf("profile = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/customers/4/profile", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing profile = %d, want 404", w.Code)
	}
}

func TestHandoffRoutes(t *testing.T) {
	t.Parallel()

	conv := newFakeConversations()
	conv.queue.Add("s1", "3", domain.HandoffDataGap)
	h := newRouter(conv, nil)

	w := do(t, h, http.MethodGet, "/api/handoffs", "")
	var list struct {
		Handoffs []handoff.Handoff `json:"handoffs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil || len(list.Handoffs) != 1 {
		t.Fatalf("list = %d %+v %v", w.Code, list, err)
	}

	if w := do(t, h, http.MethodPost, "/api/handoffs/s1/messages", `{"agent":"dana","message":"hi"}`); w.Code != http.StatusConflict {
		t.Fatalf("reply before accept = %d, want 409", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/handoffs/s1/accept", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("accept without agent = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/handoffs/s1/accept", `{"agent":"dana"}`); w.Code != http.StatusOK {
		t.Fatalf("accept = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/handoffs/s1/accept", `{"agent":"lee"}`); w.Code != http.StatusConflict {
		t.Fatalf("accept by other agent = %d, want 409", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/handoffs/nope/accept", `{"agent":"lee"}`); w.Code != http.StatusNotFound {
		t.Fatalf("accept unknown = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/handoffs/s1/messages", `{"agent":"dana","message":"hi"}`); w.Code != http.StatusCreated {
		t.Fatalf("agent reply = %d", w.Code)
	}
}

type fakeCopilot struct{}

func (fakeCopilot) check(id string) error {
	switch id {
	case "missing":
		return agent.ErrSessionNotFound
	case "closed":
		return agent.ErrSessionClosed
	}
	return nil
}

func (c fakeCopilot) Suggest(_ context.Context, id string) (analysis.CopilotSuggestion, error) {
	if id == "down" {
		return analysis.CopilotSuggestion{}, fmt.Errorf("generate co-pilot suggestion: %w", llm.ErrModelUnavailable)
	}
	return analysis.CopilotSuggestion{Suggestion: "Apologize and offer a replacement."}, c.check(id)
}

func (c fakeCopilot) SmartSuggestions(_ context.Context, id string) (analysis.SmartSuggestions, error) {
	return analysis.SmartSuggestions{
		Suggestions: []analysis.Suggestion{{Suggestion: "a", Confidence: 0.9}, {Suggestion: "b", Confidence: 0.5}},
		Sentiment:   domain.Sentiment{Score: -0.6, Label: domain.SentimentNegative, Confidence: 0.8},
	}, c.check(id)
}

func (c fakeCopilot) Sentiment(_ context.Context, id string) (domain.Sentiment, error) {
	return domain.NeutralSentiment(), c.check(id)
}

func (c fakeCopilot) CustomerContext(_ context.Context, id string) (analysis.CustomerContext, error) {
	return analysis.CustomerContext{
		User:    &domain.User{ID: 3, Name: "Ada"},
		Orders:  []domain.Order{{ID: 7, UserID: 3, Product: "Headphones"}},
		Tickets: []domain.Ticket{},
	}, c.check(id)
}

func TestCopilotRoutes(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	NewHandler(newFakeConversations(), nil, nil).WithCopilot(fakeCopilot{}).RegisterRoutes(r)

	w := do(t, r, http.MethodGet, "/api/handoffs/s1/copilot", "")
	var one analysis.CopilotSuggestion
	if err := json.NewDecoder(w.Body).Decode(&one); err != nil || w.Code != http.StatusOK || one.Suggestion == "" {
		t.Fatalf("copilot = %d %+v %v", w.Code, one, err)
	}

	w = do(t, r, http.MethodGet, "/api/handoffs/s1/smart-suggestions", "")
	var smart analysis.SmartSuggestions
	if err := json.NewDecoder(w.Body).Decode(&smart); err != nil || w.Code != http.StatusOK {
		t.Fatalf("smart-suggestions = %d %v", w.Code, err)
	}
	if len(smart.Suggestions) != 2 || smart.Sentiment.Label != domain.SentimentNegative {
		t.Fatalf("smart-suggestions body = %+v", smart)
	}

	w = do(t, r, http.MethodGet, "/api/handoffs/s1/sentiment", "")
	var sent domain.Sentiment
	if err := json.NewDecoder(w.Body).Decode(&sent); err != nil || sent.Label != domain.SentimentNeutral {
		t.Fatalf("sentiment = %d %+v %v", w.Code, sent, err)
	}

	w = do(t, r, http.MethodGet, "/api/handoffs/s1/context", "")
	var cc analysis.CustomerContext
	if err := json.NewDecoder(w.Body).Decode(&cc); err != nil || cc.User == nil || cc.User.Name != "Ada" || len(cc.Orders) != 1 {
		t.Fatalf("context = %d %+v %v", w.Code, cc, err)
	}

	for path, want := range map[string]int{
		"/api/handoffs/missing/sentiment": http.StatusNotFound,
		"/api/handoffs/closed/context":    http.StatusConflict,
		"/api/handoffs/down/copilot":      http.StatusServiceUnavailable,
	} {
		if w := do(t, r, http.MethodGet, path, ""); w.Code != want {
			t.Errorf("GET %s = %d, want %d", path, w.Code, want)
		}
	}
}

func TestCopilotRoutesDisabledWithoutCopilot(t *testing.T) {
	t.Parallel()

	h := newRouter(newFakeConversations(), nil)
	if w := do(t, h, http.MethodGet, "/api/handoffs/s1/copilot", ""); w.Code != http.StatusNotFound {
		t.Fatalf("copilot without co-pilot = %d, want 404", w.Code)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errors.New("db gone"), http.StatusServiceUnavailable},
	} {
		r := chi.NewRouter()
		NewHealthHandler(fakePinger{tt.err}).RegisterHealth(r)
		if w := do(t, r, http.MethodGet, "/api/health", ""); w.Code != tt.want {
			t.Fatalf("health(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}
