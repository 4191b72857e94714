package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cx.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordsLookupsReturnNilWhenMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.GetUser(ctx, 42)
	if err != nil || user != nil {
		t.Fatalf("GetUser(42) = %v, %v; want nil, nil", user, err)
	}
	byEmail, err := s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || byEmail != nil {
		t.Fatalf("GetUserByEmail = %v, %v; want nil, nil", byEmail, err)
	}
	ticket, err := s.UpdateTicketStatus(ctx, 7, domain.TicketResolved)
	if err != nil || ticket != nil {
		t.Fatalf("UpdateTicketStatus = %v, %v; want nil, nil", ticket, err)
	}
	order, err := s.UpdateOrderStatus(ctx, 7, domain.OrderStatusRefunded)
	if err != nil || order != nil {
		t.Fatalf("UpdateOrderStatus = %v, %v; want nil, nil", order, err)
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	user := &domain.User{Name: "Ada", Email: "ada@example.com"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	for _, amount := range []float64{120, 80.5} {
		if err := s.CreateOrder(ctx, &domain.Order{UserID: user.ID, Product: "Widget", Amount: amount}); err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
	}
	ticket := &domain.Ticket{UserID: user.ID, Subject: "Late delivery"}
	if err := s.CreateTicket(ctx, ticket); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "ADA@example.com")
	if err != nil || got == nil || got.ID != user.ID {
		t.Fatalf("GetUserByEmail = %+v, %v", got, err)
	}

	orders, err := s.ListOrders(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	spend, err := s.TotalSpend(ctx, user.CustomerID())
	if err != nil {
		t.Fatalf("TotalSpend failed: %v", err)
	}
	if spend != 200.5 {
		t.Fatalf("TotalSpend = %v, want 200.5", spend)
	}

	updated, err := s.UpdateTicketStatus(ctx, ticket.ID, domain.TicketInProgress)
	if err != nil || updated == nil {
		t.Fatalf("UpdateTicketStatus = %v, %v", updated, err)
	}
	if updated.Status != domain.TicketInProgress {
		t.Fatalf("status = %q, want in_progress", updated.Status)
	}

	assigned, err := s.AssignTicket(ctx, ticket.ID, "sam")
	if err != nil || assigned == nil || assigned.AssignedTo != "sam" {
		t.Fatalf("AssignTicket = %+v, %v", assigned, err)
	}

	changed, err := s.UpdateUserEmail(ctx, user.ID, "ada@new.example.com")
	if err != nil || changed == nil || changed.Email != "ada@new.example.com" {
		t.Fatalf("UpdateUserEmail = %+v, %v", changed, err)
	}
}

func TestTotalSpendIgnoresNonNumericCustomer(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	spend, err := s.TotalSpend(context.Background(), "anon-visitor")
	if err != nil {
		t.Fatalf("TotalSpend failed: %v", err)
	}
	if spend != 0 {
		t.Fatalf("TotalSpend = %v, want 0", spend)
	}
}

func testInsight(sessionID, customerID string, closedAt time.Time) *domain.SessionInsight {
	return &domain.SessionInsight{
		ID:             "ins-" + sessionID,
		SessionID:      sessionID,
		CustomerID:     customerID,
		SentimentStart: domain.Sentiment{Score: -0.2, Label: domain.SentimentNegative, Confidence: 0.8},
		SentimentEnd:   domain.Sentiment{Score: 0.4, Label: domain.SentimentPositive, Confidence: 0.9},
		SentimentDrift: 0.6,
		PrimaryIntent:  "get_orders",
		ToolCalls: []domain.ToolCallRecord{
			{Name: "get_orders", Outcome: domain.ToolOK, At: closedAt},
		},
		Resolution:   domain.ResolutionResolved,
		ToneUsed:     "friendly",
		MessageCount: 4,
		ClosedAt:     closedAt,
	}
}

func TestInsertInsightIsIdempotentPerSession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	first := testInsight("sess-1", "1", time.Now())
	stored, created, err := s.InsertInsight(ctx, first)
	if err != nil {
		t.Fatalf("InsertInsight failed: %v", err)
	}
	if !created {
		t.Fatal("expected first insert to create the record")
	}

	second := testInsight("sess-1", "1", time.Now().Add(time.Minute))
	second.ID = "ins-other"
	second.Resolution = domain.ResolutionUnresolved
	again, created, err := s.InsertInsight(ctx, second)
	if err != nil {
		t.Fatalf("second InsertInsight failed: %v", err)
	}
	if created {
		t.Fatal("expected second insert to be a no-op")
	}
	if again.ID != stored.ID || again.Resolution != domain.ResolutionResolved {
		t.Fatalf("second insert returned %+v, want original %+v", again, stored)
	}

	list, err := s.ListInsightsByCustomer(ctx, "1")
	if err != nil {
		t.Fatalf("ListInsightsByCustomer failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(list))
	}
	if len(list[0].ToolCalls) != 1 || list[0].ToolCalls[0].Name != "get_orders" {
		t.Fatalf("tool calls not round-tripped: %+v", list[0].ToolCalls)
	}
}

func TestInsertInsightConcurrentSameSession(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := testInsight("sess-race", "9", time.Now())
			_, created, err := s.InsertInsight(ctx, in)
			if err != nil {
				t.Errorf("InsertInsight failed: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("expected exactly one creator, got %d", createdCount)
	}
}

func TestListInsightsOrderedOldestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		// Insert out of chronological order.
		offsets := []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour}
		if _, _, err := s.InsertInsight(ctx, testInsight(id, "5", base.Add(offsets[i]))); err != nil {
			t.Fatalf("InsertInsight failed: %v", err)
		}
	}

	list, err := s.ListInsightsByCustomer(ctx, "5")
	if err != nil {
		t.Fatalf("ListInsightsByCustomer failed: %v", err)
	}
	var order []string
	for _, in := range list {
		order = append(order, in.SessionID)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestInsertInsightFillsMissingID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	ids := map[string]bool{}
	for _, sid := range []string{"x1", "x2"} {
		in := testInsight(sid, "9", now)
		in.ID = ""
		stored, created, err := s.InsertInsight(ctx, in)
		if err != nil || !created {
			t.Fatalf("InsertInsight(%s) = %v, %v", sid, created, err)
		}
		if stored.ID == "" || ids[stored.ID] {
			t.Fatalf("stored id %q is empty or reused", stored.ID)
		}
		ids[stored.ID] = true
	}
}

func TestInsertInsightWithMalformedToolArguments(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	in := testInsight("bad-args", "9", time.Now().UTC())
	in.ToolCalls[0].Arguments = json.RawMessage(`{"user_id": 4`)
	in.ToolCalls[0].Outcome = domain.ToolInvalidArguments
	stored, _, err := s.InsertInsight(ctx, in)
	if err != nil {
		t.Fatalf("InsertInsight failed: %v", err)
	}
	if !json.Valid(stored.ToolCalls[0].Arguments) {
		t.Fatalf("stored arguments = %s", stored.ToolCalls[0].Arguments)
	}
}

func TestProfileUpsertReplaces(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if got, err := s.GetProfile(ctx, "3"); err != nil || got != nil {
		t.Fatalf("GetProfile on empty store = %v, %v", got, err)
	}

	p := &domain.CustomerProfile{
		CustomerID:     "3",
		TotalSessions:  1,
		TopicFrequency: map[string]int{"get_orders": 1},
		LoyaltyTier:    domain.TierSilver,
	}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	p.TotalSessions = 2
	p.RiskFlag = true
	p.RiskReasons = []string{"escalation rate 0.50 exceeds 0.40"}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("second UpsertProfile failed: %v", err)
	}

	got, err := s.GetProfile(ctx, "3")
	if err != nil || got == nil {
		t.Fatalf("GetProfile = %v, %v", got, err)
	}
	if got.TotalSessions != 2 || !got.RiskFlag || got.TopicFrequency["get_orders"] != 1 {
		t.Fatalf("unexpected profile %+v", got)
	}
}
