package profile

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "cx.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecomputeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	user := &domain.User{Name: "Ada", Email: "ada@example.com"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateOrder(ctx, &domain.Order{UserID: user.ID, Product: "Desk", Amount: 650, Status: domain.OrderStatusDelivered}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	cid := user.CustomerID()
	for i, res := range []domain.Resolution{domain.ResolutionResolved, domain.ResolutionEscalated} {
		in := insight(i, 0.3, res, "friendly", "get_orders", 0.1)
		in.CustomerID = cid
		if _, _, err := s.InsertInsight(ctx, &in); err != nil {
			t.Fatalf("InsertInsight: %v", err)
		}
	}

	agg := NewAggregator(s, nil)
	first, err := agg.Recompute(ctx, cid)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	second, err := agg.Recompute(ctx, cid)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("recompute differs:\n%+v\n%+v", first, second)
	}

	stored, err := agg.Get(ctx, cid)
	if err != nil || stored == nil {
		t.Fatalf("Get = %v, %v", stored, err)
	}
	if stored.TotalSessions != 2 || stored.LoyaltyTier != domain.TierGold || stored.TotalEscalations != 1 {
		t.Fatalf("stored profile = %+v", stored)
	}

	missing, err := agg.Get(ctx, "999")
	if err != nil || missing != nil {
		t.Fatalf("missing profile = %v, %v", missing, err)
	}
}

type countingStore struct {
	Store
	inFlight atomic.Int32
	overlap  atomic.Bool
	fail     error
}

func (c *countingStore) ListInsightsByCustomer(ctx context.Context, id string) ([]domain.SessionInsight, error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.Store.ListInsightsByCustomer(ctx, id)
}

func TestRecomputeSerializesPerCustomer(t *testing.T) {
	t.Parallel()

	cs := &countingStore{Store: newTestStore(t)}
	agg := NewAggregator(cs, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := agg.Recompute(context.Background(), "7"); err != nil {
				t.Errorf("Recompute: %v", err)
			}
		}()
	}
	wg.Wait()
	if cs.overlap.Load() {
		t.Fatal("recomputes for the same customer overlapped")
	}
}

func TestRecomputeErrors(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(&countingStore{Store: newTestStore(t), fail: errors.New("disk full")}, nil)
	if _, err := agg.Recompute(context.Background(), "7"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := agg.Recompute(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}
