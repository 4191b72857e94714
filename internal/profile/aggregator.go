package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/shared"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
)

// Store is the persistence the aggregator reads and writes.
type Store interface {
	store.InsightStore
	store.ProfileStore
	TotalSpend(ctx context.Context, customerID string) (float64, error)
}

// Aggregator recomputes profiles one customer at a time.
type Aggregator struct {
	store  Store
	locks  sync.Map // customerID -> *sync.Mutex
	retry  shared.RetryPolicy
	logger *slog.Logger
}

// NewAggregator creates an aggregator over s.
func NewAggregator(s Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, retry: shared.DefaultRetryPolicy, logger: logger}
}

func (a *Aggregator) lockFor(customerID string) *sync.Mutex {
	mu, _ := a.locks.LoadOrStore(customerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Recompute rebuilds and stores the profile of customerID from all of its
// insights. Concurrent calls for the same customer are serialized.
func (a *Aggregator) Recompute(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	if customerID == "" {
		return nil, fmt.Errorf("recompute profile: empty customer id")
	}

	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()

	var p *domain.CustomerProfile
	err := shared.RetryOnConflict(ctx, "recompute profile", a.retry, func() error {
		insights, err := a.store.ListInsightsByCustomer(ctx, customerID)
		if err != nil {
			return fmt.Errorf("list insights: %w", err)
		}
		spend, err := a.store.TotalSpend(ctx, customerID)
		if err != nil {
			return fmt.Errorf("total spend: %w", err)
		}
		p = Compute(customerID, insights, spend)
		if err := a.store.UpsertProfile(ctx, p); err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("customer profile recomputed",
		"customer_id", customerID,
		"sessions", p.TotalSessions,
		"risk_flag", p.RiskFlag,
		"loyalty_tier", p.LoyaltyTier,
	)
	return p, nil
}

// Get returns the stored profile, or nil when none exists.
func (a *Aggregator) Get(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	p, err := a.store.GetProfile(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}
