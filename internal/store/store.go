// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

// Records is the business-record store behind the tool executor.
// Lookups return (nil, nil) when the entity does not exist.
type Records interface {
	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	// GetUserByEmail retrieves a user by email address (case-insensitive).
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdateUserEmail changes a user's email. Returns nil when the user is missing.
	UpdateUserEmail(ctx context.Context, id int64, email string) (*domain.User, error)

	// ListOrders returns a user's orders, newest first.
	ListOrders(ctx context.Context, userID int64) ([]domain.Order, error)

	// UpdateOrderStatus sets an order's status. Returns nil when the order is missing.
	UpdateOrderStatus(ctx context.Context, id int64, status string) (*domain.Order, error)

	// ListTickets returns a user's tickets, newest first.
	ListTickets(ctx context.Context, userID int64) ([]domain.Ticket, error)

	// UpdateTicketStatus sets a ticket's status. Returns nil when the ticket is missing.
	UpdateTicketStatus(ctx context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error)

	// AssignTicket sets a ticket's assignee. Returns nil when the ticket is missing.
	AssignTicket(ctx context.Context, id int64, assignee string) (*domain.Ticket, error)

	// ListCannedResponses returns canned responses, optionally filtered by category.
	ListCannedResponses(ctx context.Context, category string) ([]domain.CannedResponse, error)

	// TotalSpend sums the order amounts of a customer.
	TotalSpend(ctx context.Context, customerID string) (float64, error)
}

// InsightStore persists immutable session insights.
type InsightStore interface {
	// InsertInsight stores in unless an insight for the same session already
	// exists. It returns the stored record and whether this call created it.
	InsertInsight(ctx context.Context, in *domain.SessionInsight) (*domain.SessionInsight, bool, error)

	// GetInsight retrieves the insight of a session.
	GetInsight(ctx context.Context, sessionID string) (*domain.SessionInsight, error)

	// ListInsightsByCustomer returns a customer's insights, oldest first.
	ListInsightsByCustomer(ctx context.Context, customerID string) ([]domain.SessionInsight, error)
}

// ProfileStore persists recomputed customer profiles.
type ProfileStore interface {
	// GetProfile retrieves a customer's profile.
	GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error)

	// UpsertProfile replaces a customer's profile.
	UpsertProfile(ctx context.Context, p *domain.CustomerProfile) error
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	Records
	InsightStore
	ProfileStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
