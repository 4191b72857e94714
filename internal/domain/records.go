// Package domain contains core domain types for the CX agent.
package domain

import (
	"time"
)

// User is a customer account in the business record store.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerID returns the identity used to key profiles and sessions.
func (u *User) CustomerID() string {
	return FormatCustomerID(u.ID)
}

// Order is a purchase made by a user.
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Product   string    `json:"product"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Order statuses.
const (
	OrderStatusPending   = "pending"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusRefunded  = "refunded"
)

// TicketStatus is the workflow state of a support ticket.
type TicketStatus string

// Ticket statuses accepted by update_ticket.
const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketEscalated  TicketStatus = "escalated"
)

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketEscalated:
		return true
	}
	return false
}

// Ticket is a support ticket raised by a user.
type Ticket struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	Subject     string       `json:"subject"`
	Description string       `json:"description"`
	Status      TicketStatus `json:"status"`
	Priority    string       `json:"priority"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// CannedResponse is a reusable reply template for human agents.
type CannedResponse struct {
	ID       int64  `json:"id"`
	Shortcut string `json:"shortcut"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}
