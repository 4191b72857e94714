package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
)

// LookupUser finds a customer by email or id and links them to the session.
type LookupUser struct{ Records store.Records }

func (LookupUser) Name() string { return "lookup_user" }

func (LookupUser) Requires() []Permission { return []Permission{ReadUsers} }

func (t LookupUser) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Look up a customer by email or user ID.",
		Parameters: schema(`{"type":"object","properties":{
			"email":{"type":"string","description":"Customer email address"},
			"user_id":{"type":"integer","description":"Customer user ID"}},"required":[]}`),
	}
}

func (t LookupUser) Execute(ctx context.Context, env Env, raw json.RawMessage) (Result, error) {
	var args struct {
		Email  string `json:"email"`
		UserID ID     `json:"user_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}

	var (
		user *domain.User
		err  error
	)
	switch {
	case strings.TrimSpace(args.Email) != "":
		email, verr := validateEmail(args.Email)
		if verr != nil {
			return Result{}, verr
		}
		user, err = t.Records.GetUserByEmail(ctx, email)
	case args.UserID > 0:
		user, err = t.Records.GetUser(ctx, int64(args.UserID))
	default:
		return Result{}, fmt.Errorf("%w: email or user_id is required", ErrInvalidArguments)
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return Result{Empty: true, Message: "User not found."}, nil
	}

	if env.LinkCustomer != nil {
		env.LinkCustomer(user.CustomerID())
	}
	return Result{Data: user}, nil
}

// GetOrders lists a customer's orders.
type GetOrders struct{ Records store.Records }

func (GetOrders) Name() string { return "get_orders" }

func (GetOrders) Requires() []Permission { return []Permission{ReadOrders} }

func (t GetOrders) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Get orders for a specific customer by user ID.",
		Parameters:  schema(`{"type":"object","properties":{"user_id":{"type":"integer","description":"Customer user ID"}},"required":["user_id"]}`),
	}
}

func (t GetOrders) Execute(ctx context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		UserID ID `json:"user_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	if err := requireID("user_id", args.UserID); err != nil {
		return Result{}, err
	}
	orders, err := t.Records.ListOrders(ctx, int64(args.UserID))
	if err != nil {
		return Result{}, fmt.Errorf("list orders: %w", err)
	}
	if len(orders) == 0 {
		return Result{Data: []domain.Order{}, Empty: true, Message: "No orders found for this user."}, nil
	}
	return Result{Data: orders}, nil
}

// GetTickets lists a customer's support tickets.
type GetTickets struct{ Records store.Records }

func (GetTickets) Name() string { return "get_tickets" }

func (GetTickets) Requires() []Permission { return []Permission{ReadTickets} }

func (t GetTickets) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Get support tickets for a specific customer by user ID.",
		Parameters:  schema(`{"type":"object","properties":{"user_id":{"type":"integer","description":"Customer user ID"}},"required":["user_id"]}`),
	}
}

func (t GetTickets) Execute(ctx context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		UserID ID `json:"user_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	if err := requireID("user_id", args.UserID); err != nil {
		return Result{}, err
	}
	tickets, err := t.Records.ListTickets(ctx, int64(args.UserID))
	if err != nil {
		return Result{}, fmt.Errorf("list tickets: %w", err)
	}
	if len(tickets) == 0 {
		return Result{Data: []domain.Ticket{}, Empty: true, Message: "No tickets found for this user."}, nil
	}
	return Result{Data: tickets}, nil
}

// UpdateTicket changes a ticket's status.
type UpdateTicket struct{ Records store.Records }

func (UpdateTicket) Name() string { return "update_ticket" }

func (UpdateTicket) Requires() []Permission { return []Permission{WriteTicketStatus} }

func (t UpdateTicket) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Update the status of a support ticket.",
		Parameters: schema(`{"type":"object","properties":{
			"ticket_id":{"type":"integer","description":"Ticket ID to update"},
			"status":{"type":"string","enum":["open","in_progress","resolved","escalated"],"description":"New status for the ticket"}},
			"required":["ticket_id","status"]}`),
	}
}

func (t UpdateTicket) Execute(ctx context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		TicketID ID                  `json:"ticket_id"`
		Status   domain.TicketStatus `json:"status"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	if err := requireID("ticket_id", args.TicketID); err != nil {
		return Result{}, err
	}
	if !args.Status.Valid() {
		return Result{}, fmt.Errorf("%w: status %q is not one of open, in_progress, resolved, escalated", ErrInvalidArguments, args.Status)
	}
	ticket, err := t.Records.UpdateTicketStatus(ctx, int64(args.TicketID), args.Status)
	if err != nil {
		return Result{}, fmt.Errorf("update ticket: %w", err)
	}
	if ticket == nil {
		return Result{}, fmt.Errorf("%w: ticket %d", ErrNotFound, args.TicketID)
	}
	return Result{Data: ticket, Message: "Ticket updated."}, nil
}

// UpdateUserEmail changes a customer's email address.
type UpdateUserEmail struct{ Records store.Records }

func (UpdateUserEmail) Name() string { return "update_user_email" }

func (UpdateUserEmail) Requires() []Permission { return []Permission{WriteUserEmail} }

func (t UpdateUserEmail) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Update a customer's email address.",
		Parameters: schema(`{"type":"object","properties":{
			"user_id":{"type":"integer","description":"Customer user ID"},
			"new_email":{"type":"string","description":"New email address"}},"required":["user_id","new_email"]}`),
	}
}

func (t UpdateUserEmail) Execute(ctx context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		UserID   ID     `json:"user_id"`
		NewEmail string `json:"new_email"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	if err := requireID("user_id", args.UserID); err != nil {
		return Result{}, err
	}
	email, err := validateEmail(args.NewEmail)
	if err != nil {
		return Result{}, err
	}
	user, err := t.Records.UpdateUserEmail(ctx, int64(args.UserID), email)
	if err != nil {
		return Result{}, fmt.Errorf("update user email: %w", err)
	}
	if user == nil {
		return Result{}, fmt.Errorf("%w: user %d", ErrNotFound, args.UserID)
	}
	return Result{Data: user, Message: "Email updated."}, nil
}

// FlagRefund marks an order as refunded for review.
type FlagRefund struct{ Records store.Records }

func (FlagRefund) Name() string { return "flag_refund" }

func (FlagRefund) Requires() []Permission { return []Permission{WriteOrderStatus} }

func (t FlagRefund) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Flag an order for refund review by updating its status to 'refunded'.",
		Parameters:  schema(`{"type":"object","properties":{"order_id":{"type":"integer","description":"Order ID to flag for refund"}},"required":["order_id"]}`),
	}
}

func (t FlagRefund) Execute(ctx context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		OrderID ID `json:"order_id"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	if err := requireID("order_id", args.OrderID); err != nil {
		return Result{}, err
	}
	order, err := t.Records.UpdateOrderStatus(ctx, int64(args.OrderID), domain.OrderStatusRefunded)
	if err != nil {
		return Result{}, fmt.Errorf("flag refund: %w", err)
	}
	if order == nil {
		return Result{}, fmt.Errorf("%w: order %d", ErrNotFound, args.OrderID)
	}
	return Result{Data: order, Message: "Order flagged for refund."}, nil
}

// AssignTicket hands a ticket to a named assignee.
type AssignTicket struct{ Records store.Records }

func (AssignTicket) Name() string { return "assign_ticket" }

func (AssignTicket) Requires() []Permission { return []Permission{WriteTicketAssignee} }

func (t AssignTicket) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "Assign a support ticket to an agent or team.",
		Parameters: schema(`{"type":"object","properties":{
			"ticket_id":{"type":"integer","description":"Ticket ID to assign"},
			"assignee":{"type":"string","description":"Agent or team name"}},"required":["ticket_id","assignee"]}`),
	}
}

func (t AssignTicket) Execute(ctx context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		TicketID ID     `json:"ticket_id"`
		Assignee string `json:"assignee"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	if err := requireID("ticket_id", args.TicketID); err != nil {
		return Result{}, err
	}
	assignee := strings.TrimSpace(args.Assignee)
	if assignee == "" {
		return Result{}, fmt.Errorf("%w: assignee is required", ErrInvalidArguments)
	}
	ticket, err := t.Records.AssignTicket(ctx, int64(args.TicketID), assignee)
	if err != nil {
		return Result{}, fmt.Errorf("assign ticket: %w", err)
	}
	if ticket == nil {
		return Result{}, fmt.Errorf("%w: ticket %d", ErrNotFound, args.TicketID)
	}
	return Result{Data: ticket, Message: "Ticket assigned."}, nil
}

// GetCannedResponses lists reply templates for human agents.
type GetCannedResponses struct{ Records store.Records }

func (GetCannedResponses) Name() string { return "get_canned_responses" }

func (GetCannedResponses) Requires() []Permission { return []Permission{ReadCannedResponses} }

func (t GetCannedResponses) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: "List canned reply templates, optionally filtered by category.",
		Parameters:  schema(`{"type":"object","properties":{"category":{"type":"string","description":"Template category"}},"required":[]}`),
	}
}

func (t GetCannedResponses) Execute(ctx context.Context, _ Env, raw json.RawMessage) (Result, error) {
	var args struct {
		Category string `json:"category"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return Result{}, err
	}
	responses, err := t.Records.ListCannedResponses(ctx, strings.TrimSpace(args.Category))
	if err != nil {
		return Result{}, fmt.Errorf("list canned responses: %w", err)
	}
	if len(responses) == 0 {
		return Result{Data: []domain.CannedResponse{}, Empty: true, Message: "No canned responses found."}, nil
	}
	return Result{Data: responses}, nil
}
