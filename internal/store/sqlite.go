package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency. modernc applies
	// _pragma values to every new connection in the pool.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		phone TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		product TEXT NOT NULL,
		amount REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

	CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		subject TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		priority TEXT NOT NULL DEFAULT 'medium',
		assigned_to TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);

	CREATE TABLE IF NOT EXISTS canned_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shortcut TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS session_insights (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		customer_id TEXT,
		sentiment_start_score REAL NOT NULL,
		sentiment_start_label TEXT NOT NULL,
		sentiment_start_confidence REAL NOT NULL,
		sentiment_end_score REAL NOT NULL,
		sentiment_end_label TEXT NOT NULL,
		sentiment_end_confidence REAL NOT NULL,
		sentiment_drift REAL NOT NULL,
		primary_intent TEXT,
		tool_calls_json TEXT NOT NULL,
		resolution TEXT NOT NULL,
		tone_used TEXT NOT NULL,
		handoff_occurred INTEGER NOT NULL,
		handoff_reason TEXT,
		message_count INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_customer ON session_insights(customer_id, closed_at);

	CREATE TABLE IF NOT EXISTS customer_profiles (
		customer_id TEXT PRIMARY KEY,
		profile_json TEXT NOT NULL,
		risk_flag INTEGER NOT NULL,
		loyalty_tier TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- business records ---

const userColumns = `id, name, email, phone, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var phone sql.NullString
	var createdAt int64
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &phone, &createdAt); err != nil {
		return nil, err
	}
	user.Phone = phone.String
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.TrimSpace(email))
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// UpdateUserEmail changes a user's email address.
func (s *SQLiteStore) UpdateUserEmail(ctx context.Context, id int64, email string) (*domain.User, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(email), time.Now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update user email: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}
	return s.GetUser(ctx, id)
}

const orderColumns = `id, user_id, product, amount, status, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var order domain.Order
	var createdAt int64
	if err := row.Scan(&order.ID, &order.UserID, &order.Product, &order.Amount, &order.Status, &createdAt); err != nil {
		return nil, err
	}
	order.CreatedAt = time.Unix(createdAt, 0)
	return &order, nil
}

// ListOrders returns a user's orders, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus sets an order's status.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, id int64, status string) (*domain.Order, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}
	return order, nil
}

const ticketColumns = `id, user_id, subject, description, status, priority, assigned_to, created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (*domain.Ticket, error) {
	var ticket domain.Ticket
	var description, assignedTo sql.NullString
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&ticket.ID, &ticket.UserID, &ticket.Subject, &description,
		&status, &ticket.Priority, &assignedTo, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ticket.Description = description.String
	ticket.Status = domain.TicketStatus(status)
	ticket.AssignedTo = assignedTo.String
	ticket.CreatedAt = time.Unix(createdAt, 0)
	ticket.UpdatedAt = time.Unix(updatedAt, 0)
	return &ticket, nil
}

// ListTickets returns a user's tickets, newest first.
func (s *SQLiteStore) ListTickets(ctx context.Context, userID int64) ([]domain.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) updateTicket(ctx context.Context, id int64, column string, value any) (*domain.Ticket, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET `+column+` = ?, updated_at = ? WHERE id = ?`, value, time.Now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update ticket %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	ticket, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("scan ticket row: %w", err)
	}
	return ticket, nil
}

// UpdateTicketStatus sets a ticket's status.
func (s *SQLiteStore) UpdateTicketStatus(ctx context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error) {
	return s.updateTicket(ctx, id, "status", string(status))
}

// AssignTicket sets a ticket's assignee.
func (s *SQLiteStore) AssignTicket(ctx context.Context, id int64, assignee string) (*domain.Ticket, error) {
	return s.updateTicket(ctx, id, "assigned_to", assignee)
}

// ListCannedResponses returns canned responses, optionally filtered by category.
func (s *SQLiteStore) ListCannedResponses(ctx context.Context, category string) ([]domain.CannedResponse, error) {
	query := `SELECT id, shortcut, title, content, category FROM canned_responses`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY shortcut`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query canned responses: %w", err)
	}
	defer rows.Close()

	var out []domain.CannedResponse
	for rows.Next() {
		var cr domain.CannedResponse
		if err := rows.Scan(&cr.ID, &cr.Shortcut, &cr.Title, &cr.Content, &cr.Category); err != nil {
			return nil, fmt.Errorf("scan canned response row: %w", err)
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// TotalSpend sums the order amounts of a customer. Unknown or
// non-numeric customer ids have zero spend.
func (s *SQLiteStore) TotalSpend(ctx context.Context, customerID string) (float64, error) {
	userID, ok := domain.ParseCustomerID(customerID)
	if !ok {
		return 0, nil
	}
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(amount) FROM orders WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum order amounts: %w", err)
	}
	return total.Float64, nil
}

// CreateUser inserts a user and sets its id.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, phone, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		user.Name, user.Email, nullString(user.Phone), user.CreatedAt.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID, err = result.LastInsertId()
	return err
}

// CreateOrder inserts an order and sets its id.
func (s *SQLiteStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (user_id, product, amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		order.UserID, order.Product, order.Amount, order.Status, order.CreatedAt.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID, err = result.LastInsertId()
	return err
}

// CreateTicket inserts a ticket and sets its id.
func (s *SQLiteStore) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	now := time.Now()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	if ticket.Status == "" {
		ticket.Status = domain.TicketOpen
	}
	if ticket.Priority == "" {
		ticket.Priority = "medium"
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (user_id, subject, description, status, priority, assigned_to, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.UserID, ticket.Subject, nullString(ticket.Description), string(ticket.Status),
		ticket.Priority, nullString(ticket.AssignedTo), ticket.CreatedAt.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	ticket.ID, err = result.LastInsertId()
	return err
}

// CreateCannedResponse inserts a canned response and sets its id.
func (s *SQLiteStore) CreateCannedResponse(ctx context.Context, cr *domain.CannedResponse) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO canned_responses (shortcut, title, content, category) VALUES (?, ?, ?, ?)`,
		cr.Shortcut, cr.Title, cr.Content, cr.Category)
	if err != nil {
		return fmt.Errorf("insert canned response: %w", err)
	}
	cr.ID, err = result.LastInsertId()
	return err
}

// --- insights ---

const insightColumns = `id, session_id, customer_id,
	sentiment_start_score, sentiment_start_label, sentiment_start_confidence,
	sentiment_end_score, sentiment_end_label, sentiment_end_confidence,
	sentiment_drift, primary_intent, tool_calls_json, resolution, tone_used,
	handoff_occurred, handoff_reason, message_count, closed_at`

func scanInsight(row interface{ Scan(...any) error }) (*domain.SessionInsight, error) {
	var in domain.SessionInsight
	var customerID, intent, handoffReason sql.NullString
	var startLabel, endLabel, resolution, toolCalls string
	var handoff int
	var closedAt int64
	err := row.Scan(&in.ID, &in.SessionID, &customerID,
		&in.SentimentStart.Score, &startLabel, &in.SentimentStart.Confidence,
		&in.SentimentEnd.Score, &endLabel, &in.SentimentEnd.Confidence,
		&in.SentimentDrift, &intent, &toolCalls, &resolution, &in.ToneUsed,
		&handoff, &handoffReason, &in.MessageCount, &closedAt)
	if err != nil {
		return nil, err
	}
	in.CustomerID = customerID.String
	in.PrimaryIntent = intent.String
	in.SentimentStart.Label = domain.SentimentLabel(startLabel)
	in.SentimentEnd.Label = domain.SentimentLabel(endLabel)
	in.Resolution = domain.Resolution(resolution)
	in.HandoffOccurred = handoff != 0
	in.HandoffReason = domain.HandoffReason(handoffReason.String)
	in.ClosedAt = time.UnixMilli(closedAt).UTC()
	if err := json.Unmarshal([]byte(toolCalls), &in.ToolCalls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}
	return &in, nil
}

// InsertInsight stores in unless the session already has an insight.
// An empty ID is filled with a new UUIDv7.
func (s *SQLiteStore) InsertInsight(ctx context.Context, in *domain.SessionInsight) (*domain.SessionInsight, bool, error) {
	id := in.ID
	if id == "" {
		generated, err := uuid.NewV7()
		if err != nil {
			return nil, false, fmt.Errorf("generate insight id: %w", err)
		}
		id = generated.String()
	}
	toolCalls := in.ToolCalls
	if toolCalls == nil {
		toolCalls = []domain.ToolCallRecord{}
	}
	toolCallsJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return nil, false, fmt.Errorf("encode tool calls: %w", err)
	}

	handoff := 0
	if in.HandoffOccurred {
		handoff = 1
	}

	query := `
	INSERT INTO session_insights (` + insightColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		id, in.SessionID, nullString(in.CustomerID),
		in.SentimentStart.Score, string(in.SentimentStart.Label), in.SentimentStart.Confidence,
		in.SentimentEnd.Score, string(in.SentimentEnd.Label), in.SentimentEnd.Confidence,
		in.SentimentDrift, nullString(in.PrimaryIntent), string(toolCallsJSON),
		string(in.Resolution), in.ToneUsed, handoff, nullString(string(in.HandoffReason)),
		in.MessageCount, in.ClosedAt.UnixMilli(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert session insight: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("get rows affected: %w", err)
	}

	stored, err := s.GetInsight(ctx, in.SessionID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("session insight %s vanished after insert", in.SessionID)
	}
	return stored, rows > 0, nil
}

// GetInsight retrieves the insight of a session.
func (s *SQLiteStore) GetInsight(ctx context.Context, sessionID string) (*domain.SessionInsight, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+insightColumns+` FROM session_insights WHERE session_id = ?`, sessionID)
	in, err := scanInsight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session insight row: %w", err)
	}
	return in, nil
}

// ListInsightsByCustomer returns a customer's insights, oldest first.
func (s *SQLiteStore) ListInsightsByCustomer(ctx context.Context, customerID string) ([]domain.SessionInsight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM session_insights WHERE customer_id = ? ORDER BY closed_at ASC, rowid ASC`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("query session insights: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionInsight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session insight row: %w", err)
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

// --- profiles ---

// GetProfile retrieves a customer's profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_json FROM customer_profiles WHERE customer_id = ?`, customerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer profile row: %w", err)
	}

	var p domain.CustomerProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode customer profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile replaces a customer's profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *domain.CustomerProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode customer profile: %w", err)
	}
	risk := 0
	if p.RiskFlag {
		risk = 1
	}

	query := `
	INSERT INTO customer_profiles (customer_id, profile_json, risk_flag, loyalty_tier, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(customer_id) DO UPDATE SET
		profile_json = excluded.profile_json,
		risk_flag = excluded.risk_flag,
		loyalty_tier = excluded.loyalty_tier,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query, p.CustomerID, string(raw), risk, string(p.LoyaltyTier), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert customer profile: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
