package handoff

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

var (
	// ErrNotFound is returned for a session with no handoff.
	ErrNotFound = errors.New("handoff not found")

	// ErrAlreadyAccepted is returned when another agent owns the handoff.
	ErrAlreadyAccepted = errors.New("handoff already accepted")
)

// Status is the human-agent workflow state of a handoff.
type Status string

// Handoff states.
const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

// Handoff is a session waiting for or owned by a human agent.
type Handoff struct {
	SessionID  string               `json:"session_id"`
	CustomerID string               `json:"customer_id,omitempty"`
	Reason     domain.HandoffReason `json:"reason"`
	Status     Status               `json:"status"`
	AcceptedBy string               `json:"accepted_by,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	AcceptedAt *time.Time           `json:"accepted_at,omitempty"`

	seq uint64
}

// Queue tracks open handoffs by session.
type Queue struct {
	mu    sync.Mutex
	items map[string]*Handoff
	seq   uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{items: make(map[string]*Handoff)}
}

// Add records a pending handoff. An existing entry is kept.
func (q *Queue) Add(sessionID, customerID string, reason domain.HandoffReason) Handoff {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.items[sessionID]; ok {
		return *h
	}
	q.seq++
	h := &Handoff{
		SessionID:  sessionID,
		CustomerID: customerID,
		Reason:     reason,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
		seq:        q.seq,
	}
	q.items[sessionID] = h
	return *h
}

// Accept assigns the handoff to agent. Accepting twice by the same agent
// is a no-op.
func (q *Queue) Accept(sessionID, agent string) (Handoff, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.items[sessionID]
	if !ok {
		return Handoff{}, ErrNotFound
	}
	if h.Status == StatusAccepted {
		if h.AcceptedBy == agent {
			return *h, nil
		}
		return *h, ErrAlreadyAccepted
	}
	now := time.Now().UTC()
	h.Status = StatusAccepted
	h.AcceptedBy = agent
	h.AcceptedAt = &now
	return *h, nil
}

// Get returns the handoff of a session.
func (q *Queue) Get(sessionID string) (Handoff, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.items[sessionID]
	if !ok {
		return Handoff{}, false
	}
	return *h, true
}

// Pending lists handoffs not yet accepted, oldest first.
func (q *Queue) Pending() []Handoff {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Handoff, 0, len(q.items))
	for _, h := range q.items {
		if h.Status == StatusPending {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Remove drops the handoff of a closed session.
func (q *Queue) Remove(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, sessionID)
}
