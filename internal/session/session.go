// Package session owns live conversations. Each Session runs its turns one
// at a time on a mailbox goroutine and closes exactly once.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

// ErrSessionClosed is returned for work submitted after closing began.
var ErrSessionClosed = errors.New("session closed")

const inboxSize = 16

type closeState int

const (
	stateOpen closeState = iota
	stateClosing
	stateClosed
)

type job struct {
	ctx     context.Context
	fn      func(context.Context) error
	barrier bool
	result  chan error
}

// Finalizer turns a closing session's snapshot into its stored insight.
type Finalizer func(ctx context.Context, snap *domain.SessionSnapshot) (*domain.SessionInsight, error)

// Session is one live conversation.
type Session struct {
	id string

	mu            sync.Mutex
	customerID    string
	messages      []domain.Message
	toolLog       []domain.ToolCallRecord
	primaryIntent string
	tone          string
	specialist    string
	handedOff     bool
	handoffReason domain.HandoffReason
	iterations    int
	createdAt     time.Time
	lastActivity  time.Time

	state     closeState
	closeDone chan struct{}
	insight   *domain.SessionInsight

	inbox   chan job
	stopped chan struct{}
	logger  *slog.Logger
}

func newSession(id string, logger *slog.Logger) *Session {
	now := time.Now().UTC()
	s := &Session{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		inbox:        make(chan job, inboxSize),
		stopped:      make(chan struct{}),
		logger:       logger,
	}
	go s.mailbox()
	return s
}

// ID returns the session key.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) mailbox() {
	for {
		select {
		case <-s.stopped:
			return
		case j := <-s.inbox:
			if !j.barrier && s.isClosing() {
				j.result <- ErrSessionClosed
				continue
			}
			j.result <- s.run(j)
		}
	}
}

func (s *Session) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session turn panicked", "session_id", s.id, "panic", r)
			err = errors.New("session turn panicked")
		}
	}()
	if j.ctx.Err() != nil {
		return j.ctx.Err()
	}
	return j.fn(j.ctx)
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != stateOpen
}

func (s *Session) enqueue(ctx context.Context, j job) error {
	j.ctx = ctx
	j.result = make(chan error, 1)
	select {
	case s.inbox <- j:
	case <-s.stopped:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-s.stopped:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the session's mailbox after every earlier turn finished.
func (s *Session) Do(ctx context.Context, fn func(context.Context) error) error {
	if s.isClosing() {
		return ErrSessionClosed
	}
	return s.enqueue(ctx, job{fn: fn})
}

// Close runs finalize exactly once. Concurrent callers wait for the first
// one; later callers get the stored insight with alreadyClosed set. When
// finalize fails the session reopens so close can be retried.
func (s *Session) Close(ctx context.Context, finalize Finalizer) (in *domain.SessionInsight, alreadyClosed bool, err error) {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		in = s.insight
		s.mu.Unlock()
		return in, true, nil
	case stateClosing:
		done := s.closeDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == stateClosed {
			return s.insight, true, nil
		}
		return nil, false, errors.New("concurrent close failed")
	}
	s.state = stateClosing
	done := make(chan struct{})
	s.closeDone = done
	s.mu.Unlock()

	defer close(done)

	// The barrier drains turns queued before closing started.
	if err := s.enqueue(ctx, job{barrier: true, fn: func(context.Context) error { return nil }}); err != nil {
		s.reopen()
		return nil, false, err
	}

	in, err = finalize(ctx, s.Snapshot())
	if err != nil {
		s.reopen()
		return nil, false, err
	}

	s.mu.Lock()
	s.state = stateClosed
	s.insight = in
	s.mu.Unlock()
	close(s.stopped)
	return in, false, nil
}

func (s *Session) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateOpen
}

// Closed reports whether the session finished closing.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

// AppendMessage adds a transcript entry and bumps the activity clock.
func (s *Session) AppendMessage(role domain.Role, content string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := domain.Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
	s.messages = append(s.messages, m)
	s.lastActivity = m.Timestamp
	return m
}

// LastCustomerMessage returns the most recent customer message, or "".
func (s *Session) LastCustomerMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == domain.RoleCustomer {
			return s.messages[i].Content
		}
	}
	return ""
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// RecordTool appends to the tool log. The first successful call sets the
// primary intent, which never changes afterwards.
func (s *Session) RecordTool(rec domain.ToolCallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolLog = append(s.toolLog, rec)
	if s.primaryIntent == "" && rec.Succeeded() {
		s.primaryIntent = rec.Name
	}
}

// PrimaryIntent returns the session's primary intent.
func (s *Session) PrimaryIntent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primaryIntent
}

// ToolCallsUsed returns the number of tool calls executed so far.
func (s *Session) ToolCallsUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toolLog)
}

// SetTone records the tone of the latest turn.
func (s *Session) SetTone(tone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tone = tone
}

// SetSpecialist records the specialist that answered the latest turn.
func (s *Session) SetSpecialist(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specialist = name
}

// Specialist returns the specialist of the latest routed turn, or "".
func (s *Session) Specialist() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specialist
}

// SetIterations records the tool rounds used by the latest turn.
func (s *Session) SetIterations(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = n
}

// MarkHandedOff moves the session to handed off. It reports false when the
// session was already handed off; the first reason is kept.
func (s *Session) MarkHandedOff(reason domain.HandoffReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handedOff {
		return false
	}
	s.handedOff = true
	s.handoffReason = reason
	return true
}

// HandedOff returns the handoff state.
func (s *Session) HandedOff() (bool, domain.HandoffReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handedOff, s.handoffReason
}

// LinkCustomer attaches a customer identity. The first link wins; it
// reports whether id is the session's customer afterwards.
func (s *Session) LinkCustomer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.customerID == "" {
		s.customerID = id
	}
	return s.customerID == id
}

// CustomerID returns the linked customer, or "".
func (s *Session) CustomerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customerID
}

// LastActivity returns when the last message was appended.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Snapshot returns an immutable copy of the session state.
func (s *Session) Snapshot() *domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.SessionSnapshot{
		SessionID:     s.id,
		CustomerID:    s.customerID,
		Messages:      append([]domain.Message(nil), s.messages...),
		ToolLog:       append([]domain.ToolCallRecord(nil), s.toolLog...),
		PrimaryIntent: s.primaryIntent,
		Tone:          s.tone,
		Specialist:    s.specialist,
		HandedOff:     s.handedOff,
		HandoffReason: s.handoffReason,
		Iterations:    s.iterations,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
	}
}
