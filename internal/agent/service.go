package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/handoff"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/session"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/telemetry"
)

var (
	// ErrSessionNotFound is returned for a session key with no live session
	// and no stored insight.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned for messages sent to a closed session.
	ErrSessionClosed = session.ErrSessionClosed

	// ErrEmptyMessage is returned for blank customer or agent messages.
	ErrEmptyMessage = errors.New("message is required")

	// ErrInvalidCustomerID is returned when a customer id is not a user id.
	ErrInvalidCustomerID = errors.New("invalid customer id")

	// ErrNotHandedOff is returned when an agent replies to a session that
	// no agent has accepted.
	ErrNotHandedOff = errors.New("session is not handed off")
)

// Finalizer runs the session-close pipeline. created is false when an
// insight already existed for the session.
type Finalizer interface {
	Run(ctx context.Context, snap *domain.SessionSnapshot) (*domain.SessionInsight, bool, error)
}

// ProfileReader loads stored customer profiles.
type ProfileReader interface {
	Get(ctx context.Context, customerID string) (*domain.CustomerProfile, error)
}

// CustomerNotifier pushes human-agent replies to the customer's channel.
type CustomerNotifier interface {
	Deliver(sessionID string, msg domain.Message)
}

// Inbound is one customer message.
type Inbound struct {
	SessionID    string
	Text         string
	CustomerID   string
	ToneOverride string
	Channel      string
}

// Reply is the assistant-visible answer to an Inbound message.
type Reply struct {
	SessionID     string               `json:"session_id"`
	Text          string               `json:"response"`
	Handoff       bool                 `json:"handoff"`
	HandoffReason domain.HandoffReason `json:"handoff_reason,omitempty"`
	PrimaryIntent string               `json:"primary_intent,omitempty"`
	ToolCallsUsed int                  `json:"tool_calls_used"`
	Tone          string               `json:"tone,omitempty"`
	Specialist    string               `json:"specialist,omitempty"`
}

// ServiceDeps wires a Service.
type ServiceDeps struct {
	Agent           *Agent
	Sessions        *session.Manager
	Finalizer       Finalizer
	Insights        store.InsightStore
	Profiles        ProfileReader
	Queue           *handoff.Queue
	Dispatcher      *handoff.Dispatcher
	Customers       CustomerNotifier
	ConversationLog ConversationLogger
	CloseTimeout    time.Duration
	Telemetry       *telemetry.Instruments
	Logger          *slog.Logger
}

// Service is the conversation surface used by the transports.
type Service struct {
	agent        *Agent
	sessions     *session.Manager
	finalizer    Finalizer
	insights     store.InsightStore
	profiles     ProfileReader
	queue        *handoff.Queue
	dispatcher   *handoff.Dispatcher
	customers    CustomerNotifier
	log          ConversationLogger
	closeTimeout time.Duration
	inst         *telemetry.Instruments
	logger       *slog.Logger

	background sync.WaitGroup
}

// NewService creates a service from deps.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		agent:        deps.Agent,
		sessions:     deps.Sessions,
		finalizer:    deps.Finalizer,
		insights:     deps.Insights,
		profiles:     deps.Profiles,
		queue:        deps.Queue,
		dispatcher:   deps.Dispatcher,
		customers:    deps.Customers,
		log:          deps.ConversationLog,
		closeTimeout: deps.CloseTimeout,
		inst:         deps.Telemetry,
		logger:       deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sessions == nil {
		s.sessions = session.NewManager(s.logger)
	}
	if s.queue == nil {
		s.queue = handoff.NewQueue()
	}
	if s.log == nil {
		s.log = noopConversationLogger{}
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = 30 * time.Second
	}
	return s
}

// Sessions returns the live session manager.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// HandleCustomerMessage runs one turn for in. After a handoff the message is
// forwarded to the human-agent side and acknowledged instead.
func (s *Service) HandleCustomerMessage(ctx context.Context, in Inbound) (Reply, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	if in.CustomerID != "" {
		if _, ok := domain.ParseCustomerID(in.CustomerID); !ok {
			return Reply{}, fmt.Errorf("%w: %q", ErrInvalidCustomerID, in.CustomerID)
		}
	}
	channel := in.Channel
	if channel == "" {
		channel = "chat_http"
	}

	sess, err := s.liveSession(ctx, in.SessionID, true)
	if err != nil {
		return Reply{}, err
	}

	start := time.Now()
	var reply Reply
	err = sess.Do(ctx, func(ctx context.Context) error {
		if in.CustomerID != "" && !sess.LinkCustomer(in.CustomerID) {
			s.logger.Warn("ignoring customer id for already linked session",
				"session_id", sess.ID(),
				"customer_id", in.CustomerID,
				"linked", sess.CustomerID(),
			)
		}
		s.logEvent(sess, channel, "inbound", eventCustomerMessage, text, nil)

		if handedOff, reason := sess.HandedOff(); handedOff {
			reply = s.forward(sess, text, reason)
			return nil
		}

		profile := s.loadProfile(ctx, sess.CustomerID())
		turn, err := s.agent.runTurn(ctx, sess, text, profile, in.ToneOverride)
		if err != nil {
			return err
		}

		reply = Reply{
			SessionID:     sess.ID(),
			Text:          turn.Text,
			Handoff:       turn.HandedOff(),
			HandoffReason: turn.Reason,
			PrimaryIntent: sess.PrimaryIntent(),
			ToolCallsUsed: sess.ToolCallsUsed(),
			Tone:          turn.Tone,
			Specialist:    turn.Specialist,
		}
		if turn.HandedOff() {
			s.announceHandoff(sess, turn.Reason)
		}
		s.logEvent(sess, channel, "outbound", eventAssistantMessage, turn.Text, map[string]any{
			"tone":           turn.Tone,
			"specialist":     turn.Specialist,
			"rounds":         turn.Rounds,
			"handoff_reason": string(turn.Reason),
		})
		return nil
	})
	s.inst.RecordTurn(ctx, time.Since(start), reply.Handoff)
	if err != nil {
		return Reply{}, fmt.Errorf("handle message for %s: %w", in.SessionID, err)
	}
	return reply, nil
}

// forward routes a post-handoff customer message to the human-agent side.
func (s *Service) forward(sess *session.Session, text string, reason domain.HandoffReason) Reply {
	sess.AppendMessage(domain.RoleCustomer, text)

	ev := handoff.NewEvent(handoff.EventCustomerMessage, sess.ID())
	ev.CustomerID = sess.CustomerID()
	ev.Reason = reason
	ev.Message = text
	s.publish(ev)
	s.logEvent(sess, "handoff", "outbound", eventForwardedMessage, text, nil)

	return Reply{
		SessionID:     sess.ID(),
		Text:          handoff.ForwardedAck,
		Handoff:       true,
		HandoffReason: reason,
		PrimaryIntent: sess.PrimaryIntent(),
		ToolCallsUsed: sess.ToolCallsUsed(),
	}
}

func (s *Service) announceHandoff(sess *session.Session, reason domain.HandoffReason) {
	s.queue.Add(sess.ID(), sess.CustomerID(), reason)

	ev := handoff.NewEvent(handoff.EventHandoff, sess.ID())
	ev.CustomerID = sess.CustomerID()
	ev.Reason = reason
	ev.Snapshot = sess.Snapshot()
	s.publish(ev)
	s.logEvent(sess, "handoff", "outbound", eventHandoff, string(reason), nil)
}

func (s *Service) publish(ev handoff.Event) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Publish(ev)
}

func (s *Service) loadProfile(ctx context.Context, customerID string) *domain.CustomerProfile {
	if customerID == "" || s.profiles == nil {
		return nil
	}
	p, err := s.profiles.Get(ctx, customerID)
	if err != nil {
		s.logger.Warn("failed to load customer profile", "customer_id", customerID, "error", err)
		return nil
	}
	return p
}

// liveSession returns the live session for id. A key whose insight is
// already stored is closed; create controls whether a new key starts one.
func (s *Service) liveSession(ctx context.Context, id string, create bool) (*session.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	if sess := s.sessions.Get(id); sess != nil {
		return sess, nil
	}
	if s.insights != nil {
		in, err := s.insights.GetInsight(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check session %s: %w", id, err)
		}
		if in != nil {
			return nil, ErrSessionClosed
		}
	}
	if !create {
		return nil, ErrSessionNotFound
	}
	sess, _ := s.sessions.GetOrCreate(id)
	return sess, nil
}

// CloseSession finalizes a session exactly once. Closing an already closed
// session returns its stored outcome with AlreadyClosed set.
func (s *Service) CloseSession(ctx context.Context, id string) (domain.CloseResult, error) {
	sess := s.sessions.Get(id)
	if sess == nil {
		if s.insights != nil {
			in, err := s.insights.GetInsight(ctx, id)
			if err != nil {
				return domain.CloseResult{}, fmt.Errorf("load insight %s: %w", id, err)
			}
			if in != nil {
				return domain.CloseResultFrom(in, true), nil
			}
		}
		return domain.CloseResult{}, ErrSessionNotFound
	}

	created := true
	in, alreadyClosed, err := sess.Close(ctx, func(ctx context.Context, snap *domain.SessionSnapshot) (*domain.SessionInsight, error) {
		stored, isNew, err := s.finalizer.Run(ctx, snap)
		created = isNew
		return stored, err
	})
	if err != nil {
		return domain.CloseResult{}, fmt.Errorf("close session %s: %w", id, err)
	}

	s.sessions.Remove(sess)
	s.queue.Remove(id)
	if !alreadyClosed {
		s.logEvent(sess, "system", "internal", eventSessionClosed, string(in.Resolution), map[string]any{
			"sentiment_drift": in.SentimentDrift,
		})
	}
	return domain.CloseResultFrom(in, alreadyClosed || !created), nil
}

// CloseInBackground closes a session on its own goroutine with a fresh
// timeout. Failures are logged.
func (s *Service) CloseInBackground(id string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		defer cancel()

		res, err := s.CloseSession(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return
			}
			s.logger.Error("background session close failed", "session_id", id, "error", err)
			return
		}
		s.logger.Info("session closed in background",
			"session_id", id,
			"resolution", res.Resolution,
			"already_closed", res.AlreadyClosed,
		)
	}()
}

// Wait blocks until background closes finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetCustomerProfile returns the stored profile, or nil when none exists.
func (s *Service) GetCustomerProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	if s.profiles == nil {
		return nil, nil
	}
	return s.profiles.Get(ctx, customerID)
}

// LinkCustomer attaches customerID to a session, starting it if needed.
// It reports false when the session is already linked to someone else.
func (s *Service) LinkCustomer(ctx context.Context, sessionID, customerID string) (bool, error) {
	if _, ok := domain.ParseCustomerID(customerID); !ok {
		return false, fmt.Errorf("%w: %q", ErrInvalidCustomerID, customerID)
	}
	sess, err := s.liveSession(ctx, sessionID, true)
	if err != nil {
		return false, err
	}
	var linked bool
	err = sess.Do(ctx, func(context.Context) error {
		linked = sess.LinkCustomer(customerID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("link customer: %w", err)
	}
	return linked, nil
}

// History returns the transcript of a live session.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	sess, err := s.liveSession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	return sess.Messages(), nil
}

// LinkedCustomer returns the customer linked to a live session, or "".
func (s *Service) LinkedCustomer(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.liveSession(ctx, sessionID, false)
	if err != nil {
		return "", err
	}
	return sess.CustomerID(), nil
}

// ListHandoffs returns handoffs waiting for an agent, oldest first.
func (s *Service) ListHandoffs() []handoff.Handoff {
	return s.queue.Pending()
}

// AcceptHandoff assigns a session to agent. A live session that was never
// escalated is claimed with the agent_requested reason.
func (s *Service) AcceptHandoff(ctx context.Context, sessionID, agent string) (handoff.Handoff, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return handoff.Handoff{}, fmt.Errorf("%w: agent name", ErrEmptyMessage)
	}

	if _, ok := s.queue.Get(sessionID); !ok {
		sess, err := s.liveSession(ctx, sessionID, false)
		if err != nil {
			return handoff.Handoff{}, err
		}
		err = sess.Do(ctx, func(ctx context.Context) error {
			sess.MarkHandedOff(domain.HandoffAgentRequested)
			_, reason := sess.HandedOff()
			s.queue.Add(sess.ID(), sess.CustomerID(), reason)
			s.inst.RecordHandoff(ctx, string(reason))
			return nil
		})
		if err != nil {
			return handoff.Handoff{}, fmt.Errorf("claim session %s: %w", sessionID, err)
		}
	}

	h, err := s.queue.Accept(sessionID, agent)
	if err != nil {
		return h, err
	}

	ev := handoff.NewEvent(handoff.EventAccepted, sessionID)
	ev.CustomerID = h.CustomerID
	ev.Reason = h.Reason
	ev.Agent = agent
	s.publish(ev)
	s.logger.Info("handoff accepted", "session_id", sessionID, "agent", agent)
	return h, nil
}

// AgentReply appends a human agent's message to an accepted session and
// pushes it to the customer.
func (s *Service) AgentReply(ctx context.Context, sessionID, agent, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	h, ok := s.queue.Get(sessionID)
	if !ok || h.Status != handoff.StatusAccepted {
		return domain.Message{}, ErrNotHandedOff
	}
	if agent != "" && h.AcceptedBy != agent {
		return domain.Message{}, fmt.Errorf("%w: accepted by %s", handoff.ErrAlreadyAccepted, h.AcceptedBy)
	}

	sess, err := s.liveSession(ctx, sessionID, false)
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err = sess.Do(ctx, func(context.Context) error {
		msg = sess.AppendMessage(domain.RoleAgent, text)
		return nil
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append agent reply: %w", err)
	}

	if s.customers != nil {
		s.customers.Deliver(sessionID, msg)
	}
	s.logEvent(sess, "handoff", "outbound", eventAgentMessage, text, map[string]any{"agent": h.AcceptedBy})
	return msg, nil
}

func (s *Service) logEvent(sess *session.Session, channel, direction, eventType, content string, meta map[string]any) {
	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     sess.CustomerID(),
		SessionID:  sess.ID(),
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// Close finalizes every live session, waits for background closes and
// releases the conversation log.
func (s *Service) Close(ctx context.Context) error {
	ids := s.sessions.IDs()
	for _, id := range ids {
		s.CloseInBackground(id)
	}
	if len(ids) > 0 {
		s.logger.Info("closing live sessions at shutdown", "count", len(ids))
	}
	if err := s.Wait(ctx); err != nil {
		s.logger.Warn("background closes still running at shutdown", "error", err)
	}
	return s.log.Close()
}
