package handoff

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/google/uuid"
)

// EventKind distinguishes the events delivered to the human-agent side.
type EventKind string

// Event kinds.
const (
	EventHandoff         EventKind = "handoff"
	EventAccepted        EventKind = "handoff_accepted"
	EventCustomerMessage EventKind = "customer_message"
)

// Event is one notification for the human-agent side.
type Event struct {
	ID         string                  `json:"id"`
	Kind       EventKind               `json:"kind"`
	SessionID  string                  `json:"session_id"`
	CustomerID string                  `json:"customer_id,omitempty"`
	Reason     domain.HandoffReason    `json:"reason,omitempty"`
	Agent      string                  `json:"agent,omitempty"`
	Message    string                  `json:"message,omitempty"`
	Snapshot   *domain.SessionSnapshot `json:"snapshot,omitempty"`
	At         time.Time               `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind EventKind, sessionID string) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Event{ID: id.String(), Kind: kind, SessionID: sessionID, At: time.Now().UTC()}
}

// Sink receives dispatched events.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to sinks from a single broadcast loop.
// Publishing never blocks: a full buffer drops the event.
type Dispatcher struct {
	events      chan Event
	sinks       []Sink
	sinkTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher with a buffer of queueSize events and
// starts its broadcast loop.
func NewDispatcher(queueSize int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	d := &Dispatcher{
		events:      make(chan Event, queueSize),
		sinks:       sinks,
		sinkTimeout: 10 * time.Second,
		done:        make(chan struct{}),
		logger:      logger,
	}
	d.wg.Add(1)
	go d.broadcastLoop()
	return d
}

// Publish enqueues ev. It reports false when the event was dropped.
func (d *Dispatcher) Publish(ev Event) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.events <- ev:
		return true
	default:
		d.logger.Warn("[BROADCAST] Event buffer full, dropping event",
			"kind", ev.Kind,
			"session_id", ev.SessionID,
			"reason", ev.Reason,
		)
		return false
	}
}

// Close stops the broadcast loop after draining queued events.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) broadcastLoop() {
	defer d.wg.Done()
	d.logger.Info("[BROADCAST] Broadcast loop started", "sinks", len(d.sinks))
	for {
		select {
		case <-d.done:
			for {
				select {
				case ev := <-d.events:
					d.deliver(ev)
				default:
					d.logger.Info("[BROADCAST] Broadcast loop shutting down")
					return
				}
			}
		case ev := <-d.events:
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := s.Notify(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("[BROADCAST] Sink delivery failed",
				"sink", s.Name(),
				"kind", ev.Kind,
				"session_id", ev.SessionID,
				"error", err,
			)
		}
	}
}
