package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CloseFunc closes one session by key.
type CloseFunc func(ctx context.Context, sessionID string) error

// Reaper closes sessions that have been idle longer than a TTL.
type Reaper struct {
	manager      *Manager
	ttl          time.Duration
	closeSession CloseFunc
	closeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewReaper creates a reaper. Each close gets its own closeTimeout.
func NewReaper(m *Manager, ttl, closeTimeout time.Duration, closeSession CloseFunc, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		manager:      m,
		ttl:          ttl,
		closeSession: closeSession,
		closeTimeout: closeTimeout,
		now:          time.Now,
		logger:       logger,
	}
}

// Sweep closes every idle session and returns how many closed.
func (r *Reaper) Sweep(ctx context.Context) int {
	idle := r.manager.Idle(r.now().Add(-r.ttl))
	if len(idle) == 0 {
		return 0
	}

	closed := 0
	for _, s := range idle {
		if ctx.Err() != nil {
			break
		}
		closeCtx, cancel := context.WithTimeout(ctx, r.closeTimeout)
		err := r.closeSession(closeCtx, s.ID())
		cancel()
		if err != nil {
			r.logger.Error("[REAPER] Failed to close idle session", "session_id", s.ID(), "error", err)
			continue
		}
		closed++
	}
	r.logger.Info("[REAPER] Idle sessions closed", "closed", closed, "idle", len(idle), "ttl", r.ttl)
	return closed
}

// Start schedules Sweep on a cron expression until ctx is done.
func (r *Reaper) Start(ctx context.Context, schedule string) error {
	if r.ttl <= 0 {
		r.logger.Info("[REAPER] Idle TTL disabled, reaper not started")
		return nil
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("parse reap schedule %q: %w", schedule, err)
	}

	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(schedule, func() { r.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	c.Start()
	r.logger.Info("[REAPER] Started", "schedule", schedule, "ttl", r.ttl)

	go func() {
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		r.logger.Info("[REAPER] Shutting down", "reason", ctx.Err())
	}()
	return nil
}
