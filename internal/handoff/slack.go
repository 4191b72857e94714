package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

// slackMaxRetries bounds retries of rate-limited posts.
const slackMaxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackSink posts handoff notices to a Slack channel.
type SlackSink struct {
	client    slackClient
	channelID string
	logger    *slog.Logger
}

// NewSlackSink creates a sink using a bot token.
func NewSlackSink(botToken, channelID string, logger *slog.Logger) (*SlackSink, error) {
	if botToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	return newSlackSink(slackapi.New(botToken), channelID, logger)
}

func newSlackSink(client slackClient, channelID string, logger *slog.Logger) (*SlackSink, error) {
	if channelID == "" {
		return nil, fmt.Errorf("slack: channel id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackSink{client: client, channelID: channelID, logger: logger}, nil
}

// Name implements Sink.
func (s *SlackSink) Name() string { return "slack" }

// Notify posts handoff events. Other kinds are ignored.
func (s *SlackSink) Notify(ctx context.Context, ev Event) error {
	if ev.Kind != EventHandoff {
		return nil
	}

	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(fmt.Sprintf("Session %s needs a human agent (%s)", ev.SessionID, ev.Reason), false),
		slackapi.MsgOptionAttachments(handoffAttachment(ev)),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessage(s.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	s.logger.Debug("handoff posted to slack", "session_id", ev.SessionID, "channel", s.channelID)
	return nil
}

func handoffAttachment(ev Event) slackapi.Attachment {
	customer := ev.CustomerID
	if customer == "" {
		customer = "unlinked"
	}
	fields := []slackapi.AttachmentField{
		{Title: "Session", Value: ev.SessionID, Short: true},
		{Title: "Customer", Value: customer, Short: true},
		{Title: "Reason", Value: string(ev.Reason), Short: true},
	}
	if ev.Snapshot != nil {
		if msgs := ev.Snapshot.CustomerMessages(); len(msgs) > 0 {
			fields = append(fields, slackapi.AttachmentField{
				Title: "Last customer message",
				Value: msgs[len(msgs)-1].Content,
			})
		}
		if ev.Snapshot.PrimaryIntent != "" {
			fields = append(fields, slackapi.AttachmentField{Title: "Intent", Value: ev.Snapshot.PrimaryIntent, Short: true})
		}
	}
	return slackapi.Attachment{
		Title:    "Customer handoff",
		Color:    reasonColor(ev.Reason),
		Fallback: fmt.Sprintf("Handoff %s: %s", ev.SessionID, ev.Reason),
		Fields:   fields,
	}
}

func reasonColor(reason domain.HandoffReason) string {
	switch reason {
	case domain.HandoffModelUnavailable, domain.HandoffInternalError:
		return "danger"
	case domain.HandoffRepeatedIntent, domain.HandoffHallucinationRisk:
		return "warning"
	default:
		return "#439FE0"
	}
}

// retryOnRateLimit retries fn while Slack reports a rate limit.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == slackMaxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

var _ Sink = (*SlackSink)(nil)
