// Package insight turns a closed session into its immutable SessionInsight
// and refreshes the customer's profile.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/analysis"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/shared"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/store"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/telemetry"
)

// Recomputer rebuilds a customer's profile.
type Recomputer interface {
	Recompute(ctx context.Context, customerID string) (*domain.CustomerProfile, error)
}

// Pipeline runs the session-close steps: score, resolve, persist, recompute.
type Pipeline struct {
	scorer         analysis.Scorer
	insights       store.InsightStore
	profiles       Recomputer
	closingPhrases []string
	retry          shared.RetryPolicy
	inst           *telemetry.Instruments
	logger         *slog.Logger
}

// NewPipeline creates a close pipeline. profiles may be nil to skip
// profile recomputation.
func NewPipeline(
	scorer analysis.Scorer,
	insights store.InsightStore,
	profiles Recomputer,
	closingPhrases []string,
	inst *telemetry.Instruments,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	phrases := make([]string, 0, len(closingPhrases))
	for _, p := range closingPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &Pipeline{
		scorer:         scorer,
		insights:       insights,
		profiles:       profiles,
		closingPhrases: phrases,
		retry:          shared.DefaultRetryPolicy,
		inst:           inst,
		logger:         logger,
	}
}

// Run summarizes snap and stores the insight. When an insight already
// exists for the session the stored one is returned with created=false.
func (p *Pipeline) Run(ctx context.Context, snap *domain.SessionSnapshot) (*domain.SessionInsight, bool, error) {
	start := time.Now()
	ctx, span := p.inst.StartSpan(ctx, "cx.close", attribute.String("cx.session_id", snap.SessionID))
	defer span.End()

	first, last, err := p.scoreEnds(ctx, snap.CustomerMessages())
	if err != nil {
		return nil, false, fmt.Errorf("score session %s: %w", snap.SessionID, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("generate insight id: %w", err)
	}

	in := &domain.SessionInsight{
		ID:              id.String(),
		SessionID:       snap.SessionID,
		CustomerID:      snap.CustomerID,
		SentimentStart:  first,
		SentimentEnd:    last,
		SentimentDrift:  math.Max(-2, math.Min(2, last.Score-first.Score)),
		PrimaryIntent:   snap.PrimaryIntent,
		ToolCalls:       append([]domain.ToolCallRecord{}, snap.ToolLog...),
		Resolution:      Resolve(snap, p.closingPhrases),
		ToneUsed:        snap.Tone,
		HandoffOccurred: snap.HandedOff,
		HandoffReason:   snap.HandoffReason,
		MessageCount:    len(snap.Messages),
		ClosedAt:        time.Now().UTC(),
	}

	var (
		stored  *domain.SessionInsight
		created bool
	)
	err = shared.RetryOnConflict(ctx, "insert insight", p.retry, func() error {
		var insertErr error
		stored, created, insertErr = p.insights.InsertInsight(ctx, in)
		return insertErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("persist insight for %s: %w", snap.SessionID, err)
	}

	if !created {
		p.logger.Info("session insight already stored", "session_id", snap.SessionID)
		// A previous attempt may have stored the insight but failed to
		// update the profile. Recompute is idempotent.
		p.recompute(ctx, stored)
		return stored, false, nil
	}

	p.inst.RecordClose(ctx, time.Since(start), string(stored.Resolution))
	p.logger.Info("session insight stored",
		"session_id", stored.SessionID,
		"customer_id", stored.CustomerID,
		"resolution", stored.Resolution,
		"sentiment_drift", stored.SentimentDrift,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	p.recompute(ctx, stored)
	return stored, true, nil
}

func (p *Pipeline) recompute(ctx context.Context, in *domain.SessionInsight) {
	if in.CustomerID == "" || p.profiles == nil {
		return
	}
	if _, err := p.profiles.Recompute(ctx, in.CustomerID); err != nil {
		p.logger.Error("profile recompute failed",
			"customer_id", in.CustomerID,
			"session_id", in.SessionID,
			"error", err,
		)
	}
}

// scoreEnds scores the first and last customer messages concurrently.
// A single message is scored once. Scorer failures degrade to neutral;
// only cancellation of ctx is returned.
func (p *Pipeline) scoreEnds(ctx context.Context, msgs []domain.Message) (domain.Sentiment, domain.Sentiment, error) {
	if len(msgs) == 0 {
		return domain.NeutralSentiment(), domain.NeutralSentiment(), nil
	}

	var first, last domain.Sentiment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		first, err = p.score(gctx, msgs[0].Content)
		return err
	})
	if len(msgs) > 1 {
		g.Go(func() error {
			var err error
			last, err = p.score(gctx, msgs[len(msgs)-1].Content)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Sentiment{}, domain.Sentiment{}, err
	}
	if len(msgs) == 1 {
		last = first
	}
	return first, last, nil
}

func (p *Pipeline) score(ctx context.Context, text string) (domain.Sentiment, error) {
	s, err := p.scorer.Score(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Sentiment{}, ctx.Err()
		}
		p.logger.Warn("sentiment scoring failed, using neutral", "error", err)
		return domain.NeutralSentiment(), nil
	}
	return analysis.Normalize(s), nil
}

// Resolve classifies a session: escalated if it was ever handed off,
// resolved if the final assistant message contains a closing phrase,
// unresolved otherwise. phrases must be lower case.
func Resolve(snap *domain.SessionSnapshot, phrases []string) domain.Resolution {
	if snap.HandedOff {
		return domain.ResolutionEscalated
	}
	final := strings.ToLower(snap.LastAssistantMessage())
	if final == "" {
		return domain.ResolutionUnresolved
	}
	for _, p := range phrases {
		if strings.Contains(final, p) {
			return domain.ResolutionResolved
		}
	}
	return domain.ResolutionUnresolved
}
