// Package analysis scores the sentiment of customer text, either by
// prompting the chat model or by calling a remote analysis service.
package analysis

import (
	"context"
	"math"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

// Scorer scores one piece of customer text.
type Scorer interface {
	Score(ctx context.Context, text string) (domain.Sentiment, error)
}

// Normalize clamps a raw result into range and repairs an unknown label
// from the score.
func Normalize(s domain.Sentiment) domain.Sentiment {
	s.Score = clamp(s.Score, -1, 1)
	s.Confidence = clamp(s.Confidence, 0, 1)
	switch s.Label {
	case domain.SentimentNegative, domain.SentimentNeutral, domain.SentimentPositive:
	default:
		s.Label = LabelFor(s.Score)
	}
	return s
}

// LabelFor maps a score to its coarse label.
func LabelFor(score float64) domain.SentimentLabel {
	switch {
	case score > 0.1:
		return domain.SentimentPositive
	case score < -0.1:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
