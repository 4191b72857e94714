package domain

import (
	"time"
)

// SentimentLabel is the coarse polarity of a sentiment score.
type SentimentLabel string

// Sentiment labels.
const (
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentPositive SentimentLabel = "positive"
)

// Sentiment is the result of scoring one piece of customer text.
type Sentiment struct {
	Score      float64        `json:"score"`
	Label      SentimentLabel `json:"label"`
	Confidence float64        `json:"confidence"`
}

// NeutralSentiment is used when there is nothing to score or scoring fails.
func NeutralSentiment() Sentiment {
	return Sentiment{Score: 0, Label: SentimentNeutral, Confidence: 0.5}
}

// Resolution is the outcome of a closed session.
type Resolution string

// Resolution outcomes.
const (
	ResolutionResolved   Resolution = "resolved"
	ResolutionEscalated  Resolution = "escalated"
	ResolutionUnresolved Resolution = "unresolved"
)

// SessionInsight is the immutable analytics record of one closed session.
type SessionInsight struct {
	ID              string           `json:"id"`
	SessionID       string           `json:"session_id"`
	CustomerID      string           `json:"customer_id,omitempty"`
	SentimentStart  Sentiment        `json:"sentiment_start"`
	SentimentEnd    Sentiment        `json:"sentiment_end"`
	SentimentDrift  float64          `json:"sentiment_drift"`
	PrimaryIntent   string           `json:"primary_intent,omitempty"`
	ToolCalls       []ToolCallRecord `json:"tool_calls"`
	Resolution      Resolution       `json:"resolution"`
	ToneUsed        string           `json:"tone_used"`
	HandoffOccurred bool             `json:"handoff_occurred"`
	HandoffReason   HandoffReason    `json:"handoff_reason,omitempty"`
	MessageCount    int              `json:"message_count"`
	ClosedAt        time.Time        `json:"closed_at"`
}

// CloseResult is what callers of close see.
type CloseResult struct {
	SessionID      string     `json:"session_id"`
	Resolution     Resolution `json:"resolution_status"`
	SentimentDrift float64    `json:"sentiment_drift"`
	AlreadyClosed  bool       `json:"already_closed"`
}

// CloseResultFrom builds a CloseResult from a stored insight.
func CloseResultFrom(in *SessionInsight, alreadyClosed bool) CloseResult {
	return CloseResult{
		SessionID:      in.SessionID,
		Resolution:     in.Resolution,
		SentimentDrift: in.SentimentDrift,
		AlreadyClosed:  alreadyClosed,
	}
}
