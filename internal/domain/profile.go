package domain

import (
	"time"
)

// LoyaltyTier buckets customers by total spend.
type LoyaltyTier string

// Loyalty tiers.
const (
	TierStandard LoyaltyTier = "standard"
	TierSilver   LoyaltyTier = "silver"
	TierGold     LoyaltyTier = "gold"
	TierPlatinum LoyaltyTier = "platinum"
)

// CustomerProfile is the durable aggregate of a customer's session history.
// Every field is derived from the ordered SessionInsight list plus the
// externally supplied total spend.
type CustomerProfile struct {
	CustomerID        string         `json:"customer_id"`
	TotalSessions     int            `json:"total_sessions"`
	TotalEscalations  int            `json:"total_escalations"`
	ResolutionRate    float64        `json:"resolution_rate"`
	WeightedSentiment float64        `json:"weighted_sentiment"`
	AvgSentimentDrift float64        `json:"avg_sentiment_drift"`
	TopicFrequency    map[string]int `json:"topic_frequency"`
	TotalSpend        float64        `json:"total_spend"`
	LoyaltyTier       LoyaltyTier    `json:"loyalty_tier"`
	RiskFlag          bool           `json:"risk_flag"`
	RiskReasons       []string       `json:"risk_reasons"`
	PreferredTone     string         `json:"preferred_tone,omitempty"`
	FirstContact      time.Time      `json:"first_contact"`
	LastContact       time.Time      `json:"last_contact"`
	LastResolution    Resolution     `json:"last_resolution,omitempty"`
}
