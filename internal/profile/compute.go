// Package profile folds a customer's session insights into a durable
// CustomerProfile.
package profile

import (
	"fmt"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

// Aggregation constants.
const (
	DecayFactor             = 0.7
	EscalationRateThreshold = 0.40
	SentimentRiskThreshold  = -0.30
	DriftWindow             = 3
	UnresolvedStreakLimit   = 3
)

// TierFor maps total spend to a loyalty tier.
func TierFor(spend float64) domain.LoyaltyTier {
	switch {
	case spend >= 2000:
		return domain.TierPlatinum
	case spend >= 500:
		return domain.TierGold
	case spend >= 100:
		return domain.TierSilver
	default:
		return domain.TierStandard
	}
}

// Compute builds a profile from insights ordered oldest to newest. It is a
// pure function: the same inputs always yield the same profile.
func Compute(customerID string, insights []domain.SessionInsight, totalSpend float64) *domain.CustomerProfile {
	p := &domain.CustomerProfile{
		CustomerID:     customerID,
		TopicFrequency: map[string]int{},
		RiskReasons:    []string{},
		TotalSpend:     totalSpend,
		LoyaltyTier:    TierFor(totalSpend),
	}
	n := len(insights)
	p.TotalSessions = n
	if n == 0 {
		return p
	}

	var resolved int
	var driftSum float64
	for _, in := range insights {
		switch in.Resolution {
		case domain.ResolutionEscalated:
			p.TotalEscalations++
		case domain.ResolutionResolved:
			resolved++
		}
		if in.PrimaryIntent != "" {
			p.TopicFrequency[in.PrimaryIntent]++
		}
		driftSum += in.SentimentDrift
	}

	p.ResolutionRate = float64(resolved) / float64(n)
	p.AvgSentimentDrift = driftSum / float64(n)
	p.WeightedSentiment = weightedSentiment(insights)
	p.PreferredTone = preferredTone(insights)
	p.FirstContact = insights[0].ClosedAt
	p.LastContact = insights[n-1].ClosedAt
	p.LastResolution = insights[n-1].Resolution

	p.RiskReasons = riskReasons(p, insights)
	p.RiskFlag = len(p.RiskReasons) > 0
	return p
}

// weightedSentiment gives the newest end score weight 1 and multiplies the
// weight by DecayFactor for each step back.
func weightedSentiment(insights []domain.SessionInsight) float64 {
	var num, den float64
	w := 1.0
	for i := len(insights) - 1; i >= 0; i-- {
		num += w * insights[i].SentimentEnd.Score
		den += w
		w *= DecayFactor
	}
	return num / den
}

func riskReasons(p *domain.CustomerProfile, insights []domain.SessionInsight) []string {
	reasons := []string{}

	escalationRate := float64(p.TotalEscalations) / float64(p.TotalSessions)
	if escalationRate > EscalationRateThreshold {
		reasons = append(reasons, fmt.Sprintf("escalation rate %.2f exceeds %.2f", escalationRate, EscalationRateThreshold))
	}

	if p.WeightedSentiment < SentimentRiskThreshold {
		reasons = append(reasons, fmt.Sprintf("weighted sentiment %.2f is below %.2f", p.WeightedSentiment, SentimentRiskThreshold))
	}

	window := insights
	if len(window) > DriftWindow {
		window = window[len(window)-DriftWindow:]
	}
	var recent float64
	for _, in := range window {
		recent += in.SentimentDrift
	}
	if avg := recent / float64(len(window)); avg < 0 {
		reasons = append(reasons, fmt.Sprintf("sentiment declining over last %d sessions (avg drift %.2f)", len(window), avg))
	}

	streak := 0
	for i := len(insights) - 1; i >= 0 && insights[i].Resolution == domain.ResolutionUnresolved; i-- {
		streak++
	}
	if streak >= UnresolvedStreakLimit {
		reasons = append(reasons, fmt.Sprintf("%d consecutive unresolved sessions", streak))
	}

	return reasons
}

// preferredTone is the most frequent tone among resolved sessions, falling
// back to all sessions. Ties go to the tone used most recently.
func preferredTone(insights []domain.SessionInsight) string {
	if t := mostFrequentTone(insights, true); t != "" {
		return t
	}
	return mostFrequentTone(insights, false)
}

func mostFrequentTone(insights []domain.SessionInsight, resolvedOnly bool) string {
	counts := map[string]int{}
	lastUsed := map[string]int{}
	for i, in := range insights {
		if in.ToneUsed == "" || (resolvedOnly && in.Resolution != domain.ResolutionResolved) {
			continue
		}
		counts[in.ToneUsed]++
		lastUsed[in.ToneUsed] = i
	}

	best := ""
	for tone, c := range counts {
		switch {
		case best == "":
			best = tone
		case c > counts[best]:
			best = tone
		case c == counts[best] && lastUsed[tone] > lastUsed[best]:
			best = tone
		}
	}
	return best
}
