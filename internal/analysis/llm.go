package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
)

const sentimentPrompt = `You are a sentiment analysis expert. Analyze the customer's sentiment in the message.

Respond with a JSON object containing:
- score: A number from -1.0 (very negative) to 1.0 (very positive)
- label: One of "negative", "neutral", or "positive"
- confidence: A number from 0.0 to 1.0 indicating your confidence

Consider tone, word choice, punctuation (e.g., caps, exclamation marks), and overall context.

Respond ONLY with the JSON object, no additional text.`

// LLMScorer asks a chat model for a JSON sentiment verdict.
type LLMScorer struct {
	model llm.Model
}

// NewLLMScorer creates a scorer over model.
func NewLLMScorer(model llm.Model) *LLMScorer {
	return &LLMScorer{model: model}
}

// Score implements Scorer.
func (s *LLMScorer) Score(ctx context.Context, text string) (domain.Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.NeutralSentiment(), nil
	}
	resp, err := s.model.Generate(ctx, llm.Request{
		System:   sentimentPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Analyze the sentiment of this customer message:\n\n" + text}},
		JSON:     true,
	})
	if err != nil {
		return domain.Sentiment{}, fmt.Errorf("score sentiment: %w", err)
	}

	out := domain.NeutralSentiment()
	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp.Text)), &out); err != nil {
		return domain.Sentiment{}, fmt.Errorf("parse sentiment response: %w", err)
	}
	return Normalize(out), nil
}

var _ Scorer = (*LLMScorer)(nil)
