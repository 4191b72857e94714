// Package routing classifies a customer message by intent so the dialogue
// loop can pick a specialist prompt or escalate straight to a human.
package routing

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
)

// Intent is the classified purpose of a customer message.
type Intent string

// Intents. Refund and technical select a specialist prompt; escalate
// hands the session off without running the model loop.
const (
	IntentGeneral   Intent = "general"
	IntentRefund    Intent = "refund"
	IntentTechnical Intent = "technical"
	IntentEscalate  Intent = "escalate"
)

// MinConfidence is the lowest classifier confidence acted on. Anything
// below routes to the general agent.
const MinConfidence = 0.6

// ParseIntent maps a classifier label to an Intent.
func ParseIntent(s string) (Intent, bool) {
	switch i := Intent(strings.ToLower(strings.TrimSpace(s))); i {
	case IntentGeneral, IntentRefund, IntentTechnical, IntentEscalate:
		return i, true
	}
	return IntentGeneral, false
}

// Decision is one classification result.
type Decision struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Route returns the intent to act on, falling back to general below
// MinConfidence.
func (d Decision) Route() Intent {
	if d.Confidence < MinConfidence {
		return IntentGeneral
	}
	if i, ok := ParseIntent(string(d.Intent)); ok {
		return i
	}
	return IntentGeneral
}

const classifierPrompt = `You are an intent classifier for a customer service system.

Classify the customer message into exactly ONE of these intents:
- "refund": Customer wants a refund, return, money back, or compensation for a purchase.
- "technical": Customer has a technical issue, needs troubleshooting, setup help, or how-to guidance.
- "escalate": Customer explicitly asks for a manager, supervisor, or to escalate their issue.
- "general": Any other customer service inquiry (order status, account changes, general questions).

Consider the overall tone and keywords. Respond in JSON only:
{"intent": "<intent>", "confidence": <0.0-1.0>, "reasoning": "<brief explanation>"}`

// Router classifies messages with a chat model.
type Router struct {
	model  llm.Model
	logger *slog.Logger
}

// NewRouter creates a router over model.
func NewRouter(model llm.Model, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{model: model, logger: logger}
}

// Classify labels text. Model or parse failures yield a general decision
// with zero confidence; an unknown label yields general at 0.5.
func (r *Router) Classify(ctx context.Context, text string) Decision {
	resp, err := r.model.Generate(ctx, llm.Request{
		System:   classifierPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: text}},
		JSON:     true,
	})
	if err != nil {
		r.logger.Warn("intent classification failed, routing to general", "error", err)
		return Decision{Intent: IntentGeneral, Reasoning: "classification failed"}
	}

	var raw struct {
		Intent     string   `json:"intent"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp.Text)), &raw); err != nil {
		r.logger.Warn("intent classification unparseable, routing to general", "error", err)
		return Decision{Intent: IntentGeneral, Reasoning: "classification failed"}
	}

	d := Decision{Intent: IntentGeneral, Confidence: 0.5, Reasoning: raw.Reasoning}
	if raw.Confidence != nil {
		d.Confidence = clamp(*raw.Confidence)
	}
	intent, ok := ParseIntent(raw.Intent)
	if ok {
		d.Intent = intent
	} else {
		d.Confidence = 0.5
	}

	r.logger.Debug("intent classified",
		"intent", d.Intent,
		"confidence", d.Confidence,
		"route", d.Route(),
	)
	return d
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
