// Package handoff decides when a conversation must move to a human agent and
// fans the resulting events out to the human-agent side.
package handoff

import "github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"

const (
	// DefaultMaxIterations is the number of tool rounds a turn may use.
	DefaultMaxIterations = 5

	// RepeatThreshold is the word-set overlap above which two customer
	// messages count as the same request.
	RepeatThreshold = 0.85
)

// Signals are the inputs of one detector evaluation.
type Signals struct {
	Iterations int
	// DataGap is set when the most recent tool result was empty.
	DataGap  bool
	Current  string
	Previous string
	// Ungrounded is set when the final answer failed the grounding check.
	Ungrounded bool
}

// Detector evaluates the handoff rules in precedence order.
type Detector struct {
	maxIterations  int
	groundingCheck bool
}

// NewDetector creates a detector. maxIterations <= 0 uses the default.
func NewDetector(maxIterations int, groundingCheck bool) *Detector {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Detector{
		maxIterations:  maxIterations,
		groundingCheck: groundingCheck,
	}
}

// MaxIterations returns the tool-round limit.
func (d *Detector) MaxIterations() int {
	return d.maxIterations
}

// GroundingEnabled reports whether hallucination risk is evaluated.
func (d *Detector) GroundingEnabled() bool {
	return d.groundingCheck
}

// Decide returns the first matching reason, or HandoffNone.
func (d *Detector) Decide(s Signals) domain.HandoffReason {
	switch {
	case s.Iterations > d.maxIterations:
		return domain.HandoffMaxIterations
	case s.DataGap:
		return domain.HandoffDataGap
	case d.Repeated(s.Current, s.Previous):
		return domain.HandoffRepeatedIntent
	case d.groundingCheck && s.Ungrounded:
		return domain.HandoffHallucinationRisk
	}
	return domain.HandoffNone
}

// Repeated reports whether current restates previous.
func (d *Detector) Repeated(current, previous string) bool {
	if previous == "" || current == "" {
		return false
	}
	return d.Similarity(current, previous) > RepeatThreshold
}
