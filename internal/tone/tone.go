// Package tone picks the response tone for a turn from the message text and
// the customer's profile. It makes no external calls.
package tone

import (
	"strings"
	"unicode"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"golang.org/x/text/cases"
)

// Professional is the tone forced by distress or risk.
const Professional = "professional"

// DefaultDistressKeywords signal an acutely upset customer.
var DefaultDistressKeywords = []string{
	"frustrated", "angry", "furious", "lawsuit", "legal", "manager",
	"supervisor", "unacceptable", "ridiculous", "terrible", "worst",
	"scam", "horrible", "disgusting",
}

// Engine evaluates the tone rules in fixed order.
type Engine struct {
	keywords    map[string]struct{}
	defaultTone string
}

// NewEngine creates an engine. Empty keywords use DefaultDistressKeywords.
func NewEngine(defaultTone string, keywords []string) *Engine {
	if len(keywords) == 0 {
		keywords = DefaultDistressKeywords
	}
	if defaultTone == "" {
		defaultTone = "friendly"
	}
	fold := cases.Fold()
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[fold.String(strings.TrimSpace(k))] = struct{}{}
	}
	return &Engine{keywords: set, defaultTone: defaultTone}
}

// DefaultTone returns the tone used when no rule matches.
func (e *Engine) DefaultTone() string {
	return e.defaultTone
}

// Infer maps the message and optional profile to a tone label:
// distress keyword, then risk flag, then preferred tone, then the default.
func (e *Engine) Infer(message string, profile *domain.CustomerProfile) string {
	if e.HasDistress(message) {
		return Professional
	}
	if profile != nil {
		if profile.RiskFlag {
			return Professional
		}
		if profile.PreferredTone != "" {
			return profile.PreferredTone
		}
	}
	return e.defaultTone
}

// HasDistress reports whether message contains a distress keyword as a word.
func (e *Engine) HasDistress(message string) bool {
	// A Caser carries state and is not safe for concurrent use.
	words := strings.FieldsFunc(cases.Fold().String(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, ok := e.keywords[w]; ok {
			return true
		}
	}
	return false
}
