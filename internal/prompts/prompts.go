// Package prompts builds the dialogue loop's system prompt from a YAML tone
// catalogue, guardrail rules and an optional customer-profile summary.
package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default_prompts.yaml
var defaultPrompts []byte

// Tone is one entry of the tone catalogue.
type Tone struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// Specialist is a domain persona layered over the tone prompt.
type Specialist struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// Catalog holds the configured tones, specialists and guardrails.
type Catalog struct {
	DefaultTone string                `yaml:"default_tone"`
	Tones       map[string]Tone       `yaml:"tones"`
	Specialists map[string]Specialist `yaml:"specialists"`
	Guardrails  []string              `yaml:"guardrails"`
}

// Default returns the embedded catalogue.
func Default() *Catalog {
	c, err := Parse(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return c
}

// Load reads a catalogue from path, falling back to the embedded default
// when the file does not exist.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Prompts file not found, using embedded defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalogue.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if len(c.Tones) == 0 {
		return nil, errors.New("no tones defined")
	}
	if c.DefaultTone == "" {
		c.DefaultTone = "friendly"
	}
	if _, ok := c.Tones[c.DefaultTone]; !ok {
		return nil, fmt.Errorf("default tone %q is not defined", c.DefaultTone)
	}
	return &c, nil
}

// Has reports whether tone is defined.
func (c *Catalog) Has(tone string) bool {
	_, ok := c.Tones[tone]
	return ok
}

// Names returns the defined tone names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Tones))
	for name := range c.Tones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemPrompt assembles the prompt for tone. Unknown tones fall back to
// the default tone. A non-nil profile appends a history summary.
func (c *Catalog) SystemPrompt(tone string, profile *domain.CustomerProfile) string {
	return c.SpecialistPrompt("", tone, profile)
}

// SpecialistPrompt is SystemPrompt with the named specialist's instructions
// appended after the tone. An unknown or empty specialist adds nothing.
func (c *Catalog) SpecialistPrompt(specialist, tone string, profile *domain.CustomerProfile) string {
	t, ok := c.Tones[tone]
	if !ok {
		t = c.Tones[c.DefaultTone]
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.SystemPrompt))

	if sp, ok := c.Specialists[specialist]; ok && strings.TrimSpace(sp.SystemPrompt) != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(sp.SystemPrompt))
	}

	if len(c.Guardrails) > 0 {
		b.WriteString("\n\nIMPORTANT RULES:")
		for _, g := range c.Guardrails {
			b.WriteString("\n- ")
			b.WriteString(g)
		}
	}

	if summary := ProfileSummary(profile); summary != "" {
		b.WriteString("\n\n")
		b.WriteString(summary)
	}
	return b.String()
}

// ProfileSummary renders the compact history block embedded in prompts.
func ProfileSummary(p *domain.CustomerProfile) string {
	if p == nil || p.TotalSessions == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("CUSTOMER HISTORY:")
	fmt.Fprintf(&b, "\n- Loyalty tier: %s", p.LoyaltyTier)
	fmt.Fprintf(&b, "\n- Previous conversations: %d", p.TotalSessions)
	if p.RiskFlag {
		fmt.Fprintf(&b, "\n- At risk: yes (%s). Be especially careful and attentive.", strings.Join(p.RiskReasons, "; "))
	} else {
		b.WriteString("\n- At risk: no")
	}
	if p.LastResolution != "" {
		fmt.Fprintf(&b, "\n- Last conversation outcome: %s", p.LastResolution)
	}
	if p.PreferredTone != "" {
		fmt.Fprintf(&b, "\n- Preferred tone: %s", p.PreferredTone)
	}
	return b.String()
}
