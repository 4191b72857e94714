package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := Default()
	if c.DefaultTone != "friendly" {
		t.Fatalf("DefaultTone = %q", c.DefaultTone)
	}
	for _, tone := range []string{"friendly", "professional"} {
		if !c.Has(tone) {
			t.Fatalf("expected tone %q in default catalogue", tone)
		}
	}
}

func TestSystemPromptAppendsGuardrailsAndProfile(t *testing.T) {
	t.Parallel()

	c := Default()
	p := &domain.CustomerProfile{
		CustomerID:     "1",
		TotalSessions:  3,
		LoyaltyTier:    domain.TierGold,
		RiskFlag:       true,
		RiskReasons:    []string{"escalation rate 0.67 exceeds 0.40"},
		LastResolution: domain.ResolutionEscalated,
		PreferredTone:  "empathetic",
	}

	prompt := c.SystemPrompt("professional", p)
	for _, want := range []string{"professional customer service agent", "IMPORTANT RULES:", "Loyalty tier: gold", "At risk: yes", "Last conversation outcome: escalated", "Preferred tone: empathetic"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSystemPromptUnknownToneFallsBack(t *testing.T) {
	t.Parallel()

	c := Default()
	prompt := c.SystemPrompt("pirate", nil)
	if !strings.Contains(prompt, "warm, friendly") {
		t.Fatalf("expected default tone prompt, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "CUSTOMER HISTORY") {
		t.Fatal("nil profile must not add a history block")
	}
}

func TestLoadMissingFileUsesDefault(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !c.Has("friendly") {
		t.Fatal("expected embedded catalogue")
	}
}

func TestLoadRejectsUndefinedDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	data := []byte("default_tone: calm\ntones:\n  friendly:\n    system_prompt: hi\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for undefined default tone")
	}
}

func TestSpecialistPromptLayersOverTone(t *testing.T) {
	t.Parallel()

	c := Default()
	for _, name := range []string{"refund", "technical"} {
		if _, ok := c.Specialists[name]; !ok {
			t.Fatalf("expected specialist %q in default catalogue", name)
		}
	}

	refund := c.SpecialistPrompt("refund", "empathetic", nil)
	toneAt := strings.Index(refund, "patient, empathetic")
	specialistAt := strings.Index(refund, "refund specialist")
	rulesAt := strings.Index(refund, "IMPORTANT RULES:")
	if toneAt < 0 || specialistAt < toneAt || rulesAt < specialistAt {
		t.Fatalf("expected tone, specialist, then rules:\n%s", refund)
	}
	if !strings.Contains(refund, "flag_refund") {
		t.Fatalf("refund specialist should mention flag_refund:\n%s", refund)
	}

	if got, want := c.SpecialistPrompt("general", "friendly", nil), c.SystemPrompt("friendly", nil); got != want {
		t.Fatalf("unknown specialist changed the prompt:\n%s", got)
	}
}
