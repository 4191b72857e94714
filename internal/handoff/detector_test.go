package handoff

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

func TestSimilarity(t *testing.T) {
	t.Parallel()

	d := NewDetector(0, false)
	cases := []struct {
		a, b string
		want float64
	}{
		{"Where is my order", "Where is my order now", 0.8},
		{"Where is my order?", "where IS my order", 1.0},
		{"refund please", "track my parcel", 0},
		{"", "anything", 0},
		{"!!!", "???", 0},
	}
	for _, tc := range cases {
		if got := d.Similarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimilarityIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()

	d := NewDetector(0, false)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if got := d.Similarity("Where is my ORDER?", "where is my order"); got != 1 {
					t.Errorf("Similarity = %v, want 1", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDecideRepeatedIntentThreshold(t *testing.T) {
	t.Parallel()

	d := NewDetector(5, false)
	if got := d.Decide(Signals{Current: "Where is my order now", Previous: "Where is my order"}); got != domain.HandoffNone {
		t.Fatalf("0.8 overlap should not hand off, got %q", got)
	}
	if got := d.Decide(Signals{Current: "Where is my order", Previous: "Where is my order"}); got != domain.HandoffRepeatedIntent {
		t.Fatalf("identical repeat should hand off, got %q", got)
	}
	if got := d.Decide(Signals{Current: "Where is my order"}); got != domain.HandoffNone {
		t.Fatalf("first message should not hand off, got %q", got)
	}
}

func TestDecidePrecedence(t *testing.T) {
	t.Parallel()

	d := NewDetector(5, true)
	same := "where is my order"
	cases := []struct {
		name string
		s    Signals
		want domain.HandoffReason
	}{
		{"iterations first", Signals{Iterations: 6, DataGap: true, Current: same, Previous: same, Ungrounded: true}, domain.HandoffMaxIterations},
		{"at the limit is fine", Signals{Iterations: 5}, domain.HandoffNone},
		{"data gap beats repeat", Signals{Iterations: 1, DataGap: true, Current: same, Previous: same}, domain.HandoffDataGap},
		{"repeat beats grounding", Signals{Current: same, Previous: same, Ungrounded: true}, domain.HandoffRepeatedIntent},
		{"grounding last", Signals{Ungrounded: true}, domain.HandoffHallucinationRisk},
	}
	for _, tc := range cases {
		if got := d.Decide(tc.s); got != tc.want {
			t.Errorf("%s: Decide = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestGroundingDisabled(t *testing.T) {
	t.Parallel()

	d := NewDetector(5, false)
	if got := d.Decide(Signals{Ungrounded: true}); got != domain.HandoffNone {
		t.Fatalf("grounding disabled but got %q", got)
	}
}

func TestGrounded(t *testing.T) {
	t.Parallel()

	evidence := `{"result":[{"id":42,"product":"Lamp","amount":1200.5,"status":"shipped"}]}`
	cases := []struct {
		answer string
		want   bool
	}{
		{"Your order #42 for $1,200.50 has shipped.", true},
		{"Your order has shipped.", true},
		{"Your order #42 will arrive in 3 days.", false},
		{"You were charged $1,250.", false},
		{"You asked about order 7, and order 42 shipped.", true},
	}
	for _, tc := range cases {
		if got := Grounded(tc.answer, evidence, "what about order 7?"); got != tc.want {
			t.Errorf("Grounded(%q) = %v, want %v", tc.answer, got, tc.want)
		}
	}
}

func TestTransitionMessages(t *testing.T) {
	t.Parallel()

	if TransitionMessage(domain.HandoffModelUnavailable) != FallbackMessage {
		t.Fatal("model unavailable should use the fallback message")
	}
	if TransitionMessage(domain.HandoffAgentRequested) != "Connecting you with a human agent." {
		t.Fatal("unexpected default transition message")
	}
	seen := map[string]bool{}
	for _, r := range []domain.HandoffReason{domain.HandoffRepeatedIntent, domain.HandoffDataGap, domain.HandoffHallucinationRisk, domain.HandoffCustomerRequested} {
		msg := TransitionMessage(r)
		if seen[msg] {
			t.Fatalf("duplicate message for %q", r)
		}
		seen[msg] = true
	}
	if !strings.Contains(TransitionMessage(domain.HandoffCustomerRequested), "supervisor") {
		t.Fatal("customer-requested escalation should acknowledge the supervisor request")
	}
}
