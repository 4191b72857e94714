package handoff

import (
	"errors"
	"testing"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
)

func TestQueueLifecycle(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Add("s1", "7", domain.HandoffDataGap)
	q.Add("s2", "", domain.HandoffRepeatedIntent)
	q.Add("s1", "7", domain.HandoffMaxIterations)

	pending := q.Pending()
	if len(pending) != 2 || pending[0].SessionID != "s1" || pending[0].Reason != domain.HandoffDataGap {
		t.Fatalf("Pending = %+v", pending)
	}

	h, err := q.Accept("s1", "maria")
	if err != nil || h.Status != StatusAccepted || h.AcceptedAt == nil {
		t.Fatalf("Accept = %+v, %v", h, err)
	}
	if _, err := q.Accept("s1", "maria"); err != nil {
		t.Fatalf("re-accept by same agent: %v", err)
	}
	if _, err := q.Accept("s1", "li"); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
	if _, err := q.Accept("nope", "li"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if got := q.Pending(); len(got) != 1 || got[0].SessionID != "s2" {
		t.Fatalf("Pending after accept = %+v", got)
	}

	q.Remove("s2")
	if _, ok := q.Get("s2"); ok {
		t.Fatal("removed handoff still present")
	}
}
