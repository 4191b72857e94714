package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInstrumentsRecord(t *testing.T) {
	t.Parallel()

	inst, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, span := inst.StartSpan(context.Background(), "cx.turn")
	inst.RecordTurn(ctx, 120*time.Millisecond, true)
	inst.RecordTool(ctx, "get_orders", "ok")
	inst.RecordHandoff(ctx, "data_gap")
	inst.RecordClose(ctx, time.Second, "escalated")
	span.End()
}

func TestNilInstrumentsAreNoops(t *testing.T) {
	t.Parallel()

	var inst *Instruments
	ctx, span := inst.StartSpan(context.Background(), "cx.turn")
	if ctx == nil || span == nil {
		t.Fatal("nil instruments must still return a context and span")
	}
	inst.RecordTurn(ctx, time.Millisecond, false)
	inst.RecordTool(ctx, "x", "ok")
	inst.RecordHandoff(ctx, "x")
	inst.RecordClose(ctx, time.Millisecond, "resolved")
	span.End()
}
