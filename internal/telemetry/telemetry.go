// Package telemetry holds the OpenTelemetry instruments of the CX agent.
// Instruments come from the global providers, which are no-ops until an
// exporter is installed.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/NeerajMehta15/CX-Agent-V2.0"

// Instruments holds all OTEL instruments. A nil *Instruments records nothing.
type Instruments struct {
	Tracer trace.Tracer

	Turns          metric.Int64Counter
	ToolExecutions metric.Int64Counter
	Handoffs       metric.Int64Counter
	SessionsClosed metric.Int64Counter

	TurnDuration  metric.Float64Histogram
	CloseDuration metric.Float64Histogram
}

// New creates instruments from the global tracer and meter providers.
func New() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	turns, err := meter.Int64Counter("cx.turns",
		metric.WithDescription("Dialogue turns handled"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter("cx.tool.executions",
		metric.WithDescription("Tool calls executed by the dialogue loop"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	handoffs, err := meter.Int64Counter("cx.handoffs",
		metric.WithDescription("Sessions handed off to a human agent"),
		metric.WithUnit("{handoff}"))
	if err != nil {
		return nil, err
	}

	sessionsClosed, err := meter.Int64Counter("cx.sessions.closed",
		metric.WithDescription("Sessions closed and summarized"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram("cx.turn.duration",
		metric.WithDescription("Dialogue turn duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	closeDuration, err := meter.Float64Histogram("cx.close.duration",
		metric.WithDescription("Session close pipeline duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         tracer,
		Turns:          turns,
		ToolExecutions: toolExecutions,
		Handoffs:       handoffs,
		SessionsClosed: sessionsClosed,
		TurnDuration:   turnDuration,
		CloseDuration:  closeDuration,
	}, nil
}

// StartSpan starts a span, or returns ctx and a no-op span for nil receivers.
func (i *Instruments) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if i == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return i.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordTurn counts a finished turn.
func (i *Instruments) RecordTurn(ctx context.Context, d time.Duration, handedOff bool) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("cx.handoff", handedOff))
	i.Turns.Add(ctx, 1, attrs)
	i.TurnDuration.Record(ctx, float64(d.Milliseconds()), attrs)
}

// RecordTool counts one tool execution by name and outcome.
func (i *Instruments) RecordTool(ctx context.Context, name, outcome string) {
	if i == nil {
		return
	}
	i.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cx.tool.name", name),
		attribute.String("cx.tool.outcome", outcome),
	))
}

// RecordHandoff counts a handoff by reason.
func (i *Instruments) RecordHandoff(ctx context.Context, reason string) {
	if i == nil {
		return
	}
	i.Handoffs.Add(ctx, 1, metric.WithAttributes(attribute.String("cx.handoff.reason", reason)))
}

// RecordClose counts a closed session by resolution.
func (i *Instruments) RecordClose(ctx context.Context, d time.Duration, resolution string) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("cx.resolution", resolution))
	i.SessionsClosed.Add(ctx, 1, attrs)
	i.CloseDuration.Record(ctx, float64(d.Milliseconds()), attrs)
}
