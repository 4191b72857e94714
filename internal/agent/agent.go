// Package agent runs customer conversations: the dialogue loop that drives
// the model and its tools, and the service that owns sessions, handoffs and
// session close.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/handoff"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/prompts"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/routing"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/session"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/telemetry"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/tone"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/tools"
)

// refusalContent replaces a denied tool result in the model history.
const refusalContent = "This action is not permitted for your role. Tell the customer you cannot do this and offer a human agent."

const agentPrefix = "[Human agent] "

// Classifier labels a customer message with an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) routing.Decision
}

// Options configures an Agent. Model is required. A nil Router answers
// every turn as the general agent.
type Options struct {
	Model      llm.Model
	Tools      *tools.Executor
	Detector   *handoff.Detector
	Tones      *tone.Engine
	Prompts    *prompts.Catalog
	Router     Classifier
	RetryDelay time.Duration
	Telemetry  *telemetry.Instruments
	Logger     *slog.Logger
}

// Agent is the dialogue loop. It holds no per-session state.
type Agent struct {
	model      llm.Model
	tools      *tools.Executor
	detector   *handoff.Detector
	tones      *tone.Engine
	prompts    *prompts.Catalog
	router     Classifier
	retryDelay time.Duration
	inst       *telemetry.Instruments
	logger     *slog.Logger
}

// New creates an Agent, filling optional collaborators with defaults.
func New(opts Options) *Agent {
	a := &Agent{
		model:      opts.Model,
		tools:      opts.Tools,
		detector:   opts.Detector,
		tones:      opts.Tones,
		prompts:    opts.Prompts,
		router:     opts.Router,
		retryDelay: opts.RetryDelay,
		inst:       opts.Telemetry,
		logger:     opts.Logger,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.detector == nil {
		a.detector = handoff.NewDetector(handoff.DefaultMaxIterations, false)
	}
	if a.prompts == nil {
		a.prompts = prompts.Default()
	}
	if a.tones == nil {
		a.tones = tone.NewEngine(a.prompts.DefaultTone, nil)
	}
	if a.tools == nil {
		a.tools = tools.NewExecutor(tools.RoleCustomerAI)
	}
	return a
}

// Turn is the outcome of one customer message.
type Turn struct {
	Text       string
	Tone       string
	Specialist string
	Reason     domain.HandoffReason
	Rounds     int
}

// HandedOff reports whether the turn escalated.
func (t Turn) HandedOff() bool {
	return t.Reason != domain.HandoffNone
}

type stepKind int

const (
	stepFinal stepKind = iota
	stepTools
	stepFailed
)

type step struct {
	kind stepKind
	resp llm.Response
	err  error
}

// turnState is the scratch state of one runTurn call.
type turnState struct {
	rounds    int
	partial   string
	evidence  []string
	usedTools bool
	corrected bool
}

// runTurn answers text on s. It must run inside s.Do so turns never
// overlap. A non-nil error means the turn was abandoned (ctx cancelled);
// every other failure is reported as a handoff.
func (a *Agent) runTurn(ctx context.Context, s *session.Session, text string, profile *domain.CustomerProfile, toneOverride string) (Turn, error) {
	previous := s.LastCustomerMessage()
	s.AppendMessage(domain.RoleCustomer, text)

	toneName := toneOverride
	if toneName == "" || !a.prompts.Has(toneName) {
		toneName = a.tones.Infer(text, profile)
	}
	s.SetTone(toneName)

	if reason := a.detector.Decide(handoff.Signals{Current: text, Previous: previous}); reason != domain.HandoffNone {
		return a.escalate(ctx, s, reason, handoff.TransitionMessage(reason), toneName, 0), nil
	}

	specialist := ""
	if a.router != nil {
		d := a.router.Classify(ctx, text)
		route := d.Route()
		if route == routing.IntentEscalate {
			reason := domain.HandoffCustomerRequested
			return a.escalate(ctx, s, reason, handoff.TransitionMessage(reason), toneName, 0), nil
		}
		specialist = string(route)
		s.SetSpecialist(specialist)
		a.logger.Info("turn routed",
			"session_id", s.ID(),
			"specialist", specialist,
			"intent", d.Intent,
			"confidence", d.Confidence,
		)
	}

	req := llm.Request{
		System:   a.prompts.SpecialistPrompt(specialist, toneName, profile),
		Messages: history(s.Messages()),
		Tools:    a.tools.Definitions(),
	}
	st := &turnState{evidence: []string{text}}

	for {
		next := a.generate(ctx, req)
		switch next.kind {
		case stepFailed:
			if ctx.Err() != nil {
				return Turn{}, ctx.Err()
			}
			a.logger.Error("model unavailable, handing off",
				"session_id", s.ID(),
				"error", next.err,
			)
			return a.escalate(ctx, s, domain.HandoffModelUnavailable, handoff.FallbackMessage, toneName, st.rounds), nil

		case stepFinal:
			answer := next.resp.Text
			ungrounded := st.usedTools && !handoff.Grounded(answer, st.evidence...)
			if reason := a.detector.Decide(handoff.Signals{Iterations: st.rounds, Ungrounded: ungrounded}); reason != domain.HandoffNone {
				return a.escalate(ctx, s, reason, handoff.TransitionMessage(reason), toneName, st.rounds), nil
			}
			s.AppendMessage(domain.RoleAssistant, answer)
			s.SetIterations(st.rounds)
			return Turn{Text: answer, Tone: toneName, Specialist: specialist, Rounds: st.rounds}, nil

		case stepTools:
			st.rounds++
			if strings.TrimSpace(next.resp.Text) != "" {
				st.partial = next.resp.Text
			}
			if reason := a.detector.Decide(handoff.Signals{Iterations: st.rounds}); reason == domain.HandoffMaxIterations {
				msg := st.partial
				if msg == "" {
					msg = handoff.TransitionMessage(reason)
				}
				return a.escalate(ctx, s, reason, msg, toneName, st.rounds), nil
			}

			req.Messages = append(req.Messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   next.resp.Text,
				ToolCalls: next.resp.ToolCalls,
			})
			dataGap, err := a.runTools(ctx, s, next.resp.ToolCalls, st, &req)
			if err != nil {
				if ctx.Err() != nil {
					return Turn{}, ctx.Err()
				}
				a.logger.Error("tool execution failed, handing off",
					"session_id", s.ID(),
					"error", err,
				)
				reason := domain.HandoffInternalError
				return a.escalate(ctx, s, reason, handoff.TransitionMessage(reason), toneName, st.rounds), nil
			}
			if reason := a.detector.Decide(handoff.Signals{Iterations: st.rounds, DataGap: dataGap}); reason != domain.HandoffNone {
				return a.escalate(ctx, s, reason, handoff.TransitionMessage(reason), toneName, st.rounds), nil
			}
		}
	}
}

// generate calls the model, retrying once after retryDelay.
func (a *Agent) generate(ctx context.Context, req llm.Request) step {
	resp, err := a.model.Generate(ctx, req)
	if err != nil {
		a.logger.Warn("model call failed, retrying", "error", err, "delay", a.retryDelay)
		timer := time.NewTimer(a.retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return step{kind: stepFailed, err: ctx.Err()}
		}
		resp, err = a.model.Generate(ctx, req)
		if err != nil {
			return step{kind: stepFailed, err: err}
		}
	}
	if len(resp.ToolCalls) > 0 {
		return step{kind: stepTools, resp: resp}
	}
	return step{kind: stepFinal, resp: resp}
}

// runTools executes one round of tool calls, appending each result to the
// request and the session. It reports whether the round hit a data gap.
// Only unexpected failures are returned as errors.
func (a *Agent) runTools(ctx context.Context, s *session.Session, calls []llm.ToolCall, st *turnState, req *llm.Request) (bool, error) {
	env := tools.Env{
		SessionID:    s.ID(),
		LinkCustomer: func(id string) { s.LinkCustomer(id) },
	}

	dataGap := false
	invalidThisRound := false
	for _, call := range calls {
		res, err := a.tools.Execute(ctx, env, call)

		var (
			content string
			outcome domain.ToolOutcome
		)
		switch {
		case err == nil && res.Empty:
			outcome, content = domain.ToolEmpty, res.Content()
			dataGap = true
		case err == nil:
			outcome, content = domain.ToolOK, res.Content()
			st.usedTools = true
			st.evidence = append(st.evidence, content)
		case errors.Is(err, tools.ErrPermissionDenied):
			outcome, content = domain.ToolDenied, tools.ErrorContent(refusalContent)
			a.logger.Warn("tool call denied", "session_id", s.ID(), "tool", call.Name, "role", a.tools.Role())
		case errors.Is(err, tools.ErrInvalidArguments):
			outcome, content = domain.ToolInvalidArguments, tools.ErrorContent(err.Error())
			invalidThisRound = true
			if st.corrected {
				dataGap = true
			}
		case errors.Is(err, tools.ErrNotFound):
			outcome, content = domain.ToolFailed, tools.ErrorContent(err.Error())
		default:
			a.record(ctx, s, call, domain.ToolFailed)
			return false, err
		}

		a.record(ctx, s, call, outcome)
		s.AppendMessage(domain.RoleTool, content)
		req.Messages = append(req.Messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	if invalidThisRound {
		st.corrected = true
	}
	return dataGap, nil
}

func (a *Agent) record(ctx context.Context, s *session.Session, call llm.ToolCall, outcome domain.ToolOutcome) {
	s.RecordTool(domain.ToolCallRecord{
		Name:      call.Name,
		Arguments: call.Arguments,
		Outcome:   outcome,
		At:        time.Now().UTC(),
	})
	a.inst.RecordTool(ctx, call.Name, string(outcome))
	a.logger.Debug("tool executed", "session_id", s.ID(), "tool", call.Name, "outcome", outcome)
}

// escalate marks s handed off and appends msg as the assistant reply.
func (a *Agent) escalate(ctx context.Context, s *session.Session, reason domain.HandoffReason, msg, toneName string, rounds int) Turn {
	s.MarkHandedOff(reason)
	s.SetIterations(rounds)
	s.AppendMessage(domain.RoleAssistant, msg)
	a.inst.RecordHandoff(ctx, string(reason))

	_, span := a.inst.StartSpan(ctx, "cx.handoff", attribute.String("cx.handoff_reason", string(reason)))
	span.End()

	a.logger.Info("session handed off",
		"session_id", s.ID(),
		"reason", reason,
		"rounds", rounds,
	)
	return Turn{Text: msg, Tone: toneName, Reason: reason, Rounds: rounds}
}

// history converts a transcript into model messages. Tool entries are
// dropped because their call ids only live within a turn.
func history(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleCustomer:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case domain.RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case domain.RoleAgent:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: agentPrefix + m.Content})
		}
	}
	return out
}
