// Package tools implements the closed set of tools the dialogue loop may
// call, together with the role policy that gates them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/llm"
)

var (
	// ErrPermissionDenied is returned when the active role may not use a tool.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidArguments is returned when tool arguments fail validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrUnknownTool is returned for a tool name outside the registered set.
	// It wraps ErrInvalidArguments so the model gets a correction round.
	ErrUnknownTool = fmt.Errorf("%w: unknown tool", ErrInvalidArguments)

	// ErrNotFound is returned when a write targets a missing record.
	ErrNotFound = errors.New("record not found")
)

// Env carries per-call session context into a tool.
type Env struct {
	SessionID string
	// LinkCustomer attaches a customer identity to the calling session.
	LinkCustomer func(customerID string)
}

// Result is the outcome of a successful tool execution. Empty marks a
// lookup that found nothing and feeds the data-gap signal.
type Result struct {
	Data    any
	Empty   bool
	Message string
}

// Content renders the result as the JSON body of a tool message.
func (r Result) Content() string {
	body := map[string]any{"result": r.Data}
	if r.Message != "" {
		body["message"] = r.Message
	}
	b, err := json.Marshal(body)
	if err != nil {
		return `{"error":"unencodable result"}`
	}
	return string(b)
}

// ErrorContent renders a tool error as the JSON body of a tool message.
func ErrorContent(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// Tool is one callable capability.
type Tool interface {
	Name() string
	Definition() llm.ToolDefinition
	// Requires lists the permissions a role needs to call the tool.
	Requires() []Permission
	Execute(ctx context.Context, env Env, args json.RawMessage) (Result, error)
}

// Executor dispatches tool calls for one role.
type Executor struct {
	role  Role
	tools map[string]Tool
}

// NewExecutor creates an executor for role over the given tools.
func NewExecutor(role Role, tools ...Tool) *Executor {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &Executor{role: role, tools: m}
}

// Role returns the executor's active role.
func (e *Executor) Role() Role {
	return e.role
}

// Definitions returns the tools the active role may call, sorted by name.
func (e *Executor) Definitions() []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, t := range e.tools {
		if Allowed(e.role, t.Requires()...) {
			defs = append(defs, t.Definition())
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs one tool call after the policy check.
func (e *Executor) Execute(ctx context.Context, env Env, call llm.ToolCall) (Result, error) {
	t, ok := e.tools[call.Name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	if !Allowed(e.role, t.Requires()...) {
		return Result{}, fmt.Errorf("%w: role %s cannot call %s", ErrPermissionDenied, e.role, call.Name)
	}
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return Result{}, fmt.Errorf("%w: arguments are not valid JSON", ErrInvalidArguments)
	}
	return t.Execute(ctx, env, call.Arguments)
}
