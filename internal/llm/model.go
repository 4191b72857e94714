// Package llm defines the language-model capability used by the dialogue
// loop and an OpenAI-compatible HTTP implementation of it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrModelUnavailable wraps every failure to obtain a model response.
var ErrModelUnavailable = errors.New("model unavailable")

// Role is a chat message role in the model's wire vocabulary.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the history sent to the model.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// NormalizeArguments turns the argument string of a tool call into valid
// JSON. Empty arguments become {} and malformed ones a JSON string, which
// tools reject as invalid arguments.
func NormalizeArguments(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}

// StripCodeFence unwraps a JSON reply the model put inside a markdown
// code fence.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is a single generation request.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
	// JSON asks the model for a bare JSON object response.
	JSON bool
}

// Response is the model's next assistant message.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Model generates the next assistant message, optionally requesting tool calls.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
