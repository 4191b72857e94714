package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

// Message roles.
const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleAgent marks replies written by a human agent after handoff.
	RoleAgent Role = "agent"
)

// Message is a single entry in a session transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolCallRecord is one executed tool call in a session's tool log.
type ToolCallRecord struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Outcome   ToolOutcome     `json:"outcome"`
	At        time.Time       `json:"at"`
}

// ToolOutcome summarizes how a tool call ended.
type ToolOutcome string

// Tool outcomes.
const (
	ToolOK               ToolOutcome = "ok"
	ToolEmpty            ToolOutcome = "empty"
	ToolDenied           ToolOutcome = "denied"
	ToolInvalidArguments ToolOutcome = "invalid_arguments"
	ToolFailed           ToolOutcome = "failed"
)

// MarshalJSON encodes arguments that are not valid JSON as a JSON string,
// so a malformed call from the model never breaks the tool log.
func (r ToolCallRecord) MarshalJSON() ([]byte, error) {
	type plain ToolCallRecord
	p := plain(r)
	switch {
	case len(p.Arguments) == 0:
		p.Arguments = nil
	case !json.Valid(p.Arguments):
		quoted, err := json.Marshal(string(p.Arguments))
		if err != nil {
			return nil, err
		}
		p.Arguments = quoted
	}
	return json.Marshal(p)
}

// Succeeded reports whether the call returned usable data.
func (r ToolCallRecord) Succeeded() bool {
	return r.Outcome == ToolOK
}

// HandoffReason names why a session was transferred to a human agent.
type HandoffReason string

// Handoff reasons. The first four come from the handoff detector; the rest
// are forced by the dialogue loop, the intent router or a human agent.
const (
	HandoffNone              HandoffReason = ""
	HandoffMaxIterations     HandoffReason = "max_iterations"
	HandoffDataGap           HandoffReason = "data_gap"
	HandoffRepeatedIntent    HandoffReason = "repeated_intent"
	HandoffHallucinationRisk HandoffReason = "hallucination_risk"
	HandoffModelUnavailable  HandoffReason = "model_unavailable"
	HandoffInternalError     HandoffReason = "internal_error"
	HandoffAgentRequested    HandoffReason = "agent_requested"
	HandoffCustomerRequested HandoffReason = "customer_requested_escalation"
)

// SessionSnapshot is an immutable copy of a session's state, taken for
// the close pipeline and for handoff context.
type SessionSnapshot struct {
	SessionID     string           `json:"session_id"`
	CustomerID    string           `json:"customer_id,omitempty"`
	Messages      []Message        `json:"messages"`
	ToolLog       []ToolCallRecord `json:"tool_log"`
	PrimaryIntent string           `json:"primary_intent,omitempty"`
	Tone          string           `json:"tone"`
	Specialist    string           `json:"specialist,omitempty"`
	HandedOff     bool             `json:"handed_off"`
	HandoffReason HandoffReason    `json:"handoff_reason,omitempty"`
	Iterations    int              `json:"iterations"`
	CreatedAt     time.Time        `json:"created_at"`
	LastActivity  time.Time        `json:"last_activity"`
}

// CustomerMessages returns the customer-authored messages in order.
func (s *SessionSnapshot) CustomerMessages() []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Role == RoleCustomer {
			out = append(out, m)
		}
	}
	return out
}

// LastAssistantMessage returns the content of the final assistant message,
// or "" when the assistant never replied.
func (s *SessionSnapshot) LastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// FormatCustomerID converts a user record id into a customer identity.
func FormatCustomerID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// ParseCustomerID converts a customer identity back into a user record id.
func ParseCustomerID(customerID string) (int64, bool) {
	id, err := strconv.ParseInt(customerID, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
